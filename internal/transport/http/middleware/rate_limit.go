package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dhruv-khokhar/ChatterNet/internal/ratelimit"
)

// IdentifierFunc extracts the identity a rule is counted against.
type IdentifierFunc func(*gin.Context) (string, bool)

// RateLimitRule binds a limiter rule to the request identity it counts.
// Paths, when set, restricts the rule to those exact request paths.
type RateLimitRule struct {
	ratelimit.Rule
	Identifier IdentifierFunc
	Paths      []string
}

func (r RateLimitRule) applies(path string) bool {
	if len(r.Paths) == 0 {
		return true
	}
	for _, p := range r.Paths {
		if p == path {
			return true
		}
	}
	return false
}

// ClientIPIdentifier counts requests per client IP.
func ClientIPIdentifier() IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		ip := c.ClientIP()
		return ip, ip != ""
	}
}

// RateLimiter enforces rules in front of service handlers.
type RateLimiter struct {
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

func NewRateLimiter(limiter *ratelimit.Limiter, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{limiter: limiter, logger: logger}
}

// RateLimit rejects a request with 429 as soon as one applicable rule is
// exceeded. Counter store failures let the request through.
func (rl *RateLimiter) RateLimit(rules ...RateLimitRule) gin.HandlerFunc {
	active := make([]RateLimitRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Identifier == nil || !rule.Valid() {
			continue
		}
		active = append(active, rule)
	}

	return func(c *gin.Context) {
		if rl.limiter == nil || len(active) == 0 {
			c.Next()
			return
		}

		var reported *ratelimit.Result
		for _, rule := range active {
			if !rule.applies(c.Request.URL.Path) {
				continue
			}
			identity, ok := rule.Identifier(c)
			if !ok {
				continue
			}

			res, err := rl.limiter.Allow(c.Request.Context(), rule.Rule, identity)
			if err != nil {
				rl.logger.Warn("rate limit check failed, allowing request",
					zap.String("rule", rule.Name),
					zap.String("trace_id", GetTraceID(c)),
					zap.Error(err),
				)
				continue
			}

			if !res.Allowed {
				rl.logger.Warn("rate limit exceeded",
					zap.String("rule", rule.Name),
					zap.String("path", c.Request.URL.Path),
					zap.String("trace_id", GetTraceID(c)),
				)
				ratelimit.WriteHeaders(c.Writer.Header(), res)
				c.AbortWithStatusJSON(http.StatusTooManyRequests, ratelimit.Rejection())
				return
			}

			if reported == nil || ratelimit.Tighter(*reported, res) {
				snapshot := res
				reported = &snapshot
			}
		}

		if reported != nil {
			ratelimit.WriteHeaders(c.Writer.Header(), *reported)
		}
		c.Next()
	}
}
