package gateway

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/dhruv-khokhar/ChatterNet/internal/ratelimit"
)

// RateLimitStage applies the global per-IP rule to every request and the
// sensitive rule to the configured paths. Store failures let the request
// through.
type RateLimitStage struct {
	limiter        *ratelimit.Limiter
	global         ratelimit.Rule
	sensitive      ratelimit.Rule
	sensitivePaths map[string]struct{}
	logger         *zap.Logger
}

func NewRateLimitStage(limiter *ratelimit.Limiter, global, sensitive ratelimit.Rule, sensitivePaths []string, logger *zap.Logger) *RateLimitStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	paths := make(map[string]struct{}, len(sensitivePaths))
	for _, p := range sensitivePaths {
		paths[normalizePath(p)] = struct{}{}
	}
	return &RateLimitStage{
		limiter:        limiter,
		global:         global,
		sensitive:      sensitive,
		sensitivePaths: paths,
		logger:         logger,
	}
}

func (s *RateLimitStage) Name() string { return "rate_limit" }

func (s *RateLimitStage) Run(ex *Exchange) Result {
	path := normalizePath(ex.Request.URL.Path)

	checks := []struct {
		rule     ratelimit.Rule
		identity string
	}{{s.global, ex.ClientIP}}
	if _, ok := s.sensitivePaths[path]; ok {
		checks = append(checks, struct {
			rule     ratelimit.Rule
			identity string
		}{s.sensitive, path + "|" + ex.ClientIP})
	}

	var reported *ratelimit.Result
	for _, check := range checks {
		if !check.rule.Valid() {
			continue
		}
		res, err := s.limiter.Allow(ex.Request.Context(), check.rule, check.identity)
		if err != nil {
			s.logger.Warn("rate limit store unavailable, allowing request",
				zap.String("rule", check.rule.Name),
				zap.String("trace_id", ex.TraceID),
				zap.Error(err),
			)
			continue
		}
		if !res.Allowed {
			s.logger.Warn("rate limit exceeded",
				zap.String("rule", check.rule.Name),
				zap.String("path", path),
				zap.String("trace_id", ex.TraceID),
			)
			ratelimit.WriteHeaders(ex.Writer.Header(), res)
			return Terminal(http.StatusTooManyRequests, ratelimit.Rejection())
		}
		if reported == nil || ratelimit.Tighter(*reported, res) {
			snapshot := res
			reported = &snapshot
		}
	}

	if reported != nil {
		ratelimit.WriteHeaders(ex.Writer.Header(), *reported)
	}
	return Continue()
}

func normalizePath(p string) string {
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}
