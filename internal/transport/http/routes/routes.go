package routes

import (
	"context"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dhruv-khokhar/ChatterNet/internal/gateway"
	"github.com/dhruv-khokhar/ChatterNet/internal/infra/config"
	"github.com/dhruv-khokhar/ChatterNet/internal/ratelimit"
	"github.com/dhruv-khokhar/ChatterNet/internal/transport/http/handlers"
	"github.com/dhruv-khokhar/ChatterNet/internal/transport/http/middleware"
)

// HandlerSet groups the surfaces one process serves. Nil entries are not
// mounted, so every service binary registers only its own API.
type HandlerSet struct {
	Auth    *handlers.AuthHandler
	Posts   *handlers.PostHandler
	Media   *handlers.MediaHandler
	Search  *handlers.SearchHandler
	Gateway *gateway.Pipeline
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	Handlers    HandlerSet
	RateLimiter *middleware.RateLimiter
	Registry    *prometheus.Registry
	Database    DatabaseChecker
	Cache       CacheChecker
	Bus         BusChecker
	Objects     CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// BusChecker exposes readiness behaviour for the broker connection.
type BusChecker interface {
	Ping(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) (*gin.Engine, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("routes: config is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if deps.Registry != nil {
		registerer, gatherer = deps.Registry, deps.Registry
	}

	metrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{
		Registerer: registerer,
		Namespace:  metricNamespace(deps.Config.App.Name),
	})
	if err != nil {
		return nil, fmt.Errorf("http metrics: %w", err)
	}

	r := gin.New()
	if err := r.SetTrustedProxies(deps.Config.App.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Tracing(deps.Config.App.Name))
	r.Use(middleware.Logger(deps.Logger))
	r.Use(metrics.Handler())
	r.Use(middleware.SecureHeaders())
	if deps.Handlers.Gateway != nil {
		r.Use(middleware.CORS(deps.Config.Gateway.AllowedOrigins))
	}

	healthHandler := handlers.NewHealthHandler(readinessChecks(deps)...)
	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	requireUser := middleware.RequireUserHeader(deps.Logger)

	if h := deps.Handlers.Auth; h != nil {
		authGroup := api.Group("/auth")
		global, register := identityRateLimits(deps)
		if global != nil {
			authGroup.Use(global)
		}
		if register != nil {
			h.RegisterRoutes(authGroup, register)
		} else {
			h.RegisterRoutes(authGroup)
		}
	}

	if h := deps.Handlers.Posts; h != nil {
		h.RegisterRoutes(api.Group("/posts", requireUser))
	}

	if h := deps.Handlers.Media; h != nil {
		h.RegisterRoutes(api.Group("/media", requireUser))
	}

	if h := deps.Handlers.Search; h != nil {
		h.RegisterRoutes(api.Group("/search", requireUser))
	}

	if p := deps.Handlers.Gateway; p != nil {
		r.Any("/v1/*path", p.Handle)
	}

	return r, nil
}

func readinessChecks(deps Dependencies) []handlers.HealthOption {
	opts := make([]handlers.HealthOption, 0, 4)
	if deps.Database != nil {
		opts = append(opts, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}
	if deps.Cache != nil {
		opts = append(opts, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}
	if deps.Bus != nil {
		opts = append(opts, handlers.WithReadinessCheck("bus", deps.Bus.Ping))
	}
	if deps.Objects != nil {
		opts = append(opts, handlers.WithReadinessCheck("object_store", deps.Objects.HealthCheck))
	}
	return opts
}

// identityRateLimits returns the per-IP limiter for every auth endpoint and
// the stricter one for registration.
func identityRateLimits(deps Dependencies) (global, register gin.HandlerFunc) {
	if deps.RateLimiter == nil {
		return nil, nil
	}
	settings := deps.Config.RateLimit

	if settings.IdentityMax > 0 && settings.IdentityWindow > 0 {
		global = deps.RateLimiter.RateLimit(middleware.RateLimitRule{
			Rule:       ratelimit.Rule{Name: "identity_ip", Limit: settings.IdentityMax, Window: settings.IdentityWindow},
			Identifier: middleware.ClientIPIdentifier(),
		})
	}
	if settings.IdentityRegMax > 0 && settings.IdentityRegWindow > 0 {
		register = deps.RateLimiter.RateLimit(middleware.RateLimitRule{
			Rule:       ratelimit.Rule{Name: "identity_register_ip", Limit: settings.IdentityRegMax, Window: settings.IdentityRegWindow},
			Identifier: middleware.ClientIPIdentifier(),
		})
	}
	return global, register
}

func metricNamespace(service string) string {
	if service == "" {
		return ""
	}
	return strings.NewReplacer("-", "_", ".", "_").Replace(service)
}
