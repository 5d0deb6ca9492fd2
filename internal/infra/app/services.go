package app

import (
	"context"
	"fmt"

	"github.com/dhruv-khokhar/ChatterNet/internal/gateway"
	"github.com/dhruv-khokhar/ChatterNet/internal/infra/config"
	"github.com/dhruv-khokhar/ChatterNet/internal/infra/database"
	"github.com/dhruv-khokhar/ChatterNet/internal/infra/eventbus"
	"github.com/dhruv-khokhar/ChatterNet/internal/infra/objectstore"
	"github.com/dhruv-khokhar/ChatterNet/internal/infra/security"
	"github.com/dhruv-khokhar/ChatterNet/internal/ratelimit"
	postgresrepo "github.com/dhruv-khokhar/ChatterNet/internal/repository/postgres"
	redisrepo "github.com/dhruv-khokhar/ChatterNet/internal/repository/redis"
	"github.com/dhruv-khokhar/ChatterNet/internal/transport/events"
	"github.com/dhruv-khokhar/ChatterNet/internal/transport/http/handlers"
	"github.com/dhruv-khokhar/ChatterNet/internal/transport/http/middleware"
	"github.com/dhruv-khokhar/ChatterNet/internal/transport/http/routes"
	"github.com/dhruv-khokhar/ChatterNet/internal/usecase"
)

// NewGateway assembles the public entry point: rate limit, auth, rewrite
// and proxy stages in front of the four services.
func NewGateway(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	b, err := newBuilder(ctx, cfg)
	if err != nil {
		return nil, err
	}

	redisClient, err := b.redis()
	if err != nil {
		return nil, b.abort(err)
	}

	tokens, err := security.NewTokenManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTokenTTL)
	if err != nil {
		return nil, b.abort(fmt.Errorf("init token verifier: %w", err))
	}

	table, err := gatewayRoutes(cfg.Gateway)
	if err != nil {
		return nil, b.abort(err)
	}

	forward, err := gateway.NewForwardStage(table, gateway.ForwardOptions{
		Timeout:    cfg.Gateway.UpstreamTimeout,
		Registerer: b.registry,
	}, b.logger)
	if err != nil {
		return nil, b.abort(err)
	}

	pipeline := gateway.NewPipeline(b.logger,
		gateway.NewRateLimitStage(
			b.limiter(redisClient),
			ratelimit.Rule{Name: "global", Limit: cfg.RateLimit.GlobalMax, Window: cfg.RateLimit.GlobalWindow},
			ratelimit.Rule{Name: "sensitive", Limit: cfg.RateLimit.SensitiveMax, Window: cfg.RateLimit.SensitiveWindow},
			cfg.RateLimit.SensitivePaths,
			b.logger,
		),
		gateway.NewAuthStage(tokens, gateway.ProtectedPrefixes(table), b.logger),
		gateway.NewRewriteStage(table, b.logger),
		forward,
	)

	engine, err := b.engine(routes.Dependencies{
		Handlers: routes.HandlerSet{Gateway: pipeline},
		Cache:    redisClient,
	})
	if err != nil {
		return nil, b.abort(err)
	}
	return b.application(engine), nil
}

func gatewayRoutes(cfg config.GatewaySettings) ([]gateway.Route, error) {
	specs := []struct {
		name, prefix, target, internal string
		protected                      bool
	}{
		{"identity", "/v1/auth", cfg.IdentityURL, "/api/auth", false},
		{"posts", "/v1/posts", cfg.PostURL, "/api/posts", true},
		{"media", "/v1/media", cfg.MediaURL, "/api/media", true},
		{"search", "/v1/search", cfg.SearchURL, "/api/search", true},
	}

	out := make([]gateway.Route, 0, len(specs))
	for _, s := range specs {
		r, err := gateway.NewRoute(s.name, s.prefix, s.target, s.internal, s.protected)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// NewIdentity assembles the identity service.
func NewIdentity(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	b, err := newBuilder(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pool, err := b.postgres(database.MigrationsIdentity)
	if err != nil {
		return nil, b.abort(err)
	}
	redisClient, err := b.redis()
	if err != nil {
		return nil, b.abort(err)
	}

	hasher, err := security.NewPasswordHasher(security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		return nil, b.abort(fmt.Errorf("configure argon2: %w", err))
	}

	tokens, err := security.NewTokenManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTokenTTL)
	if err != nil {
		return nil, b.abort(fmt.Errorf("init token issuer: %w", err))
	}

	identity := usecase.NewIdentityService(
		postgresrepo.NewUserRepository(pool),
		postgresrepo.NewRefreshTokenRepository(pool),
		hasher,
		tokens,
		cfg.JWT.RefreshTokenTTL,
		b.logger,
	)

	engine, err := b.engine(routes.Dependencies{
		Handlers:    routes.HandlerSet{Auth: handlers.NewAuthHandler(identity, b.logger)},
		RateLimiter: middleware.NewRateLimiter(b.limiter(redisClient), b.logger),
		Database:    pool,
		Cache:       redisClient,
	})
	if err != nil {
		return nil, b.abort(err)
	}
	return b.application(engine), nil
}

// NewPost assembles the post service. It only publishes.
func NewPost(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	b, err := newBuilder(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pool, err := b.postgres(database.MigrationsPost)
	if err != nil {
		return nil, b.abort(err)
	}
	redisClient, err := b.redis()
	if err != nil {
		return nil, b.abort(err)
	}
	bus, err := b.bus()
	if err != nil {
		return nil, b.abort(err)
	}

	posts := usecase.NewPostService(
		postgresrepo.NewPostRepository(pool),
		redisrepo.NewCacheRepository(redisClient.Client()),
		eventbus.NewEventPublisher(bus, cfg.App.Name, cfg.App.Env),
		usecase.PostCacheTTL{Post: cfg.Cache.PostTTL, Listing: cfg.Cache.PostsTTL},
		b.logger,
	)

	engine, err := b.engine(routes.Dependencies{
		Handlers: routes.HandlerSet{Posts: handlers.NewPostHandler(posts, b.logger)},
		Database: pool,
		Cache:    redisClient,
		Bus:      bus,
	})
	if err != nil {
		return nil, b.abort(err)
	}
	return b.application(engine), nil
}

// NewMedia assembles the media service and its post.deleted cleanup consumer.
func NewMedia(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	b, err := newBuilder(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pool, err := b.postgres(database.MigrationsMedia)
	if err != nil {
		return nil, b.abort(err)
	}
	objects, err := objectstore.New(ctx, cfg.Storage, b.logger)
	if err != nil {
		return nil, b.abort(fmt.Errorf("init object store: %w", err))
	}
	bus, err := b.bus()
	if err != nil {
		return nil, b.abort(err)
	}

	mediaRepo := postgresrepo.NewMediaRepository(pool)
	cleanup := usecase.NewMediaCleanup(mediaRepo, objects, b.logger)
	router := events.NewRouter(b.logger).OnPostDeleted(cleanup.HandlePostDeleted)
	if err := b.subscribe(bus, "media-cleanup", router); err != nil {
		return nil, b.abort(err)
	}

	media := usecase.NewMediaService(mediaRepo, objects, cfg.Media.MaxUploadBytes, b.logger)

	engine, err := b.engine(routes.Dependencies{
		Handlers: routes.HandlerSet{Media: handlers.NewMediaHandler(media, cfg.Media.MaxUploadBytes, b.logger)},
		Database: pool,
		Bus:      bus,
		Objects:  objects,
	})
	if err != nil {
		return nil, b.abort(err)
	}
	return b.application(engine), nil
}

// NewSearch assembles the search service and its indexing consumer.
func NewSearch(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	b, err := newBuilder(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pool, err := b.postgres(database.MigrationsSearch)
	if err != nil {
		return nil, b.abort(err)
	}
	bus, err := b.bus()
	if err != nil {
		return nil, b.abort(err)
	}

	docs := postgresrepo.NewSearchRepository(pool)
	indexer := usecase.NewSearchIndexer(docs, b.logger)
	router := events.NewRouter(b.logger).
		OnPostCreated(indexer.HandlePostCreated).
		OnPostDeleted(indexer.HandlePostDeleted)
	if err := b.subscribe(bus, "search-index", router); err != nil {
		return nil, b.abort(err)
	}

	engine, err := b.engine(routes.Dependencies{
		Handlers: routes.HandlerSet{Search: handlers.NewSearchHandler(usecase.NewSearchService(docs, b.logger), b.logger)},
		Database: pool,
		Bus:      bus,
	})
	if err != nil {
		return nil, b.abort(err)
	}
	return b.application(engine), nil
}
