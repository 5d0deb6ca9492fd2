package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/dhruv-khokhar/ChatterNet/internal/infra/config"
	"github.com/dhruv-khokhar/ChatterNet/internal/infra/database"
	"github.com/dhruv-khokhar/ChatterNet/internal/infra/eventbus"
	kafkainfra "github.com/dhruv-khokhar/ChatterNet/internal/infra/kafka"
	"github.com/dhruv-khokhar/ChatterNet/internal/infra/logger"
	natsinfra "github.com/dhruv-khokhar/ChatterNet/internal/infra/nats"
	redisinfra "github.com/dhruv-khokhar/ChatterNet/internal/infra/redis"
	"github.com/dhruv-khokhar/ChatterNet/internal/infra/telemetry"
	"github.com/dhruv-khokhar/ChatterNet/internal/ratelimit"
	redisrepo "github.com/dhruv-khokhar/ChatterNet/internal/repository/redis"
	"github.com/dhruv-khokhar/ChatterNet/internal/transport/events"
	"github.com/dhruv-khokhar/ChatterNet/internal/transport/http/routes"
)

// builder accumulates resources while a service is assembled, so a failed
// start releases whatever was already opened.
type builder struct {
	ctx      context.Context
	cfg      *config.AppConfig
	logger   *zap.Logger
	registry *prometheus.Registry
	closers  []closer
	subs     []*eventbus.Subscription
}

func newBuilder(ctx context.Context, cfg *config.AppConfig) (*builder, error) {
	log, err := logger.New(cfg.App.Env, cfg.App.Name)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	b := &builder{ctx: ctx, cfg: cfg, logger: log, registry: registry}

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry, log)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	b.onClose("tracing", shutdown)

	return b, nil
}

func (b *builder) onClose(name string, fn func(ctx context.Context) error) {
	b.closers = append(b.closers, closer{name: name, fn: fn})
}

// abort releases everything acquired so far and returns err.
func (b *builder) abort(err error) error {
	for _, s := range b.subs {
		s.Close()
	}
	closeAll(context.Background(), b.logger, b.closers)
	return err
}

// postgres applies the service's migration set when enabled and opens the pool.
func (b *builder) postgres(set string) (*pgxpool.Pool, error) {
	if b.cfg.Postgres.AutoMigrate {
		if err := database.Migrate(b.cfg.Postgres.URL(), set); err != nil {
			return nil, fmt.Errorf("migrate %s: %w", set, err)
		}
		b.logger.Info("schema up to date", zap.String("migrations", set))
	}

	pool, err := database.NewPostgresPool(b.ctx, b.cfg.Postgres, b.logger)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	b.onClose("postgres", func(context.Context) error {
		pool.Close()
		return nil
	})
	return pool, nil
}

func (b *builder) redis() (*redisinfra.Client, error) {
	client, err := redisinfra.NewClient(b.ctx, b.cfg.Redis, b.logger)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}
	if err := b.registry.Register(client.PoolCollector(b.cfg.App.Name)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("register redis pool metrics: %w", err)
	}
	b.onClose("redis", func(context.Context) error { return client.Close() })
	return client, nil
}

func (b *builder) limiter(client *redisinfra.Client) *ratelimit.Limiter {
	return ratelimit.New(redisrepo.NewRateLimitRepository(client.Client(), b.cfg.RateLimit.KeyPrefix))
}

// bus builds the event bus client for the configured driver. Nothing is
// dialed here.
func (b *builder) bus() (*eventbus.Client, error) {
	var dialer eventbus.Dialer
	switch b.cfg.Bus.Driver {
	case "nats", "":
		dialer = natsinfra.NewDialer(b.cfg.NATS, b.cfg.Bus.RequeueDelay, b.logger)
	case "kafka":
		dialer = kafkainfra.NewDialer(b.cfg.Kafka, b.cfg.Bus.RequeueDelay, b.logger)
	case "memory":
		dialer = eventbus.NewMemoryBroker().WithRequeueDelay(b.cfg.Bus.RequeueDelay)
	default:
		return nil, fmt.Errorf("unknown bus driver %q", b.cfg.Bus.Driver)
	}

	reconnect := eventbus.DefaultBackoff()
	if b.cfg.Bus.MaxReconnectAttempts > 0 {
		reconnect.MaxAttempts = b.cfg.Bus.MaxReconnectAttempts
	}

	client := eventbus.NewClient(dialer, eventbus.Config{
		Exchange:    b.cfg.Bus.Exchange,
		Prefetch:    b.cfg.Bus.Prefetch,
		DialTimeout: b.cfg.Bus.DialTimeout,
		Reconnect:   reconnect,
	}, b.logger)
	b.onClose("bus", func(context.Context) error { return client.Close() })

	b.logger.Info("event bus configured",
		zap.String("driver", b.cfg.Bus.Driver),
		zap.String("exchange", b.cfg.Bus.Exchange),
	)
	return client, nil
}

// subscribe binds router's patterns to a queue named after the service and
// consumer. Subscriptions live until the application shuts down.
func (b *builder) subscribe(bus *eventbus.Client, consumer string, router *events.Router) error {
	name := b.cfg.App.Name + "." + consumer
	sub, err := bus.Subscribe(b.ctx, name, router.Patterns(), router)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", name, err)
	}
	b.subs = append(b.subs, sub)
	b.logger.Info("subscribed", zap.String("queue", name), zap.Strings("patterns", router.Patterns()))
	return nil
}

func (b *builder) engine(deps routes.Dependencies) (*gin.Engine, error) {
	deps.Config = b.cfg
	deps.Logger = b.logger
	deps.Registry = b.registry
	engine, err := routes.Register(deps)
	if err != nil {
		return nil, fmt.Errorf("register routes: %w", err)
	}
	return engine, nil
}

func (b *builder) application(engine *gin.Engine) *Application {
	return &Application{
		cfg:     b.cfg,
		engine:  engine,
		logger:  b.logger,
		subs:    b.subs,
		closers: b.closers,
	}
}
