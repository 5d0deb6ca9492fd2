package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dhruv-khokhar/ChatterNet/internal/infra/config"
)

// NewPostgresPool opens the service's pool and pings it once. Statements
// slower than cfg.SlowQuery are logged at warn.
func NewPostgresPool(ctx context.Context, cfg config.PostgresSettings, log *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("parse pgx pool config: %w", err)
	}

	setIfPositive(&poolConfig.MaxConns, cfg.MaxConns)
	setIfPositive(&poolConfig.MinConns, cfg.MinConns)
	setIfPositive(&poolConfig.MaxConnLifetime, cfg.MaxConnLifetime)
	setIfPositive(&poolConfig.MaxConnIdleTime, cfg.MaxConnIdleTime)
	setIfPositive(&poolConfig.HealthCheckPeriod, cfg.HealthCheckPeriod)

	if cfg.SlowQuery > 0 {
		poolConfig.ConnConfig.Tracer = &slowQueryTracer{threshold: cfg.SlowQuery, log: log, now: time.Now}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Database, err)
	}

	log.Info("connected to postgres",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
		zap.Int32("max_conns", poolConfig.MaxConns),
		zap.Duration("slow_query", cfg.SlowQuery),
	)

	return pool, nil
}

func setIfPositive[T int32 | time.Duration](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}

type queryStartKey struct{}

type queryStart struct {
	sql   string
	start time.Time
}

// slowQueryTracer implements pgx.QueryTracer.
type slowQueryTracer struct {
	threshold time.Duration
	log       *zap.Logger
	now       func() time.Time
}

func (t *slowQueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{sql: data.SQL, start: t.now()})
}

func (t *slowQueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qs, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	elapsed := t.now().Sub(qs.start)
	if elapsed < t.threshold {
		return
	}

	fields := []zap.Field{
		zap.String("sql", qs.sql),
		zap.Duration("elapsed", elapsed),
		zap.String("command_tag", data.CommandTag.String()),
	}
	if data.Err != nil {
		fields = append(fields, zap.Error(data.Err))
	}
	t.log.Warn("slow query", fields...)
}
