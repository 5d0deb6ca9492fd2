package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dhruv-khokhar/ChatterNet/internal/infra/config"
)

const pingTimeout = 5 * time.Second

// Client owns the connection pool shared by the post cache and the rate limiter.
type Client struct {
	client *redis.Client
	logger *zap.Logger
}

// NewClient opens the pool and fails unless redis answers a ping.
func NewClient(ctx context.Context, cfg config.RedisSettings, logger *zap.Logger) (*Client, error) {
	opts := &redis.Options{
		Addr:            cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    2,
		MaxRetries:      3,
		DialTimeout:     pingTimeout,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	c := &Client{client: redis.NewClient(opts), logger: logger}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := c.HealthCheck(pingCtx); err != nil {
		_ = c.client.Close()
		return nil, err
	}

	logger.Info("redis connection established",
		zap.String("addr", opts.Addr),
		zap.Int("db", cfg.DB),
		zap.Int("pool_size", cfg.PoolSize),
		zap.Bool("tls_enabled", cfg.TLSEnabled),
	)
	return c, nil
}

// Client returns the underlying redis.Client.
func (c *Client) Client() *redis.Client {
	return c.client
}

// HealthCheck pings redis; readiness probes use it.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// PoolCollector exposes the pool counters as <service>_redis_pool_* metrics.
func (c *Client) PoolCollector(service string) prometheus.Collector {
	return &poolCollector{
		stats: c.client.PoolStats,
		hits: prometheus.NewDesc(poolMetric(service, "hits_total"),
			"Times a free connection was found in the pool.", nil, nil),
		misses: prometheus.NewDesc(poolMetric(service, "misses_total"),
			"Times a connection had to be dialed.", nil, nil),
		timeouts: prometheus.NewDesc(poolMetric(service, "timeouts_total"),
			"Times waiting for a connection timed out.", nil, nil),
		total: prometheus.NewDesc(poolMetric(service, "connections"),
			"Connections currently held by the pool.", []string{"state"}, nil),
	}
}

// Close closes the pool.
func (c *Client) Close() error {
	c.logger.Info("closing redis connection")
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

func poolMetric(service, name string) string {
	return prometheus.BuildFQName(strings.ReplaceAll(service, "-", "_"), "redis_pool", name)
}

type poolCollector struct {
	stats                         func() *redis.PoolStats
	hits, misses, timeouts, total *prometheus.Desc
}

func (p *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.hits
	ch <- p.misses
	ch <- p.timeouts
	ch <- p.total
}

func (p *poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := p.stats()
	ch <- prometheus.MustNewConstMetric(p.hits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(p.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(p.timeouts, prometheus.CounterValue, float64(s.Timeouts))
	ch <- prometheus.MustNewConstMetric(p.total, prometheus.GaugeValue, float64(s.IdleConns), "idle")
	ch <- prometheus.MustNewConstMetric(p.total, prometheus.GaugeValue, float64(s.TotalConns-s.IdleConns), "in_use")
}
