package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config describes the exchange and the subscription defaults.
type Config struct {
	Exchange    string
	Prefetch    int
	DialTimeout time.Duration
	Reconnect   Backoff
}

// Client owns a single broker transport. The transport is dialed on first
// use and redialed when it reports itself closed, so publishers and
// subscribers never hold a dead connection.
type Client struct {
	dialer Dialer
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	transport Transport
	closed    bool
	subs      map[*Subscription]struct{}
}

// NewClient builds a client; no connection is made until it is needed.
func NewClient(dialer Dialer, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 32
	}
	if cfg.Reconnect == (Backoff{}) {
		cfg.Reconnect = DefaultBackoff()
	}

	return &Client{
		dialer: dialer,
		cfg:    cfg,
		logger: logger.Named("eventbus"),
		subs:   make(map[*Subscription]struct{}),
	}
}

// Exchange returns the exchange name the client publishes to.
func (c *Client) Exchange() string {
	return c.cfg.Exchange
}

func (c *Client) acquire(ctx context.Context) (Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}
	if c.transport != nil && !isClosed(c.transport) {
		return c.transport, nil
	}
	if c.transport != nil {
		c.logger.Warn("broker connection lost, redialing", zap.String("exchange", c.cfg.Exchange))
		_ = c.transport.Close()
		c.transport = nil
	}

	var t Transport
	err := retry(ctx, c.cfg.Reconnect, func() error {
		dialCtx := ctx
		if c.cfg.DialTimeout > 0 {
			var cancel context.CancelFunc
			dialCtx, cancel = context.WithTimeout(ctx, c.cfg.DialTimeout)
			defer cancel()
		}
		var dialErr error
		t, dialErr = c.dialer.Dial(dialCtx, c.cfg.Exchange)
		if dialErr != nil {
			c.logger.Warn("broker dial failed", zap.String("exchange", c.cfg.Exchange), zap.Error(dialErr))
		}
		return dialErr
	})
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	c.transport = t
	c.logger.Info("broker connection established", zap.String("exchange", c.cfg.Exchange))
	return t, nil
}

// release drops t when it is still the current transport and has failed.
func (c *Client) release(t Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == t && isClosed(t) {
		_ = t.Close()
		c.transport = nil
	}
}

// Publish sends body to the exchange under routingKey. A publish that fails
// on a dead connection is retried once on a fresh one.
func (c *Client) Publish(ctx context.Context, routingKey string, body []byte) error {
	for attempt := 0; attempt < 2; attempt++ {
		t, err := c.acquire(ctx)
		if err != nil {
			return err
		}

		err = t.Publish(ctx, routingKey, body)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrTransportClosed) && !isClosed(t) {
			return fmt.Errorf("publish %s: %w", routingKey, err)
		}
		c.release(t)
		if attempt == 1 {
			return fmt.Errorf("publish %s: %w", routingKey, err)
		}
	}
	return nil
}

// Ping dials if needed and checks the broker connection.
func (c *Client) Ping(ctx context.Context) error {
	t, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	if err := t.Ping(ctx); err != nil {
		c.release(t)
		return fmt.Errorf("broker ping: %w", err)
	}
	return nil
}

// Close stops every subscription and closes the transport.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := make([]*Subscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	t := c.transport
	c.transport = nil
	c.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}

	if t != nil {
		return t.Close()
	}
	return nil
}

func (c *Client) track(s *Subscription) {
	c.mu.Lock()
	c.subs[s] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) untrack(s *Subscription) {
	c.mu.Lock()
	delete(c.subs, s)
	c.mu.Unlock()
}
