package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Decision is a handler's verdict on a message.
type Decision int

const (
	// Ack removes the message from the queue.
	Ack Decision = iota
	// Requeue returns the message to the broker for redelivery.
	Requeue
)

func (d Decision) String() string {
	switch d {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Handler processes one message. Handlers must be idempotent: a message may
// be delivered more than once.
type Handler interface {
	Handle(ctx context.Context, msg Message) Decision
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message) Decision

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg Message) Decision {
	return f(ctx, msg)
}

// Subscription is a queue bound to the exchange and drained by a single
// worker, so messages on one subscription are handled in order.
type Subscription struct {
	client   *Client
	name     string
	patterns []string
	handler  Handler
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Subscribe declares an exclusive queue bound with patterns and starts
// delivering to handler. The queue exists on the broker when Subscribe
// returns.
func (c *Client) Subscribe(ctx context.Context, name string, patterns []string, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("eventbus: nil handler for %s", name)
	}
	if len(patterns) == 0 {
		return nil, fmt.Errorf("eventbus: subscription %s has no patterns", name)
	}
	for _, p := range patterns {
		if err := ValidatePattern(p); err != nil {
			return nil, err
		}
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		client:   c,
		name:     name,
		patterns: append([]string(nil), patterns...),
		handler:  handler,
		logger:   c.logger.With(zap.String("subscription", name), zap.Strings("patterns", patterns)),
		ctx:      subCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	t, deliveries, err := s.consume(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	c.track(s)
	go s.run(t, deliveries)

	s.logger.Info("subscribed")
	return s, nil
}

// Name returns the subscription name.
func (s *Subscription) Name() string {
	return s.name
}

// Done is closed once the worker has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close stops the worker and waits for the in-flight message to finish.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		s.client.untrack(s)
	})
}

func (s *Subscription) consume(ctx context.Context) (Transport, <-chan Delivery, error) {
	t, err := s.client.acquire(ctx)
	if err != nil {
		return nil, nil, err
	}

	binding := Binding{
		Queue:    fmt.Sprintf("%s.%s", s.name, uuid.NewString()[:8]),
		Patterns: s.patterns,
		Prefetch: s.client.cfg.Prefetch,
	}

	deliveries, err := t.Consume(s.ctx, binding)
	if err != nil {
		s.client.release(t)
		return nil, nil, fmt.Errorf("consume %s: %w", s.name, err)
	}
	return t, deliveries, nil
}

func (s *Subscription) run(t Transport, deliveries <-chan Delivery) {
	defer close(s.done)

	for {
		for d := range deliveries {
			s.dispatch(d)
		}

		if s.ctx.Err() != nil {
			return
		}

		s.logger.Warn("delivery channel closed, resubscribing")
		s.client.release(t)

		var err error
		t, deliveries, err = s.resubscribe()
		if err != nil {
			return
		}
	}
}

func (s *Subscription) resubscribe() (Transport, <-chan Delivery, error) {
	wait := s.client.cfg.Reconnect.normalized().MaxDelay
	for {
		t, deliveries, err := s.consume(s.ctx)
		if err == nil {
			s.logger.Info("resubscribed")
			return t, deliveries, nil
		}
		if s.ctx.Err() != nil {
			return nil, nil, s.ctx.Err()
		}

		s.logger.Error("resubscribe failed", zap.Error(err), zap.Duration("retry_in", wait))
		if err := sleep(s.ctx, wait); err != nil {
			return nil, nil, err
		}
	}
}

func (s *Subscription) dispatch(d Delivery) {
	start := time.Now()
	decision := s.handle(d.Message)

	var err error
	switch decision {
	case Ack:
		err = d.Ack()
	default:
		err = d.Nack(true)
	}

	fields := []zap.Field{
		zap.String("routing_key", d.RoutingKey),
		zap.Bool("redelivered", d.Redelivered),
		zap.Stringer("decision", decision),
		zap.Duration("latency", time.Since(start)),
	}
	if err != nil {
		s.logger.Warn("acknowledgement failed", append(fields, zap.Error(err))...)
		return
	}
	s.logger.Debug("message handled", fields...)
}

func (s *Subscription) handle(msg Message) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked", zap.String("routing_key", msg.RoutingKey), zap.Any("panic", r))
			decision = Requeue
		}
	}()
	return s.handler.Handle(s.ctx, msg)
}
