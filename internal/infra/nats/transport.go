// Package nats implements the event bus transport on NATS JetStream. The
// exchange maps to a stream capturing "<exchange>.>", routing keys become
// subject suffixes and each subscription is an ephemeral consumer.
package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/dhruv-khokhar/ChatterNet/internal/infra/config"
	"github.com/dhruv-khokhar/ChatterNet/internal/infra/eventbus"
)

const consumerInactiveThreshold = 30 * time.Second

// Dialer opens JetStream transports.
type Dialer struct {
	cfg          config.NATSSettings
	requeueDelay time.Duration
	logger       *zap.Logger
}

// NewDialer builds a Dialer from settings. requeueDelay is how long a
// requeued message waits before JetStream redelivers it.
func NewDialer(cfg config.NATSSettings, requeueDelay time.Duration, logger *zap.Logger) *Dialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialer{cfg: cfg, requeueDelay: requeueDelay, logger: logger.Named("nats")}
}

// Dial connects, ensures the exchange stream exists and returns a transport.
func (d *Dialer) Dial(ctx context.Context, exchange string) (eventbus.Transport, error) {
	t := &Transport{
		exchange:     exchange,
		requeueDelay: d.requeueDelay,
		logger:       d.logger,
		closed:       make(chan struct{}),
	}

	conn, err := nats.Connect(d.cfg.URL, d.connectionOptions(t)...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("init jetstream: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName(exchange),
		Subjects:  []string{exchange + ".>"},
		Retention: jetstream.InterestPolicy,
		Storage:   jetstream.MemoryStorage,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare stream %s: %w", streamName(exchange), err)
	}

	t.conn = conn
	t.js = js

	d.logger.Info("connected to nats",
		zap.String("url", conn.ConnectedUrl()),
		zap.String("stream", streamName(exchange)),
	)
	return t, nil
}

func (d *Dialer) connectionOptions(t *Transport) []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(d.cfg.MaxReconnects),
		nats.ReconnectWait(d.cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			d.logger.Warn("nats disconnected", zap.Error(err))
		}),
		// The server may have restarted without our in-memory stream and
		// consumers; hand the transport back so the client redeclares both.
		nats.ReconnectHandler(func(conn *nats.Conn) {
			d.logger.Warn("nats reconnected, retiring transport", zap.String("url", conn.ConnectedUrl()))
			t.markClosed()
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			t.markClosed()
		}),
	}
	if d.cfg.Name != "" {
		opts = append(opts, nats.Name(d.cfg.Name))
	}
	return opts
}

// Transport is one NATS connection with its JetStream context.
type Transport struct {
	exchange     string
	requeueDelay time.Duration
	conn         *nats.Conn
	js           jetstream.JetStream
	logger       *zap.Logger

	closed chan struct{}
	once   sync.Once
}

func (t *Transport) markClosed() {
	t.once.Do(func() { close(t.closed) })
}

// lostStream reports errors meaning the stream or the connection behind this
// transport is gone and only a fresh dial can recover.
func lostStream(err error) bool {
	return errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrNoResponders) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		errors.Is(err, jetstream.ErrStreamNotFound)
}

// lostConsumer reports consume errors after which the consumer will never
// deliver again.
func lostConsumer(err error) bool {
	return errors.Is(err, jetstream.ErrConsumerDeleted) ||
		errors.Is(err, jetstream.ErrConsumerNotFound) ||
		errors.Is(err, jetstream.ErrNoHeartbeat) ||
		errors.Is(err, nats.ErrConnectionClosed)
}

// Publish sends body on "<exchange>.<routingKey>" and waits for the stream ack.
func (t *Transport) Publish(ctx context.Context, routingKey string, body []byte) error {
	if t.conn.IsClosed() {
		return eventbus.ErrTransportClosed
	}
	if _, err := t.js.Publish(ctx, t.subject(routingKey), body); err != nil {
		if lostStream(err) {
			t.logger.Warn("stream unreachable, retiring transport", zap.String("routing_key", routingKey), zap.Error(err))
			t.markClosed()
			return fmt.Errorf("%w: %v", eventbus.ErrTransportClosed, err)
		}
		return err
	}
	return nil
}

// Consume creates an ephemeral consumer filtered on the binding patterns.
// Only messages published after the consumer exists are delivered. NATS
// filters cannot express "#" in the middle of a pattern, so deliveries are
// matched again here and anything outside the binding is acked and dropped.
func (t *Transport) Consume(ctx context.Context, binding eventbus.Binding) (<-chan eventbus.Delivery, error) {
	filters := make([]string, 0, len(binding.Patterns))
	for _, p := range binding.Patterns {
		filters = append(filters, t.subject(SubjectPattern(p)))
	}

	prefetch := binding.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	consumer, err := t.js.CreateOrUpdateConsumer(ctx, streamName(t.exchange), jetstream.ConsumerConfig{
		Name:              consumerName(binding.Queue),
		FilterSubjects:    filters,
		AckPolicy:         jetstream.AckExplicitPolicy,
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		MaxAckPending:     prefetch,
		InactiveThreshold: consumerInactiveThreshold,
	})
	if err != nil {
		if lostStream(err) {
			t.markClosed()
		}
		return nil, fmt.Errorf("create consumer %s: %w", binding.Queue, err)
	}

	out := make(chan eventbus.Delivery, prefetch)
	stop := make(chan struct{})
	var stopOnce sync.Once
	halt := func() { stopOnce.Do(func() { close(stop) }) }

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		delivery := t.delivery(msg)
		if !eventbus.MatchAny(binding.Patterns, delivery.RoutingKey) {
			_ = msg.Ack()
			return
		}
		select {
		case out <- delivery:
		case <-stop:
			_ = msg.Nak()
		}
	}, jetstream.PullMaxMessages(prefetch), jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		if lostConsumer(err) {
			t.logger.Warn("consumer lost, retiring transport", zap.String("queue", binding.Queue), zap.Error(err))
			halt()
			t.markClosed()
			return
		}
		t.logger.Warn("consume error", zap.String("queue", binding.Queue), zap.Error(err))
	}))
	if err != nil {
		if lostStream(err) {
			t.markClosed()
		}
		return nil, fmt.Errorf("consume %s: %w", binding.Queue, err)
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-t.closed:
		case <-stop:
		case <-cc.Closed():
		}
		halt()
		cc.Stop()
		<-cc.Closed()
		close(out)
	}()

	return out, nil
}

func (t *Transport) delivery(msg jetstream.Msg) eventbus.Delivery {
	redelivered := false
	if md, err := msg.Metadata(); err == nil {
		redelivered = md.NumDelivered > 1
	}

	return eventbus.NewDelivery(
		eventbus.Message{
			RoutingKey:  strings.TrimPrefix(msg.Subject(), t.exchange+"."),
			Body:        msg.Data(),
			Redelivered: redelivered,
		},
		msg.Ack,
		func(requeue bool) error {
			if !requeue {
				return msg.Term()
			}
			if t.requeueDelay > 0 {
				return msg.NakWithDelay(t.requeueDelay)
			}
			return msg.Nak()
		},
	)
}

// Ping flushes the connection.
func (t *Transport) Ping(ctx context.Context) error {
	if t.conn.IsClosed() {
		return eventbus.ErrTransportClosed
	}
	return t.conn.FlushWithContext(ctx)
}

// Closed is closed when the underlying connection is closed for good.
func (t *Transport) Closed() <-chan struct{} {
	return t.closed
}

// Close drains nothing; exclusive consumers go away with their inactivity threshold.
func (t *Transport) Close() error {
	if t.conn != nil && !t.conn.IsClosed() {
		t.conn.Close()
	}
	t.markClosed()
	return nil
}

func (t *Transport) subject(routingKey string) string {
	return t.exchange + "." + routingKey
}

// SubjectPattern converts a topic binding pattern to a NATS subject filter.
// "#" becomes ">" and is only valid as the last word on NATS.
func SubjectPattern(pattern string) string {
	words := strings.Split(pattern, ".")
	for i, w := range words {
		if w == "#" {
			words[i] = ">"
			return strings.Join(words[:i+1], ".")
		}
	}
	return strings.Join(words, ".")
}

func streamName(exchange string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "*", "_", ">", "_").Replace(exchange))
}

func consumerName(queue string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(queue)
}

var _ eventbus.Transport = (*Transport)(nil)
