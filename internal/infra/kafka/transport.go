// Package kafka implements the event bus transport on Kafka. Every routing
// key is its own topic under the exchange prefix; a subscription is a
// consumer group of one, starting at the newest offset.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/dhruv-khokhar/ChatterNet/internal/infra/config"
	"github.com/dhruv-khokhar/ChatterNet/internal/infra/eventbus"
)

// Dialer opens sarama-backed transports.
type Dialer struct {
	cfg          config.KafkaSettings
	requeueDelay time.Duration
	logger       *zap.Logger
}

// NewDialer builds a Dialer. requeueDelay spaces out redeliveries of a
// rejected message.
func NewDialer(cfg config.KafkaSettings, requeueDelay time.Duration, logger *zap.Logger) *Dialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if requeueDelay <= 0 {
		requeueDelay = time.Second
	}
	return &Dialer{cfg: cfg, requeueDelay: requeueDelay, logger: logger.Named("kafka")}
}

func (d *Dialer) saramaConfig() (*sarama.Config, error) {
	c := sarama.NewConfig()
	c.Version = sarama.V3_5_0_0
	if d.cfg.Version != "" {
		v, err := sarama.ParseKafkaVersion(d.cfg.Version)
		if err != nil {
			return nil, fmt.Errorf("parse kafka version: %w", err)
		}
		c.Version = v
	}

	c.Producer.RequiredAcks = sarama.WaitForLocal
	c.Producer.Compression = sarama.CompressionSnappy
	c.Producer.Flush.Frequency = 100 * time.Millisecond
	c.Producer.Retry.Max = 3
	c.Producer.Return.Successes = false
	c.Producer.Return.Errors = true

	c.Consumer.Offsets.Initial = sarama.OffsetNewest
	c.Consumer.Return.Errors = true

	c.Metadata.Retry.Max = 3
	c.Metadata.Retry.Backoff = 250 * time.Millisecond
	c.Metadata.AllowAutoTopicCreation = true

	return c, nil
}

// Dial connects to the brokers and starts the producer.
func (d *Dialer) Dial(_ context.Context, exchange string) (eventbus.Transport, error) {
	sc, err := d.saramaConfig()
	if err != nil {
		return nil, err
	}

	client, err := sarama.NewClient(d.cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}

	producer, err := NewProducer(client, exchange, d.logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	d.logger.Info("kafka transport initialized",
		zap.Strings("brokers", d.cfg.Brokers),
		zap.String("exchange", exchange),
	)

	return &Transport{
		exchange:     exchange,
		client:       client,
		producer:     producer,
		requeueDelay: d.requeueDelay,
		logger:       d.logger,
		closed:       make(chan struct{}),
	}, nil
}

// Transport publishes through an async producer and consumes through
// per-subscription consumer groups sharing one client.
type Transport struct {
	exchange     string
	client       sarama.Client
	producer     *Producer
	requeueDelay time.Duration
	logger       *zap.Logger

	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// Publish enqueues the message on the async producer.
func (t *Transport) Publish(ctx context.Context, routingKey string, body []byte) error {
	if isClosed(t.closed) || t.client.Closed() {
		return eventbus.ErrTransportClosed
	}

	msg := &sarama.ProducerMessage{
		Topic: t.producer.TopicName(routingKey),
		Key:   sarama.StringEncoder(routingKey),
		Value: sarama.ByteEncoder(body),
	}

	select {
	case t.producer.Input() <- msg:
		return nil
	case <-t.closed:
		return eventbus.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume joins a fresh consumer group for the binding.
func (t *Transport) Consume(ctx context.Context, binding eventbus.Binding) (<-chan eventbus.Delivery, error) {
	if isClosed(t.closed) {
		return nil, eventbus.ErrTransportClosed
	}

	topics, err := t.resolveTopics(binding.Patterns)
	if err != nil {
		return nil, err
	}

	group, err := sarama.NewConsumerGroupFromClient(binding.Queue, t.client)
	if err != nil {
		return nil, fmt.Errorf("create consumer group %s: %w", binding.Queue, err)
	}

	prefetch := binding.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	out := make(chan eventbus.Delivery, prefetch)
	handler := &groupHandler{
		exchange:     t.exchange,
		out:          out,
		requeueDelay: t.requeueDelay,
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-consumeCtx.Done():
		case <-t.closed:
			cancel()
		}
	}()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(out)
		defer cancel()
		defer group.Close()

		for {
			err := group.Consume(consumeCtx, topics, handler)
			if consumeCtx.Err() != nil || errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			if err != nil {
				t.logger.Warn("consumer group session ended", zap.String("group", binding.Queue), zap.Error(err))
				select {
				case <-time.After(t.requeueDelay):
				case <-consumeCtx.Done():
					return
				}
			}
		}
	}()

	go func() {
		for err := range group.Errors() {
			t.logger.Warn("consumer group error", zap.String("group", binding.Queue), zap.Error(err))
		}
	}()

	return out, nil
}

// resolveTopics expands binding patterns against the topics the cluster
// knows about. Literal patterns are always included so the subscription can
// be created before the first publish.
func (t *Transport) resolveTopics(patterns []string) ([]string, error) {
	if err := t.client.RefreshMetadata(); err != nil {
		t.logger.Warn("refresh metadata failed", zap.Error(err))
	}
	existing, err := t.client.Topics()
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}

	seen := make(map[string]struct{})
	var topics []string
	add := func(topic string) {
		if _, ok := seen[topic]; ok {
			return
		}
		seen[topic] = struct{}{}
		topics = append(topics, topic)
	}

	prefix := t.exchange + "."
	for _, p := range patterns {
		if !strings.ContainsAny(p, "*#") {
			add(topicName(t.exchange, p))
			continue
		}
		for _, topic := range existing {
			if strings.HasPrefix(topic, prefix) && eventbus.Match(p, strings.TrimPrefix(topic, prefix)) {
				add(topic)
			}
		}
	}

	if len(topics) == 0 {
		return nil, fmt.Errorf("no topics match %v", patterns)
	}
	return topics, nil
}

// Ping refreshes cluster metadata.
func (t *Transport) Ping(context.Context) error {
	if isClosed(t.closed) || t.client.Closed() {
		return eventbus.ErrTransportClosed
	}
	return t.client.RefreshMetadata()
}

// Closed is closed once Close has been called.
func (t *Transport) Closed() <-chan struct{} {
	return t.closed
}

// Close stops consumers, flushes the producer and closes the client.
func (t *Transport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.closed)
		t.wg.Wait()
		if perr := t.producer.Close(); perr != nil {
			err = perr
		}
		if cerr := t.client.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close kafka client: %w", cerr)
		}
	})
	return err
}

type groupHandler struct {
	exchange     string
	out          chan<- eventbus.Delivery
	requeueDelay time.Duration
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim hands each message to the subscription and waits for its
// verdict. A requeued message is offered again after requeueDelay, which
// keeps per-partition order.
func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.deliver(ctx, sess, msg); err != nil {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (h *groupHandler) deliver(ctx context.Context, sess sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) error {
	redelivered := false
	for {
		verdict := make(chan bool, 1)
		d := eventbus.NewDelivery(
			eventbus.Message{
				RoutingKey:  strings.TrimPrefix(msg.Topic, h.exchange+"."),
				Body:        msg.Value,
				Redelivered: redelivered,
			},
			func() error {
				verdict <- false
				return nil
			},
			func(requeue bool) error {
				verdict <- requeue
				return nil
			},
		)

		select {
		case h.out <- d:
		case <-ctx.Done():
			return ctx.Err()
		}

		var requeue bool
		select {
		case requeue = <-verdict:
		case <-ctx.Done():
			return ctx.Err()
		}

		if !requeue {
			sess.MarkMessage(msg, "")
			return nil
		}

		redelivered = true
		select {
		case <-time.After(h.requeueDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

var _ eventbus.Transport = (*Transport)(nil)
