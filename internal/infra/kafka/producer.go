package kafka

import (
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// Producer wraps a sarama AsyncProducer and drains its error channel.
type Producer struct {
	producer sarama.AsyncProducer
	logger   *zap.Logger
	exchange string
	done     chan struct{}
	stopped  chan struct{}
}

// NewProducer starts an async producer on an existing client.
func NewProducer(client sarama.Client, exchange string, logger *zap.Logger) (*Producer, error) {
	producer, err := sarama.NewAsyncProducerFromClient(client)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	p := &Producer{
		producer: producer,
		logger:   logger,
		exchange: exchange,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	go p.handleErrors()

	return p, nil
}

// handleErrors logs delivery failures reported by the async producer.
func (p *Producer) handleErrors() {
	defer close(p.stopped)
	for {
		select {
		case err, ok := <-p.producer.Errors():
			if !ok {
				return
			}
			if err != nil {
				p.logger.Error("kafka producer error",
					zap.Error(err.Err),
					zap.String("topic", err.Msg.Topic),
					zap.Int32("partition", err.Msg.Partition),
				)
			}
		case <-p.done:
			return
		}
	}
}

// Input returns the producer input channel.
func (p *Producer) Input() chan<- *sarama.ProducerMessage {
	return p.producer.Input()
}

// Close flushes pending messages and stops the error handler.
func (p *Producer) Close() error {
	err := p.producer.Close()
	close(p.done)
	<-p.stopped
	if err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}

// TopicName maps a routing key to its topic.
func (p *Producer) TopicName(routingKey string) string {
	return topicName(p.exchange, routingKey)
}

func topicName(exchange, routingKey string) string {
	if exchange == "" {
		return routingKey
	}
	prefix := exchange + "."
	if strings.HasPrefix(routingKey, prefix) {
		return routingKey
	}
	return prefix + routingKey
}
