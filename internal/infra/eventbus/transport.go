package eventbus

import (
	"context"
	"errors"
)

var (
	// ErrTransportClosed is returned by a transport whose connection is gone.
	ErrTransportClosed = errors.New("eventbus: transport closed")
	// ErrClientClosed is returned once Client.Close has been called.
	ErrClientClosed = errors.New("eventbus: client closed")
)

// Message is what a subscription handler sees.
type Message struct {
	RoutingKey  string
	Body        []byte
	Redelivered bool
}

// Delivery couples a message with the broker acknowledgement hooks.
type Delivery struct {
	Message
	ack  func() error
	nack func(requeue bool) error
}

// NewDelivery is used by transports to hand messages to the client.
func NewDelivery(msg Message, ack func() error, nack func(requeue bool) error) Delivery {
	return Delivery{Message: msg, ack: ack, nack: nack}
}

// Ack confirms the message so the broker drops it.
func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Nack rejects the message. With requeue the broker delivers it again.
func (d Delivery) Nack(requeue bool) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(requeue)
}

// Binding declares a subscriber queue bound to the exchange.
type Binding struct {
	Queue    string
	Patterns []string
	Prefetch int
}

// Transport is one live broker connection with its channel.
//
// Consume returns a channel holding at most Binding.Prefetch unacknowledged
// deliveries. The channel is closed when ctx is cancelled or the connection
// is lost. Closed is closed as soon as the connection is unusable.
type Transport interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
	Consume(ctx context.Context, binding Binding) (<-chan Delivery, error)
	Ping(ctx context.Context) error
	Closed() <-chan struct{}
	Close() error
}

// Dialer opens transports against a named exchange.
type Dialer interface {
	Dial(ctx context.Context, exchange string) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, exchange string) (Transport, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, exchange string) (Transport, error) {
	return f(ctx, exchange)
}

func isClosed(t Transport) bool {
	select {
	case <-t.Closed():
		return true
	default:
		return false
	}
}
