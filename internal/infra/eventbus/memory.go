package eventbus

import (
	"context"
	"sync"
	"time"
)

// MemoryBroker is an in-process topic exchange. It backs the "memory" bus
// driver and the tests. Queues live as long as the connection that declared
// them, like exclusive queues on a real broker.
type MemoryBroker struct {
	mu           sync.Mutex
	conns        map[*memoryTransport]struct{}
	dials        int
	requeueDelay time.Duration
}

// NewMemoryBroker returns an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{conns: make(map[*memoryTransport]struct{})}
}

// WithRequeueDelay holds requeued messages back for d before they are
// delivered again, so a handler that keeps failing does not spin.
func (b *MemoryBroker) WithRequeueDelay(d time.Duration) *MemoryBroker {
	b.mu.Lock()
	b.requeueDelay = d
	b.mu.Unlock()
	return b
}

// Dial opens a new connection. The exchange name is not checked: the memory
// broker has a single exchange.
func (b *MemoryBroker) Dial(_ context.Context, _ string) (Transport, error) {
	t := &memoryTransport{
		broker: b,
		queues: make(map[*memoryQueue]struct{}),
		closed: make(chan struct{}),
	}

	b.mu.Lock()
	b.conns[t] = struct{}{}
	b.dials++
	b.mu.Unlock()

	return t, nil
}

// Dials returns how many connections have been opened.
func (b *MemoryBroker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// DropConnections closes every open connection, as a broker restart would.
func (b *MemoryBroker) DropConnections() {
	b.mu.Lock()
	conns := make([]*memoryTransport, 0, len(b.conns))
	for t := range b.conns {
		conns = append(conns, t)
	}
	b.mu.Unlock()

	for _, t := range conns {
		_ = t.Close()
	}
}

func (b *MemoryBroker) route(msg Message) {
	b.mu.Lock()
	var targets []*memoryQueue
	for t := range b.conns {
		targets = append(targets, t.matching(msg.RoutingKey)...)
	}
	b.mu.Unlock()

	for _, q := range targets {
		q.push(msg, false)
	}
}

type memoryTransport struct {
	broker *MemoryBroker

	mu     sync.Mutex
	queues map[*memoryQueue]struct{}
	closed chan struct{}
	once   sync.Once
}

func (t *memoryTransport) Publish(ctx context.Context, routingKey string, body []byte) error {
	if isClosed(t) {
		return ErrTransportClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload := append([]byte(nil), body...)
	t.broker.route(Message{RoutingKey: routingKey, Body: payload})
	return nil
}

func (t *memoryTransport) Consume(ctx context.Context, binding Binding) (<-chan Delivery, error) {
	if isClosed(t) {
		return nil, ErrTransportClosed
	}

	prefetch := binding.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	t.broker.mu.Lock()
	delay := t.broker.requeueDelay
	t.broker.mu.Unlock()

	q := &memoryQueue{
		name:     binding.Queue,
		patterns: append([]string(nil), binding.Patterns...),
		delay:    delay,
		notify:   make(chan struct{}, 1),
		out:      make(chan Delivery, prefetch),
		done:     make(chan struct{}),
	}

	t.mu.Lock()
	t.queues[q] = struct{}{}
	t.mu.Unlock()

	go q.pump()
	go func() {
		select {
		case <-ctx.Done():
		case <-t.closed:
		}
		t.mu.Lock()
		delete(t.queues, q)
		t.mu.Unlock()
		q.stop()
	}()

	return q.out, nil
}

func (t *memoryTransport) Ping(context.Context) error {
	if isClosed(t) {
		return ErrTransportClosed
	}
	return nil
}

func (t *memoryTransport) Closed() <-chan struct{} {
	return t.closed
}

func (t *memoryTransport) Close() error {
	t.once.Do(func() {
		close(t.closed)
		t.broker.mu.Lock()
		delete(t.broker.conns, t)
		t.broker.mu.Unlock()
	})
	return nil
}

func (t *memoryTransport) matching(routingKey string) []*memoryQueue {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*memoryQueue
	for q := range t.queues {
		if MatchAny(q.patterns, routingKey) {
			out = append(out, q)
		}
	}
	return out
}

type memoryQueue struct {
	name     string
	patterns []string
	delay    time.Duration

	mu      sync.Mutex
	pending []Message
	notify  chan struct{}
	out     chan Delivery
	done    chan struct{}
	once    sync.Once
}

func (q *memoryQueue) push(msg Message, front bool) {
	q.mu.Lock()
	if front {
		q.pending = append([]Message{msg}, q.pending...)
	} else {
		q.pending = append(q.pending, msg)
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *memoryQueue) pop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return Message{}, false
	}
	msg := q.pending[0]
	q.pending = q.pending[1:]
	return msg, true
}

func (q *memoryQueue) pump() {
	defer close(q.out)

	for {
		msg, ok := q.pop()
		if !ok {
			select {
			case <-q.notify:
				continue
			case <-q.done:
				return
			}
		}

		d := NewDelivery(msg,
			func() error { return nil },
			func(requeue bool) error {
				if !requeue {
					return nil
				}
				redelivered := msg
				redelivered.Redelivered = true
				if q.delay <= 0 {
					q.push(redelivered, true)
					return nil
				}
				time.AfterFunc(q.delay, func() { q.push(redelivered, true) })
				return nil
			},
		)

		select {
		case q.out <- d:
		case <-q.done:
			return
		}
	}
}

func (q *memoryQueue) stop() {
	q.once.Do(func() { close(q.done) })
}
