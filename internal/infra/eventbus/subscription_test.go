package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type recordingHandler struct {
	mu       sync.Mutex
	seen     []Message
	decide   func(n int, msg Message) Decision
	received chan Message
}

func newRecordingHandler(decide func(n int, msg Message) Decision) *recordingHandler {
	return &recordingHandler{decide: decide, received: make(chan Message, 64)}
}

func (h *recordingHandler) Handle(_ context.Context, msg Message) Decision {
	h.mu.Lock()
	h.seen = append(h.seen, msg)
	n := len(h.seen)
	h.mu.Unlock()

	h.received <- msg
	if h.decide == nil {
		return Ack
	}
	return h.decide(n, msg)
}

func waitMessage(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func newTestClient(t *testing.T, broker *MemoryBroker) *Client {
	t.Helper()
	client := NewClient(broker, Config{Exchange: "facebook_events", Prefetch: 4, Reconnect: fastBackoff()}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestSubscriptionFanOut(t *testing.T) {
	broker := NewMemoryBroker()
	client := newTestClient(t, broker)

	search := newRecordingHandler(nil)
	media := newRecordingHandler(nil)

	if _, err := client.Subscribe(context.Background(), "search", []string{"post.*"}, search); err != nil {
		t.Fatalf("Subscribe search: %v", err)
	}
	if _, err := client.Subscribe(context.Background(), "media", []string{"post.deleted"}, media); err != nil {
		t.Fatalf("Subscribe media: %v", err)
	}

	if err := client.Publish(context.Background(), "post.deleted", []byte(`{"postId":"p1"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if got := waitMessage(t, search.received); got.RoutingKey != "post.deleted" {
		t.Fatalf("search got routing key %q", got.RoutingKey)
	}
	if got := waitMessage(t, media.received); string(got.Body) != `{"postId":"p1"}` {
		t.Fatalf("media got body %q", got.Body)
	}
}

func TestSubscriptionRequeueWaitsForDelay(t *testing.T) {
	const delay = 150 * time.Millisecond
	client := newTestClient(t, NewMemoryBroker().WithRequeueDelay(delay))

	handler := newRecordingHandler(func(n int, _ Message) Decision {
		if n == 1 {
			return Requeue
		}
		return Ack
	})
	if _, err := client.Subscribe(context.Background(), "search", []string{"post.created"}, handler); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := client.Publish(context.Background(), "post.created", []byte("x")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitMessage(t, handler.received)
	requeuedAt := time.Now()
	second := waitMessage(t, handler.received)
	if !second.Redelivered {
		t.Fatal("second delivery should be flagged redelivered")
	}
	if elapsed := time.Since(requeuedAt); elapsed < delay-20*time.Millisecond {
		t.Fatalf("redelivered after %s, expected at least %s", elapsed, delay)
	}
}

func TestSubscriptionRequeueRedelivers(t *testing.T) {
	broker := NewMemoryBroker()
	client := newTestClient(t, broker)

	handler := newRecordingHandler(func(n int, _ Message) Decision {
		if n == 1 {
			return Requeue
		}
		return Ack
	})

	if _, err := client.Subscribe(context.Background(), "search", []string{"post.created"}, handler); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := client.Publish(context.Background(), "post.created", []byte("x")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	first := waitMessage(t, handler.received)
	if first.Redelivered {
		t.Fatal("first delivery must not be flagged redelivered")
	}
	second := waitMessage(t, handler.received)
	if !second.Redelivered {
		t.Fatal("second delivery should be flagged redelivered")
	}
	if string(second.Body) != "x" {
		t.Fatalf("unexpected redelivered body %q", second.Body)
	}
}

func TestSubscriptionDeliversInOrder(t *testing.T) {
	broker := NewMemoryBroker()
	client := newTestClient(t, broker)

	handler := newRecordingHandler(nil)
	if _, err := client.Subscribe(context.Background(), "search", []string{"post.#"}, handler); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	keys := []string{"post.created", "post.deleted", "post.created"}
	for i, key := range keys {
		if err := client.Publish(context.Background(), key, []byte{byte('a' + i)}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	for i := range keys {
		msg := waitMessage(t, handler.received)
		if msg.Body[0] != byte('a'+i) {
			t.Fatalf("message %d out of order: %q", i, msg.Body)
		}
	}
}

func TestSubscriptionPanicRequeues(t *testing.T) {
	broker := NewMemoryBroker()
	client := newTestClient(t, broker)

	calls := make(chan bool, 4)
	var once sync.Once
	handler := HandlerFunc(func(_ context.Context, msg Message) Decision {
		panicked := false
		once.Do(func() { panicked = true })
		calls <- msg.Redelivered
		if panicked {
			panic("boom")
		}
		return Ack
	})

	if _, err := client.Subscribe(context.Background(), "media", []string{"post.deleted"}, handler); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := client.Publish(context.Background(), "post.deleted", []byte("x")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for i, want := range []bool{false, true} {
		select {
		case got := <-calls:
			if got != want {
				t.Fatalf("call %d redelivered=%v, want %v", i, got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for call %d", i)
		}
	}
}

func TestSubscriptionResubscribesAfterConnectionLoss(t *testing.T) {
	broker := NewMemoryBroker()
	client := newTestClient(t, broker)

	handler := newRecordingHandler(nil)
	if _, err := client.Subscribe(context.Background(), "search", []string{"post.created"}, handler); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	broker.DropConnections()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := client.Publish(context.Background(), "post.created", []byte("after")); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		select {
		case msg := <-handler.received:
			if string(msg.Body) != "after" {
				t.Fatalf("unexpected body %q", msg.Body)
			}
			return
		case <-time.After(20 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatal("subscription never recovered after connection loss")
		}
	}
}

func TestSubscriptionCloseStopsWorker(t *testing.T) {
	broker := NewMemoryBroker()
	client := newTestClient(t, broker)

	sub, err := client.Subscribe(context.Background(), "search", []string{"post.created"}, newRecordingHandler(nil))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	sub.Close()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestSubscribeRejectsBadPatterns(t *testing.T) {
	client := newTestClient(t, NewMemoryBroker())

	if _, err := client.Subscribe(context.Background(), "x", nil, newRecordingHandler(nil)); err == nil {
		t.Fatal("expected error for missing patterns")
	}
	if _, err := client.Subscribe(context.Background(), "x", []string{"post..created"}, newRecordingHandler(nil)); err == nil {
		t.Fatal("expected error for malformed pattern")
	}
}
