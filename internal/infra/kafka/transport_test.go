package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/dhruv-khokhar/ChatterNet/internal/infra/eventbus"
)

type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32 { return nil }
func (s *fakeSession) MemberID() string { return "member" }
func (s *fakeSession) GenerationID() int32 { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string) {}
func (s *fakeSession) Commit() {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, msg.Offset)
	s.mu.Unlock()
}

func (s *fakeSession) markedOffsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.marked...)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string { return "facebook_events.post.deleted" }
func (c *fakeClaim) Partition() int32 { return 0 }
func (c *fakeClaim) InitialOffset() int64 { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64 { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func TestTopicName(t *testing.T) {
	if got := topicName("facebook_events", "post.created"); got != "facebook_events.post.created" {
		t.Fatalf("unexpected topic %q", got)
	}
	if got := topicName("facebook_events", "facebook_events.post.created"); got != "facebook_events.post.created" {
		t.Fatalf("prefix applied twice: %q", got)
	}
	if got := topicName("", "post.created"); got != "post.created" {
		t.Fatalf("unexpected topic without exchange %q", got)
	}
}

func TestGroupHandlerRequeueThenAck(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan eventbus.Delivery, 1)
	handler := &groupHandler{exchange: "facebook_events", out: out, requeueDelay: time.Millisecond}
	sess := &fakeSession{ctx: ctx}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "facebook_events.post.deleted", Offset: 7, Value: []byte("x")}
	close(claim.messages)

	done := make(chan error, 1)
	go func() { done <- handler.ConsumeClaim(sess, claim) }()

	first := <-out
	if first.RoutingKey != "post.deleted" || first.Redelivered {
		t.Fatalf("unexpected first delivery %+v", first.Message)
	}
	if err := first.Nack(true); err != nil {
		t.Fatalf("Nack: %v", err)
	}
	if len(sess.markedOffsets()) != 0 {
		t.Fatal("requeued message must not be marked")
	}

	var second eventbus.Delivery
	select {
	case second = <-out:
	case <-time.After(time.Second):
		t.Fatal("message was not redelivered")
	}
	if !second.Redelivered {
		t.Fatal("expected redelivered flag")
	}
	if err := second.Ack(); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ConsumeClaim returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not return")
	}

	if got := sess.markedOffsets(); len(got) != 1 || got[0] != 7 {
		t.Fatalf("expected offset 7 marked once, got %v", got)
	}
}

func TestGroupHandlerStopsOnSessionEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	handler := &groupHandler{exchange: "facebook_events", out: make(chan eventbus.Delivery), requeueDelay: time.Millisecond}
	sess := &fakeSession{ctx: ctx}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "facebook_events.post.created", Offset: 1}

	done := make(chan error, 1)
	go func() { done <- handler.ConsumeClaim(sess, claim) }()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop after session end")
	}
	if len(sess.markedOffsets()) != 0 {
		t.Fatal("undelivered message must not be marked")
	}
}
