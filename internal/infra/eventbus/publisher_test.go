package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/domain"
)

type capturePublisher struct {
	key  string
	body []byte
	err  error
}

func (c *capturePublisher) Publish(_ context.Context, routingKey string, body []byte) error {
	c.key = routingKey
	c.body = body
	return c.err
}

func TestEventPublisherPostCreatedEnvelope(t *testing.T) {
	bus := &capturePublisher{}
	pub := NewEventPublisher(bus, "post-service", "test")
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	pub.now = func() time.Time { return fixed }

	created := time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC)
	err := pub.PublishPostCreated(context.Background(), domain.PostCreatedEvent{
		EventID:   "evt-1",
		PostID:    "p1",
		UserID:    "u1",
		Content:   "hello",
		CreatedAt: created,
	})
	if err != nil {
		t.Fatalf("PublishPostCreated returned error: %v", err)
	}

	if bus.key != domain.RoutingKeyPostCreated {
		t.Fatalf("expected routing key post.created, got %q", bus.key)
	}

	env, err := DecodeEnvelope(bus.body)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.EventID != "evt-1" || env.EventType != "post.created" || !env.Timestamp.Equal(fixed) {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.Metadata["service"] != "post-service" {
		t.Fatalf("expected service metadata, got %v", env.Metadata)
	}

	var payload map[string]any
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	for _, field := range []string{"postId", "userId", "content", "createdAt"} {
		if _, ok := payload[field]; !ok {
			t.Fatalf("payload missing %s: %v", field, payload)
		}
	}
}

func TestEventPublisherPostDeletedDefaultsMediaIDs(t *testing.T) {
	bus := &capturePublisher{}
	pub := NewEventPublisher(bus, "post-service", "test")

	if err := pub.PublishPostDeleted(context.Background(), domain.PostDeletedEvent{PostID: "p1", UserID: "u1"}); err != nil {
		t.Fatalf("PublishPostDeleted returned error: %v", err)
	}

	env, err := DecodeEnvelope(bus.body)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.EventID == "" {
		t.Fatal("expected a generated event id")
	}

	var event domain.PostDeletedEvent
	if err := env.Decode(&event); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if event.MediaIDs == nil || len(event.MediaIDs) != 0 {
		t.Fatalf("expected empty media id list, got %v", event.MediaIDs)
	}
}

func TestEventPublisherPropagatesBusError(t *testing.T) {
	bus := &capturePublisher{err: errors.New("broker down")}
	pub := NewEventPublisher(bus, "post-service", "test")

	if err := pub.PublishPostDeleted(context.Background(), domain.PostDeletedEvent{PostID: "p1"}); err == nil {
		t.Fatal("expected bus error to surface")
	}
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	if _, err := DecodeEnvelope([]byte("not json")); err == nil {
		t.Fatal("expected error for malformed body")
	}
	if _, err := DecodeEnvelope([]byte(`{"event_id":"x"}`)); err == nil {
		t.Fatal("expected error for missing event type")
	}
}
