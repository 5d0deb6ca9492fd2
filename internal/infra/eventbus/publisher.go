package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/domain"
	"github.com/dhruv-khokhar/ChatterNet/internal/core/port"
)

const schemaVersion = "1.0"

// Envelope wraps every payload published on the exchange.
type Envelope struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has an empty payload", e.EventID)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.EventType, err)
	}
	return nil
}

// DecodeEnvelope parses a message body produced by EventPublisher.
func DecodeEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode event envelope: %w", err)
	}
	if env.EventType == "" {
		return Envelope{}, fmt.Errorf("event envelope has no event_type")
	}
	return env, nil
}

type publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// EventPublisher implements port.EventPublisher on top of the bus client.
type EventPublisher struct {
	bus     publisher
	service string
	env     string
	now     func() time.Time
}

// NewEventPublisher constructs a publisher tagging events with the service name.
func NewEventPublisher(bus publisher, service, env string) *EventPublisher {
	return &EventPublisher{bus: bus, service: service, env: env, now: time.Now}
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType string, payload any) error {
	if eventID == "" {
		eventID = uuid.NewString()
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	metadata := map[string]string{
		"service":     p.service,
		"environment": p.env,
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	body, err := json.Marshal(Envelope{
		EventID:   eventID,
		EventType: eventType,
		Timestamp: p.now().UTC(),
		Version:   schemaVersion,
		Payload:   raw,
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	return p.bus.Publish(ctx, eventType, body)
}

// PublishPostCreated publishes post.created.
func (p *EventPublisher) PublishPostCreated(ctx context.Context, event domain.PostCreatedEvent) error {
	event.CreatedAt = event.CreatedAt.UTC()
	return p.publish(ctx, event.EventID, domain.RoutingKeyPostCreated, event)
}

// PublishPostDeleted publishes post.deleted.
func (p *EventPublisher) PublishPostDeleted(ctx context.Context, event domain.PostDeletedEvent) error {
	if event.MediaIDs == nil {
		event.MediaIDs = []string{}
	}
	return p.publish(ctx, event.EventID, domain.RoutingKeyPostDeleted, event)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
