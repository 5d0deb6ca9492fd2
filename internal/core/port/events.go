package port

import (
	"context"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/domain"
)

// EventPublisher publishes post lifecycle events to the message bus.
type EventPublisher interface {
	PublishPostCreated(ctx context.Context, event domain.PostCreatedEvent) error
	PublishPostDeleted(ctx context.Context, event domain.PostDeletedEvent) error
}
