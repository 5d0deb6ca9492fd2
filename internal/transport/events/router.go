// Package events binds bus subscriptions to use case handlers.
package events

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/dhruv-khokhar/ChatterNet/internal/core/domain"
	"github.com/dhruv-khokhar/ChatterNet/internal/infra/eventbus"
)

type route func(ctx context.Context, env eventbus.Envelope) error

// Router decodes event envelopes and dispatches them by event type. It
// implements eventbus.Handler.
type Router struct {
	routes map[string]route
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{routes: make(map[string]route), logger: logger}
}

// OnPostCreated registers the post.created handler.
func (r *Router) OnPostCreated(fn func(context.Context, domain.PostCreatedEvent) error) *Router {
	r.routes[domain.RoutingKeyPostCreated] = bind(fn)
	return r
}

// OnPostDeleted registers the post.deleted handler.
func (r *Router) OnPostDeleted(fn func(context.Context, domain.PostDeletedEvent) error) *Router {
	r.routes[domain.RoutingKeyPostDeleted] = bind(fn)
	return r
}

// Patterns lists the routing keys with a registered handler.
func (r *Router) Patterns() []string {
	keys := make([]string, 0, len(r.routes))
	for k := range r.routes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Handle acks handled and unrouted messages and requeues malformed ones and
// handler failures.
func (r *Router) Handle(ctx context.Context, msg eventbus.Message) eventbus.Decision {
	env, err := eventbus.DecodeEnvelope(msg.Body)
	if err != nil {
		r.logger.Error("malformed event",
			zap.String("routing_key", msg.RoutingKey),
			zap.Bool("redelivered", msg.Redelivered),
			zap.Error(err),
		)
		return eventbus.Requeue
	}

	fields := []zap.Field{
		zap.String("event_id", env.EventID),
		zap.String("event_type", env.EventType),
		zap.Bool("redelivered", msg.Redelivered),
	}
	if traceID := env.Metadata["trace_id"]; traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}

	handle, ok := r.routes[env.EventType]
	if !ok {
		r.logger.Debug("no handler for event", fields...)
		return eventbus.Ack
	}

	if err := handle(ctx, env); err != nil {
		r.logger.Error("event handler failed, requeueing", append(fields, zap.Error(err))...)
		return eventbus.Requeue
	}

	r.logger.Debug("event handled", fields...)
	return eventbus.Ack
}

func bind[T any](fn func(context.Context, T) error) route {
	return func(ctx context.Context, env eventbus.Envelope) error {
		var payload T
		if err := env.Decode(&payload); err != nil {
			return err
		}
		return fn(ctx, payload)
	}
}

var _ eventbus.Handler = (*Router)(nil)
