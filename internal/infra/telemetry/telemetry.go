// Package telemetry wires OpenTelemetry tracing for a service process.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/dhruv-khokhar/ChatterNet/internal/infra/config"
)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(ctx context.Context) error

// Setup installs the W3C propagator and, when tracing is enabled, an OTLP
// tracer provider. With tracing disabled spans are no-ops but trace context
// still propagates across services.
func Setup(ctx context.Context, cfg config.TelemetrySettings, logger *zap.Logger) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		logger.Debug("tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	tp, err := NewTracerProvider(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return tp.Shutdown, nil
}
