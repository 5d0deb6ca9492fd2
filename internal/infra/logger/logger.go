package logger

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	lg   *zap.Logger
	once sync.Once
)

// New returns a singleton zap.Logger tagged with the service name.
func New(env, service string) (*zap.Logger, error) {
	var err error
	once.Do(func() {
		cfg := zap.NewProductionConfig()
		if env != "production" {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}

		lg, err = cfg.Build()
		if err == nil && service != "" {
			lg = lg.With(zap.String("service", service))
		}
	})

	return lg, err
}

type (
	requestIDKey struct{}
	traceIDKey   struct{}
)

// ContextWithRequestID stores the per-hop request id on ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// ContextWithTraceID stores the end-to-end trace id on ctx.
func ContextWithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, id)
}

// RequestIDFromContext returns the id stored by ContextWithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey{})
}

// TraceIDFromContext returns the id stored by ContextWithTraceID.
func TraceIDFromContext(ctx context.Context) string {
	return stringValue(ctx, traceIDKey{})
}

func stringValue(ctx context.Context, key any) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

// WithContext decorates base with the correlation ids carried by ctx.
// A nil base falls back to the process logger built by New.
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if base == nil {
		base = lg
	}
	if base == nil {
		base = zap.NewNop()
	}

	var fields []zap.Field
	if id := TraceIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("trace_id", id))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

var emailRegex = regexp.MustCompile(`^([^@]{1,3})[^@]*(@.+)$`)

// MaskEmail keeps the first three characters and the domain.
// john.doe@example.com -> joh***@example.com
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}

	if m := emailRegex.FindStringSubmatch(email); len(m) == 3 {
		return m[1] + "***" + m[2]
	}

	if at := strings.IndexByte(email, '@'); at >= 0 {
		return "***" + email[at:]
	}

	return "***"
}

// MaskIP keeps the first two IPv4 octets or the first four IPv6 groups.
func MaskIP(ip string) string {
	if ip == "" {
		return ""
	}

	if strings.Contains(ip, ".") {
		if parts := strings.Split(ip, "."); len(parts) == 4 {
			return parts[0] + "." + parts[1] + ".*.*"
		}
	}

	if strings.Contains(ip, ":") {
		if parts := strings.Split(ip, ":"); len(parts) >= 4 {
			return strings.Join(parts[:4], ":") + ":*:*:*:*"
		}
	}

	return "***"
}
