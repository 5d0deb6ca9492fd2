package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMaskEmail(t *testing.T) {
	cases := map[string]string{
		"john.doe@example.com": "joh***@example.com",
		"":                     "",
		"nodomain":             "***",
	}
	for in, want := range cases {
		if got := MaskEmail(in); got != want {
			t.Fatalf("MaskEmail(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMaskIP(t *testing.T) {
	if got := MaskIP("192.168.1.100"); got != "192.168.*.*" {
		t.Fatalf("unexpected ipv4 mask %q", got)
	}
	if got := MaskIP("2001:0db8:85a3:0000:0000:8a2e:0370:7334"); got != "2001:0db8:85a3:0000:*:*:*:*" {
		t.Fatalf("unexpected ipv6 mask %q", got)
	}
}

func TestCorrelationIDsRoundTrip(t *testing.T) {
	ctx := ContextWithTraceID(ContextWithRequestID(context.Background(), "req-1"), "trace-1")
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("expected req-1, got %q", got)
	}
	if got := TraceIDFromContext(ctx); got != "trace-1" {
		t.Fatalf("expected trace-1, got %q", got)
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
}

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := ContextWithTraceID(ContextWithRequestID(context.Background(), "req-1"), "trace-1")
	WithContext(ctx, base).Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["trace_id"] != "trace-1" || fields["request_id"] != "req-1" {
		t.Fatalf("unexpected fields %v", fields)
	}

	if WithContext(context.Background(), base) != base {
		t.Fatal("expected the base logger when ctx carries no ids")
	}
}
