package otelx

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_SAMPLING_RATIO", "7")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg := ConfigFromEnv("visit-service")
	if !cfg.Enabled || cfg.OTLPEndpoint != "collector:4317" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.SampleRatio != 1 {
		t.Fatalf("expected out of range ratio to fall back to 1, got %v", cfg.SampleRatio)
	}
}

func TestTraceContextRoundTrip(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "create visit")
	defer span.End()

	traceparent, _ := TraceContextStrings(ctx)
	if traceparent == "" {
		t.Fatal("expected a traceparent")
	}
	restored := ContextWithTraceContext(context.Background(), traceparent, "")
	if got := trace.SpanContextFromContext(restored).TraceID(); got != span.SpanContext().TraceID() {
		t.Fatalf("trace id not restored: %s vs %s", got, span.SpanContext().TraceID())
	}
	if ContextWithTraceContext(ctx, "", "") != ctx {
		t.Fatal("expected empty traceparent to leave ctx untouched")
	}
}
