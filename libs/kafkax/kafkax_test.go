package kafkax

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka-1:9092, ,kafka-2:9092 ")
	if len(got) != 2 || got[0] != "kafka-1:9092" || got[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers: %v", got)
	}
	if SplitBrokers("") != nil {
		t.Fatal("expected nil for empty input")
	}
}

func TestExtractEventMetaFallsBackToKeyAndTopic(t *testing.T) {
	msg := kafka.Message{Topic: "booking.visit.created.v1", Key: []byte("visit-1")}
	meta := ExtractEventMeta(msg)
	if meta.EventID != "visit-1" || meta.EventType != "booking.visit.created.v1" {
		t.Fatalf("unexpected meta: %+v", meta)
	}

	msg.Headers = EventMeta{EventID: "evt-1", EventType: "booking.visit.canceled.v1"}.Headers()
	meta = ExtractEventMeta(msg)
	if meta.EventID != "evt-1" || meta.EventType != "booking.visit.canceled.v1" {
		t.Fatalf("unexpected meta from headers: %+v", meta)
	}
}

func TestTraceHeadersRoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := InjectTraceHeaders(ctx, EventMeta{EventID: "e", EventType: "t"}.Headers())
	if HeaderValue(headers, "traceparent") == "" {
		t.Fatalf("expected traceparent header, got %v", headers)
	}

	out := ExtractTraceContext(context.Background(), kafka.Message{Headers: headers})
	got := trace.SpanContextFromContext(out)
	if got.TraceID() != traceID {
		t.Fatalf("trace id mismatch: %s", got.TraceID())
	}
}
