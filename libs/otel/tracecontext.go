package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	traceparentKey = "traceparent"
	tracestateKey  = "tracestate"
)

// TraceContextStrings serializes the span context of ctx so it can be stored
// next to a row and restored later by ContextWithTraceContext.
func TraceContextStrings(ctx context.Context) (traceparent, tracestate string) {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier.Get(traceparentKey), carrier.Get(tracestateKey)
}

func ContextWithTraceContext(ctx context.Context, traceparent, tracestate string) context.Context {
	if traceparent == "" {
		return ctx
	}
	carrier := propagation.MapCarrier{traceparentKey: traceparent}
	if tracestate != "" {
		carrier[tracestateKey] = tracestate
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
