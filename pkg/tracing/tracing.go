// Package tracing holds the process-wide tracer and the span helpers the
// rest of the service uses. The tracer stays nil until SetTracer is called
// at boot; every helper degrades to a no-op so code paths are identical
// with tracing disabled.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer

// SetTracer installs the process-wide tracer. Call once during boot.
func SetTracer(t trace.Tracer) {
	tracer = t
}

// StartSpan opens a child span under the context's current span. With no
// tracer installed it returns the context unchanged and a no-op span, so
// callers never need a nil check before span.End.
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name)
}

// GetTraceID returns the current trace id, or "" when nothing is recording.
// Error responses carry it so a client report can be matched to its trace.
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
