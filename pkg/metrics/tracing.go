package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the otel tracer name every span in this tree is opened
// under, matching the "one tracer per instrumented module" convention.
const tracerName = "orchestrator"

// StartSpan opens a span named "workflow.phase.<phase>" (or any caller-
// supplied name) under the shared tracer, for wrapping phase transitions,
// AI calls, and tool dispatch per SPEC_FULL.md's tracing wiring.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
