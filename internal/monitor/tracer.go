package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "codegen-pipeline"

// Tracer wraps OpenTelemetry tracing for the generation pipeline. Like
// Metrics, a nil Tracer is valid: StartSpan degrades to the span already on
// the context, so callers never branch on whether tracing is wired.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer using the global TracerProvider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartSpan creates a new span and returns the updated context.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("codegen.%s", name),
		trace.WithAttributes(attrs...),
	)
	return ctx, span
}

// SpanFromContext returns the current span from the context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// Common attribute keys for pipeline tracing.
var (
	AttrRunID       = attribute.Key("codegen.run.id")
	AttrAttempt     = attribute.Key("codegen.attempt")
	AttrLanguage    = attribute.Key("codegen.language")
	AttrFingerprint = attribute.Key("codegen.fingerprint")
	AttrCacheHit    = attribute.Key("codegen.cache_hit")
	AttrExecStatus  = attribute.Key("codegen.execution.status")
	AttrDurationMS  = attribute.Key("codegen.duration_ms")
)
