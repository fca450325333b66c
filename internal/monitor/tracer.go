package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "driftwatch"

// Tracer wraps OpenTelemetry tracing for the agent.
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
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("driftwatch.%s", name),
		trace.WithAttributes(attrs...),
	)
	return ctx, span
}

// Common attribute keys for recording traces.
var (
	AttrQueryName    = attribute.Key("driftwatch.query.name")
	AttrQueryMode    = attribute.Key("driftwatch.query.mode")
	AttrEpoch        = attribute.Key("driftwatch.epoch")
	AttrCounter      = attribute.Key("driftwatch.counter")
	AttrRowsAdded    = attribute.Key("driftwatch.rows.added")
	AttrRowsRemoved  = attribute.Key("driftwatch.rows.removed")
	AttrRecordsCount = attribute.Key("driftwatch.records.emitted")
)
