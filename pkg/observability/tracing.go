// Package observability sets up OpenTelemetry tracing for sync runs. One
// span covers a run, with child spans per tenant and per entity.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/ajitpratap0/deanslist-sync"

var tracer trace.Tracer = otel.Tracer(instrumentation)

// Attribute keys shared by all spans.
const (
	AttrRunID    = attribute.Key("deanslist.run_id")
	AttrTenant   = attribute.Key("deanslist.tenant")
	AttrEntity   = attribute.Key("deanslist.entity")
	AttrRecords  = attribute.Key("deanslist.records")
	AttrDeleted  = attribute.Key("deanslist.rows_deleted")
	AttrInserted = attribute.Key("deanslist.rows_inserted")
)

// StartSpan starts a span from the installed tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
