package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name used for sync spans.
const TracerName = "github.com/dungeonfaster/dfsync"

// Span attribute keys.
const (
	AttrConnID   = attribute.Key("dfsync.conn_id")
	AttrPlayer   = attribute.Key("dfsync.player")
	AttrRemote   = attribute.Key("dfsync.remote")
	AttrPath     = attribute.Key("dfsync.path")
	AttrBytes    = attribute.Key("dfsync.bytes")
	AttrSnapshot = attribute.Key("dfsync.snapshot_mode")
)

// Tracer returns the tracer from the global provider. Configure the provider
// in main before starting the server:
//
//	otel.SetTracerProvider(tp)
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartSpan starts a span on t, or on the global tracer when t is nil.
func StartSpan(ctx context.Context, t trace.Tracer, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil {
		t = Tracer()
	}
	return t.Start(ctx, name,
		trace.WithSpanKind(kind),
		trace.WithAttributes(attrs...),
	)
}

// EndSpan records err on span, sets the status and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
