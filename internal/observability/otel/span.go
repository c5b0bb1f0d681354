package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// AttrPrefix namespaces span attributes.
const AttrPrefix = "complyledger."

// StartSpan starts a span when a Handle is in ctx. Without one it returns a
// no-op span so EndSpan never ends a span the caller does not own.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	h := From(ctx)
	if h == nil || h.Tracer == nil {
		return ctx, noop.Span{}
	}
	return h.Tracer.Start(ctx, AttrPrefix+name, trace.WithAttributes(attrs...))
}

// EndSpan sets the span status from err and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Attr builds a namespaced string attribute.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(AttrPrefix+key, value)
}
