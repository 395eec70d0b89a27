// Package ctrace is a thin layer over OpenTelemetry tracing,
// so that other packages only need to reference ctrace.
package ctrace

import (
	otelattr "go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	otelnoop "go.opentelemetry.io/otel/trace/noop"
)

type TracerProvider = oteltrace.TracerProvider

type Tracer = oteltrace.Tracer

type Span = oteltrace.Span

type KeyValueAttr = otelattr.KeyValue

// InstrumentationName names the tracers created by credmesh packages.
const InstrumentationName = "github.com/credmesh/credmesh"

// NopTracerProvider returns the otel no-op tracer provider.
func NopTracerProvider() TracerProvider {
	return otelnoop.NewTracerProvider()
}

// NewTracer returns a tracer from tp,
// falling back to the no-op provider when tp is nil.
func NewTracer(tp TracerProvider) Tracer {
	if tp == nil {
		tp = NopTracerProvider()
	}
	return tp.Tracer(InstrumentationName)
}

// WithAttributes is an alias to [oteltrace.WithAttributes].
func WithAttributes(attrs ...KeyValueAttr) oteltrace.SpanStartEventOption {
	return oteltrace.WithAttributes(attrs...)
}

// SpanError sets span to error status with detail from err.Error().
func SpanError(span Span, err error) {
	span.SetStatus(otelcodes.Error, err.Error())
}

// StringAttr returns a plain string attribute.
func StringAttr(key, val string) KeyValueAttr {
	return otelattr.String(key, val)
}

func SchemaIDAttr(id string) KeyValueAttr {
	return otelattr.String("credmesh.schema.id", id)
}

func SchemaIndexAttr(idx int) KeyValueAttr {
	return otelattr.Int("credmesh.schema.index", idx)
}
