// Package tracing wraps the OpenTelemetry tracer and text-map
// propagator the transport core uses to start spans around inbound
// dispatch and RPC calls, and to carry trace context across the wire in
// AMQP message headers.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Tracer bundles the two collaborators the transport needs: something
// to start spans with, and something to move trace context in and out
// of a plain string-keyed carrier (AMQP headers).
type Tracer struct {
	tracer       trace.Tracer
	propagator   propagation.TextMapPropagator
}

// New returns a Tracer using tr to start spans and prop to propagate
// context. A nil tr uses the global OpenTelemetry tracer provider (a
// no-op unless the application installed one), and a nil prop uses the
// W3C TraceContext propagator — this module never requires a live
// OpenTelemetry pipeline.
func New(tr trace.Tracer, prop propagation.TextMapPropagator) *Tracer {
	if tr == nil {
		tr = otel.GetTracerProvider().Tracer("github.com/corvidrun/amqprpc")
	}
	if prop == nil {
		prop = propagation.TraceContext{}
	}
	return &Tracer{tracer: tr, propagator: prop}
}

// StartConsumerSpan starts a span named "onConsume:<routingKey>" with
// kind Server, extracting any trace context carried in headers.
func (t *Tracer) StartConsumerSpan(ctx context.Context, routingKey string, headers map[string]string) (context.Context, trace.Span) {
	ctx = t.Extract(ctx, headers)
	return t.tracer.Start(ctx, "onConsume:"+routingKey, trace.WithSpanKind(trace.SpanKindServer))
}

// StartRPCSpan starts a client-kind span around an outbound
// publishAndWait/sendAndWait call.
func (t *Tracer) StartRPCSpan(ctx context.Context, routingKey string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "rpc:"+routingKey, trace.WithSpanKind(trace.SpanKindClient))
}

// Inject writes the trace context carried by ctx into headers.
func (t *Tracer) Inject(ctx context.Context, headers map[string]string) {
	t.propagator.Inject(ctx, propagation.MapCarrier(headers))
}

// Extract reads trace context out of headers and returns a context
// carrying it.
func (t *Tracer) Extract(ctx context.Context, headers map[string]string) context.Context {
	return t.propagator.Extract(ctx, propagation.MapCarrier(headers))
}
