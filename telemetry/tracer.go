package telemetry

import (
	"context"

	"github.com/ravenoak/autoresearch/core"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer implements core.Telemetry over an in-process OTel TracerProvider.
// No OTLP exporter is wired (transport is an external shell concern per
// spec §1); callers that need export attach a sdktrace.SpanProcessor of
// their own via Provider().
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	metrics  *Metrics
}

// NewTracer builds a Tracer for serviceName, optionally recording span
// counts into the supplied Metrics (may be nil).
func NewTracer(serviceName string, metrics *Metrics) *Tracer {
	provider := sdktrace.NewTracerProvider()
	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(serviceName),
		metrics:  metrics,
	}
}

// Provider exposes the underlying TracerProvider so a host process can
// attach its own span processor/exporter.
func (t *Tracer) Provider() *sdktrace.TracerProvider { return t.provider }

// StartSpan implements core.Telemetry.
func (t *Tracer) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	ctx, span := t.tracer.Start(ctx, name)
	if t.metrics != nil {
		t.metrics.Counter("autoresearch.span.started", "name", name)
	}
	return ctx, &otelSpan{span: span}
}

// RecordMetric implements core.Telemetry by delegating to Metrics.
func (t *Tracer) RecordMetric(name string, value float64, labels map[string]string) {
	if t.metrics == nil {
		return
	}
	kvs := make([]string, 0, len(labels)*2)
	for k, v := range labels {
		kvs = append(kvs, k, v)
	}
	t.metrics.Histogram(name, value, kvs...)
}

// Shutdown flushes and stops the tracer provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	s.span.SetAttributes(attributeFor(key, value))
}

func (s *otelSpan) RecordError(err error) {
	s.span.RecordError(err)
}

var _ core.Telemetry = (*Tracer)(nil)
