// Package telemetry provides an OpenTelemetry-backed core.Telemetry, the
// same role gomind's telemetry.OTelProvider plays for that framework: a
// concrete sink-free binding that exercises the OTel SDK locally
// (tracer/meter providers, counters, span attributes) without forcing a
// collector endpoint on every caller. core itself only defines the
// Telemetry/Span interfaces; this package is the optional batteries.
package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/nexus-tools/utac/core"
)

// Provider implements core.Telemetry on top of the OpenTelemetry SDK. It
// never wires an exporter itself (no OTLP/Prometheus dependency lives in
// this module); callers that want spans and metrics to leave the process
// register their own span processor / metric reader against TracerProvider
// / MeterProvider before traffic starts.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	mu       sync.Mutex
	counters map[string]metric.Float64Counter
}

// NewProvider builds a Provider scoped to serviceName, the same
// per-service naming gomind's NewOTelProvider requires.
func NewProvider(serviceName string) (*Provider, error) {
	if serviceName == "" {
		return nil, fmt.Errorf("telemetry: service name cannot be empty")
	}

	tp := sdktrace.NewTracerProvider()
	mp := sdkmetric.NewMeterProvider()

	return &Provider{
		tracerProvider: tp,
		meterProvider:  mp,
		tracer:         tp.Tracer(serviceName),
		meter:          mp.Meter(serviceName),
		counters:       make(map[string]metric.Float64Counter),
	}, nil
}

// StartSpan opens a span named name and returns the child context carrying
// it, mirroring core.Telemetry's contract.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	spanCtx, span := p.tracer.Start(ctx, name)
	return spanCtx, otelSpan{span: span}
}

// RecordMetric adds value to a lazily created counter named name, tagging
// it with labels as attributes. Counters accumulate (never reset), which
// fits the "invocations", "errors", "cache hits" style of §6 event names.
func (p *Provider) RecordMetric(name string, value float64, labels map[string]string) {
	p.mu.Lock()
	counter, ok := p.counters[name]
	if !ok {
		var err error
		counter, err = p.meter.Float64Counter(name)
		if err != nil {
			p.mu.Unlock()
			return
		}
		p.counters[name] = counter
	}
	p.mu.Unlock()

	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	counter.Add(context.Background(), value, metric.WithAttributes(attrs...))
}

// Shutdown flushes and stops both providers. Safe to call once during
// process teardown, the same slot gomind's OTelProvider.Shutdown fills.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetry: tracer provider shutdown: %w", err)
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetry: meter provider shutdown: %w", err)
	}
	return nil
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) End() { s.span.End() }

func (s otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s otelSpan) RecordError(err error) {
	s.span.RecordError(err)
}
