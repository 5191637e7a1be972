package core

import "context"

// Telemetry is the optional metrics/tracing seam every control plane emits
// through. UTAC never ships a sink (Prometheus, OTLP collector, Slack); it
// only defines this interface, mirroring gomind's own
// SetMetricsRegistry/GetGlobalMetricsRegistry indirection for keeping
// framework internals free of a hard dependency on any one backend.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

// Span is a single traced operation.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// NoOpTelemetry is the default when no Telemetry implementation is wired.
type NoOpTelemetry struct{}

func (NoOpTelemetry) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, noOpSpan{}
}
func (NoOpTelemetry) RecordMetric(string, float64, map[string]string) {}

type noOpSpan struct{}

func (noOpSpan) End()                               {}
func (noOpSpan) SetAttribute(string, interface{})   {}
func (noOpSpan) RecordError(error)                  {}

// EventName enumerates the "Telemetry out" events §6 names. Components call
// Telemetry.RecordMetric(string(eventName), 1, labels) — a fixed vocabulary
// keeps dashboards buildable against this repo without a sink existing yet.
type EventName string

const (
	EventExecutionCompleted   EventName = "execution.completed"
	EventExecutionError       EventName = "execution.error"
	EventCacheHit             EventName = "cache.hit"
	EventLimitExceeded        EventName = "limit.exceeded"
	EventBreakerOpened        EventName = "circuit_breaker.opened"
	EventBreakerClosed        EventName = "circuit_breaker.closed"
	EventInstanceHealthChange EventName = "instance.health_changed"
	EventHealthAlert          EventName = "health.alert"
	EventRecoveryCompleted    EventName = "recovery.completed"
	EventRecoveryFailed       EventName = "recovery.failed"
	EventMetricsCollected     EventName = "metrics.collected"
)
