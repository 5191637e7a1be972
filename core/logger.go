package core

import "context"

// Logger is the minimal structured logging interface every UTAC control
// plane depends on. Fields are a flat map rather than typed key-value pairs
// to keep the interface trivially satisfiable by any JSON-line logger.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentLogger narrows a Logger to one named component ("cache", "pool",
// "breaker", ...) so log lines can be filtered by control plane without
// every package constructing its own prefix string.
type ComponentLogger interface {
	Logger
	WithComponent(component string) Logger
}

// NoOpLogger discards everything. It is the zero-value default so every
// component works without a logger being threaded through test code.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})  {}
func (NoOpLogger) Warn(string, map[string]interface{})  {}
func (NoOpLogger) Error(string, map[string]interface{}) {}
func (NoOpLogger) Debug(string, map[string]interface{}) {}

func (NoOpLogger) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (NoOpLogger) DebugWithContext(context.Context, string, map[string]interface{}) {}

// prefixedLogger tags every field map with "component" before delegating.
// It is the Logger that WithComponent returns to every package (it does
// not itself implement ComponentLogger), so log lines can be filtered the way gomind's
// ComponentAwareLogger documents ("component.startswith(...)").
type prefixedLogger struct {
	base      Logger
	component string
}

// WithComponent wraps base so every call site is tagged "component": name.
func WithComponent(base Logger, component string) Logger {
	if base == nil {
		base = NoOpLogger{}
	}
	return &prefixedLogger{base: base, component: component}
}

func (p *prefixedLogger) tag(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["component"] = p.component
	return out
}

func (p *prefixedLogger) Info(msg string, f map[string]interface{})  { p.base.Info(msg, p.tag(f)) }
func (p *prefixedLogger) Warn(msg string, f map[string]interface{})  { p.base.Warn(msg, p.tag(f)) }
func (p *prefixedLogger) Error(msg string, f map[string]interface{}) { p.base.Error(msg, p.tag(f)) }
func (p *prefixedLogger) Debug(msg string, f map[string]interface{}) { p.base.Debug(msg, p.tag(f)) }

func (p *prefixedLogger) InfoWithContext(ctx context.Context, msg string, f map[string]interface{}) {
	p.base.InfoWithContext(ctx, msg, p.tag(f))
}
func (p *prefixedLogger) WarnWithContext(ctx context.Context, msg string, f map[string]interface{}) {
	p.base.WarnWithContext(ctx, msg, p.tag(f))
}
func (p *prefixedLogger) ErrorWithContext(ctx context.Context, msg string, f map[string]interface{}) {
	p.base.ErrorWithContext(ctx, msg, p.tag(f))
}
func (p *prefixedLogger) DebugWithContext(ctx context.Context, msg string, f map[string]interface{}) {
	p.base.DebugWithContext(ctx, msg, p.tag(f))
}
