// Package breaker implements the Circuit Breaker (C4) on top of
// github.com/sony/gobreaker, the same library jordigilh/kubernaut wires for
// per-channel failure isolation. State-change notifications are published to
// subscribers (the Health Monitor) over a channel rather than a synchronous
// callback, so breaker and health never need to import one another (§5).
package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/nexus-tools/utac/core"
)

// State mirrors gobreaker.State as UTAC's own exported vocabulary, so
// callers never need to import gobreaker directly.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// StateChange is one transition event, published to every subscriber.
type StateChange struct {
	ToolID string
	From   State
	To     State
	At     time.Time
}

// Breaker is C4's contract: Call gates admission, runs fn if admitted, and
// feeds the outcome back into gobreaker's own failure counters.
type Breaker interface {
	Call(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error)
	ForceOpen(open bool)
	State() State
}

type breakerImpl struct {
	toolID string
	cb     *gobreaker.CircuitBreaker
	forced atomic.Bool
}

// Registry constructs and tracks one Breaker per tool.
type Registry struct {
	mu        sync.RWMutex
	breakers  map[string]*breakerImpl
	cfg       core.BreakerConfig
	logger    core.Logger
	telemetry core.Telemetry
	events    chan StateChange
}

// NewRegistry builds a breaker registry. events is buffered so a slow
// subscriber never blocks a breaker's own state transition.
func NewRegistry(cfg core.BreakerConfig, logger core.Logger, telemetry core.Telemetry) *Registry {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = core.NoOpTelemetry{}
	}
	return &Registry{
		breakers:  make(map[string]*breakerImpl),
		cfg:       cfg,
		logger:    core.WithComponent(logger, "breaker"),
		telemetry: telemetry,
		events:    make(chan StateChange, 256),
	}
}

// Events returns the read-only stream of state-change notifications. health.Monitor
// subscribes to this instead of registering a callback directly on the breaker.
func (r *Registry) Events() <-chan StateChange { return r.events }

// For returns (creating if necessary) the Breaker for toolID.
func (r *Registry) For(toolID string) Breaker {
	r.mu.RLock()
	b, ok := r.breakers[toolID]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[toolID]; ok {
		return b
	}

	impl := &breakerImpl{toolID: toolID}
	settings := gobreaker.Settings{
		Name:        toolID,
		MaxRequests: uint32(r.cfg.HalfOpenMax),
		Timeout:     r.cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= r.cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			change := StateChange{ToolID: name, From: fromGobreaker(from), To: fromGobreaker(to), At: time.Now()}
			r.logger.Info("circuit breaker state change", map[string]interface{}{
				"tool": name, "from": change.From.String(), "to": change.To.String(),
			})
			event := core.EventBreakerOpened
			if change.To == StateClosed {
				event = core.EventBreakerClosed
			}
			r.telemetry.RecordMetric(string(event), 1, map[string]string{"tool": name})
			select {
			case r.events <- change:
			default:
				r.logger.Warn("breaker event channel full, dropping state change", map[string]interface{}{"tool": name})
			}
		},
	}
	impl.cb = gobreaker.NewCircuitBreaker(settings)
	r.breakers[toolID] = impl
	return impl
}

// Call gates fn behind the breaker. A forced-open breaker never reaches
// gobreaker at all, so a forced state survives independent of traffic.
func (b *breakerImpl) Call(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if b.forced.Load() {
		return nil, core.ErrCircuitBreakerOpen
	}
	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil && (errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)) {
		return nil, core.ErrCircuitBreakerOpen
	}
	return result, err
}

func (b *breakerImpl) ForceOpen(open bool) { b.forced.Store(open) }

func (b *breakerImpl) State() State {
	if b.forced.Load() {
		return StateOpen
	}
	return fromGobreaker(b.cb.State())
}
