package health

import (
	"context"

	"github.com/nexus-tools/utac/breaker"
)

// Action is one self-healing step run when a component becomes
// StatusUnhealthy.
type Action interface {
	Name() string
	Execute(ctx context.Context, componentID string) error
}

// ResetBreakerAction clears a forced-open circuit breaker for the component
// it runs for. This is the one direction
// of the health<->breaker relationship that calls directly (breaker itself
// never references health; it only emits StateChange events for anyone to
// subscribe to), so no import cycle is introduced.
type ResetBreakerAction struct {
	Registry *breaker.Registry
}

func (a *ResetBreakerAction) Name() string { return "circuit-breaker-reset" }

func (a *ResetBreakerAction) Execute(ctx context.Context, componentID string) error {
	b := a.Registry.For(componentID)
	b.ForceOpen(false)
	return nil
}

// Subscribe wires registry's state-change events into the monitor, marking
// the affected component unhealthy on open and letting its own checks drive
// recovery back to healthy. This replaces a synchronous OnStateChange
// callback with message passing (§5).
func Subscribe(ctx context.Context, m Monitor, registry *breaker.Registry) {
	go func() {
		for {
			select {
			case ev, ok := <-registry.Events():
				if !ok {
					return
				}
				if ev.To == breaker.StateOpen {
					if mm, ok := m.(*monitor); ok {
						mm.mu.RLock()
						c, exists := mm.components[ev.ToolID]
						mm.mu.RUnlock()
						if exists {
							c.mu.Lock()
							c.status = StatusUnhealthy
							c.mu.Unlock()
						}
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
