package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-tools/utac/core"
)

func TestBreakerOpensAfterFailureThreshold(t *testing.T) {
	// Trips after FailureThreshold consecutive failures and rejects calls while open.
	reg := NewRegistry(core.BreakerConfig{FailureThreshold: 3, RecoveryTimeout: 50 * time.Millisecond, HalfOpenMax: 1}, nil, nil)
	b := reg.For("tool-x")
	ctx := context.Background()

	failing := func(ctx context.Context) (interface{}, error) { return nil, errors.New("boom") }

	for i := 0; i < 3; i++ {
		_, err := b.Call(ctx, failing)
		assert.Error(t, err)
	}
	assert.Equal(t, StateOpen, b.State())

	_, err := b.Call(ctx, failing)
	assert.ErrorIs(t, err, core.ErrCircuitBreakerOpen, "open breaker must reject without calling fn")
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	reg := NewRegistry(core.BreakerConfig{FailureThreshold: 2, RecoveryTimeout: 30 * time.Millisecond, HalfOpenMax: 1}, nil, nil)
	b := reg.For("tool-y")
	ctx := context.Background()

	failing := func(ctx context.Context) (interface{}, error) { return nil, errors.New("boom") }
	succeeding := func(ctx context.Context) (interface{}, error) { return "ok", nil }

	for i := 0; i < 2; i++ {
		b.Call(ctx, failing)
	}
	require.Equal(t, StateOpen, b.State())

	time.Sleep(40 * time.Millisecond)

	v, err := b.Call(ctx, succeeding)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, StateClosed, b.State())
}

func TestForceOpen(t *testing.T) {
	reg := NewRegistry(core.BreakerConfig{FailureThreshold: 5, RecoveryTimeout: time.Second, HalfOpenMax: 1}, nil, nil)
	b := reg.For("tool-z")
	ctx := context.Background()

	b.ForceOpen(true)
	_, err := b.Call(ctx, func(ctx context.Context) (interface{}, error) { return "ok", nil })
	assert.ErrorIs(t, err, core.ErrCircuitBreakerOpen)

	b.ForceOpen(false)
	v, err := b.Call(ctx, func(ctx context.Context) (interface{}, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestStateChangeEventsPublished(t *testing.T) {
	reg := NewRegistry(core.BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Second, HalfOpenMax: 1}, nil, nil)
	b := reg.For("tool-evt")
	ctx := context.Background()

	b.Call(ctx, func(ctx context.Context) (interface{}, error) { return nil, errors.New("boom") })

	select {
	case ev := <-reg.Events():
		assert.Equal(t, "tool-evt", ev.ToolID)
		assert.Equal(t, StateOpen, ev.To)
	case <-time.After(time.Second):
		t.Fatal("expected a state-change event")
	}
}
