package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-tools/utac/core"
)

func TestTokenBucketAdmitsWithinLimit(t *testing.T) {
	// §8 end-to-end scenario 1: token bucket admission timings.
	cfg := core.RateLimiterConfig{
		Algorithm: "token-bucket",
		Global:    core.LimitSpec{Requests: 3, Window: time.Second},
	}
	l := New(cfg, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.CheckLimit(ctx, Key{})
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d should be admitted", i)
	}

	d, err := l.CheckLimit(ctx, Key{})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestTokenBucketRefillsOverTime(t *testing.T) {
	cfg := core.RateLimiterConfig{
		Algorithm: "token-bucket",
		Global:    core.LimitSpec{Requests: 1, Window: 100 * time.Millisecond},
	}
	l := New(cfg, nil)
	ctx := context.Background()

	d, err := l.CheckLimit(ctx, Key{})
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = l.CheckLimit(ctx, Key{})
	require.NoError(t, err)
	require.False(t, d.Allowed)

	time.Sleep(150 * time.Millisecond)
	d, err = l.CheckLimit(ctx, Key{})
	require.NoError(t, err)
	assert.True(t, d.Allowed, "bucket should have refilled")
}

func TestHierarchicalSelectionOrder(t *testing.T) {
	cfg := core.RateLimiterConfig{
		Algorithm: "fixed-window",
		Global:    core.LimitSpec{Requests: 1000, Window: time.Minute},
		Workspace: core.LimitSpec{Requests: 1000, Window: time.Minute},
		User:      core.LimitSpec{Requests: 1000, Window: time.Minute},
		Tool:      map[string]core.LimitSpec{"tool-x": {Requests: 1, Window: time.Minute}},
	}
	l := New(cfg, nil)
	ctx := context.Background()
	key := Key{ToolID: "tool-x", UserID: "u1", WorkspaceID: "w1"}

	d, err := l.CheckLimit(ctx, key)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = l.CheckLimit(ctx, key)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "tool", d.Scope, "tool-specific limit should be checked first")
}

func TestBurstPoolAbsorbsSpike(t *testing.T) {
	cfg := core.RateLimiterConfig{
		Algorithm: "fixed-window",
		Global:    core.LimitSpec{Requests: 1, Window: time.Minute},
		Burst:     core.BurstSpec{Enabled: true, Requests: 2, Window: time.Minute},
	}
	l := New(cfg, nil)
	ctx := context.Background()

	require.True(t, mustAllow(t, l, ctx))
	assert.True(t, mustAllow(t, l, ctx), "first burst unit should absorb the spike")
	assert.True(t, mustAllow(t, l, ctx), "second burst unit should absorb the spike")
	assert.False(t, mustAllow(t, l, ctx), "burst pool exhausted")
}

func mustAllow(t *testing.T, l Limiter, ctx context.Context) bool {
	t.Helper()
	d, err := l.CheckLimit(ctx, Key{})
	require.NoError(t, err)
	return d.Allowed
}

func TestDynamicAdjustmentReducesCapacity(t *testing.T) {
	cfg := core.RateLimiterConfig{
		Algorithm: "fixed-window",
		Global:    core.LimitSpec{Requests: 10, Window: time.Minute},
		Dynamic:   core.DynamicSpec{Enabled: true, SystemLoadThreshold: 0.5, AdjustmentFactor: 0.5},
	}
	tl := New(cfg, nil, WithLoadSource(func() float64 { return 0.9 })).(*tieredLimiter)
	ctx := context.Background()

	admitted := 0
	for i := 0; i < 10; i++ {
		d, err := tl.CheckLimit(ctx, Key{})
		require.NoError(t, err)
		if d.Allowed {
			admitted++
		}
	}
	assert.LessOrEqual(t, admitted, 5, "load above threshold should shrink capacity by AdjustmentFactor")
}

func TestAdjustedLimitScalesWithLoadNotJustFactor(t *testing.T) {
	cfg := core.RateLimiterConfig{
		Dynamic: core.DynamicSpec{Enabled: true, SystemLoadThreshold: 0.0, AdjustmentFactor: 0.5},
	}
	spec := core.LimitSpec{Requests: 100, Window: time.Minute}

	lowLoad := New(cfg, nil, WithLoadSource(func() float64 { return 0.2 })).(*tieredLimiter)
	highLoad := New(cfg, nil, WithLoadSource(func() float64 { return 1.0 })).(*tieredLimiter)

	// reduced = requests * (1 - load*factor): higher load must shrink
	// capacity further, not clamp to the same fixed reduction.
	assert.Equal(t, 90, lowLoad.adjustedLimit(spec).Requests)
	assert.Equal(t, 50, highLoad.adjustedLimit(spec).Requests)
}

func TestNewAppliesOptionsBeforeReturning(t *testing.T) {
	called := false
	tl := New(core.RateLimiterConfig{}, nil,
		WithLoadSource(func() float64 { called = true; return 0.7 }),
	).(*tieredLimiter)

	tl.loadFn()
	assert.True(t, called, "WithLoadSource must actually be applied by New")
}

func TestResetLimits(t *testing.T) {
	cfg := core.RateLimiterConfig{
		Algorithm: "fixed-window",
		Global:    core.LimitSpec{Requests: 1, Window: time.Minute},
	}
	l := New(cfg, nil)
	ctx := context.Background()

	require.True(t, mustAllow(t, l, ctx))
	require.False(t, mustAllow(t, l, ctx))

	l.ResetLimits(Key{})
	assert.True(t, mustAllow(t, l, ctx))
}
