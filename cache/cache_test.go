package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-tools/utac/core"
)

func TestLRUEviction(t *testing.T) {
	// §8 end-to-end scenario 2: maxSize 3, strategy lru.
	// set(a,1); set(b,2); set(c,3); get(a); set(d,4)
	// -> get(b)=absent, get(a)=1, get(c)=3, get(d)=4
	c := New(core.CacheConfig{Enabled: true, MaxSize: 3, Strategy: "lru"}, nil, nil)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1, 0))
	time.Sleep(time.Millisecond)
	require.NoError(t, c.Set(ctx, "b", 2, 0))
	time.Sleep(time.Millisecond)
	require.NoError(t, c.Set(ctx, "c", 3, 0))
	time.Sleep(time.Millisecond)

	_, ok := c.Get(ctx, "a")
	require.True(t, ok)
	time.Sleep(time.Millisecond)

	require.NoError(t, c.Set(ctx, "d", 4, 0))

	_, ok = c.Get(ctx, "b")
	assert.False(t, ok, "b should have been evicted as least recently used")

	v, ok := c.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = c.Get(ctx, "c")
	assert.True(t, ok)
	assert.Equal(t, 3, v)

	v, ok = c.Get(ctx, "d")
	assert.True(t, ok)
	assert.Equal(t, 4, v)
}

func TestCapacityInvariant(t *testing.T) {
	// §8 invariant 1: size <= N after any sequence of operations.
	c := New(core.CacheConfig{Enabled: true, MaxSize: 5, Strategy: "lfu"}, nil, nil)
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		require.NoError(t, c.Set(ctx, keyOf(i), i, 0))
		assert.LessOrEqual(t, c.Stats().Size, 5)
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New(core.CacheConfig{Enabled: true, MaxSize: 10, Strategy: "lru"}, nil, nil)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 10*time.Millisecond))
	_, ok := c.Get(ctx, "k")
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok, "expired entries must be treated as absent")
}

func TestHitRate(t *testing.T) {
	c := New(core.CacheConfig{Enabled: true, MaxSize: 10, Strategy: "lru"}, nil, nil)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	c.Get(ctx, "k") // hit
	c.Get(ctx, "k") // hit
	c.Get(ctx, "missing") // miss

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.001)
}

func TestInvalidatePattern(t *testing.T) {
	c := New(core.CacheConfig{Enabled: true, MaxSize: 100, Strategy: "lru"}, nil, nil)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "tool-a|args1", 1, 0))
	require.NoError(t, c.Set(ctx, "tool-a|args2", 2, 0))
	require.NoError(t, c.Set(ctx, "tool-b|args1", 3, 0))

	c.InvalidatePattern(ctx, "tool-a")

	_, ok := c.Get(ctx, "tool-a|args1")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "tool-a|args2")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "tool-b|args1")
	assert.True(t, ok)
}

func TestCacheIdempotence(t *testing.T) {
	// §8: set(k,v); get(k) = v until TTL or eviction.
	c := New(core.CacheConfig{Enabled: true, MaxSize: 10, Strategy: "lru"}, nil, nil)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "stable", 0))
	for i := 0; i < 5; i++ {
		v, ok := c.Get(ctx, "k")
		require.True(t, ok)
		require.Equal(t, "stable", v)
	}
}

func keyOf(i int) string {
	const letters = "0123456789abcdefghijklmnopqrstuvwxyz"
	return string(letters[i%len(letters)]) + string(rune('A'+i%26))
}
