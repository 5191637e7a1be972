// Package cache implements the Intelligent Cache (C1): a bounded key->value
// store with TTL and pluggable eviction, optionally backed by an external
// second tier. It generalizes gomind's orchestration.SimpleCache (a single
// fixed-strategy routing-plan cache) into a strategy-selectable cache sized
// and evicted per §4.1's exact formulas.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexus-tools/utac/core"
)

// Entry is one stored value plus the bookkeeping every eviction Strategy
// needs: last access time (LRU), access count (LFU), and creation time (for
// adaptive scoring and TTL).
type Entry struct {
	Value       interface{}
	CreatedAt   time.Time
	LastAccess  time.Time
	AccessCount int64
	ExpiresAt   time.Time // zero means no TTL
}

func (e *Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Stats reports the cache's current performance snapshot (§4.1: "hit rate
// exposed atomically").
type Stats struct {
	Size      int
	Hits      int64
	Misses    int64
	Evictions int64
	HitRate   float64
}

// Cache is C1's contract.
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Has(ctx context.Context, key string) bool
	InvalidateKey(ctx context.Context, key string)
	InvalidatePattern(ctx context.Context, substr string)
	Cleanup(ctx context.Context)
	Clear(ctx context.Context)
	UpdateConfig(cfg core.CacheConfig)
	Stats() Stats
	// Close stops the background sweep goroutine.
	Close()
}

// intelligentCache is the concrete Cache implementation. One *sync.RWMutex
// guards the whole entries map (§5: structure-granularity locking, never
// per-entry), matching the pattern every other control plane uses.
type intelligentCache struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	strategy Strategy
	cfg      core.CacheConfig
	l2       ExternalStore // nil when no L2 tier configured

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	logger core.Logger

	stopSweep chan struct{}
	closeOnce sync.Once
}

// New builds an intelligent cache for the given config. The background
// sweep runs every TTL/4, but never less often than every 2 minutes (see
// sweepInterval).
func New(cfg core.CacheConfig, l2 ExternalStore, logger core.Logger) Cache {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	c := &intelligentCache{
		entries:   make(map[string]*Entry),
		strategy:  strategyFor(cfg.Strategy),
		cfg:       cfg,
		l2:        l2,
		logger:    core.WithComponent(logger, "cache"),
		stopSweep: make(chan struct{}),
	}
	go c.sweepLoop(sweepInterval(cfg))
	return c
}

func sweepInterval(cfg core.CacheConfig) time.Duration {
	// §4.1: "a background sweep runs at least every 2 minutes" - this is a
	// maximum period, not a minimum; 2 minutes is the slowest acceptable
	// cadence, so anything configured slower is clamped down to it.
	const maxPeriod = 2 * time.Minute
	if cfg.TTL > 0 && cfg.TTL/4 < maxPeriod {
		return cfg.TTL / 4
	}
	return maxPeriod
}

func (c *intelligentCache) Get(ctx context.Context, key string) (interface{}, bool) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && !entry.expired(time.Now()) {
		entry.LastAccess = time.Now()
		entry.AccessCount++
		c.mu.Unlock()
		c.hits.Add(1)
		return entry.Value, true
	}
	if ok {
		delete(c.entries, key) // expired: treat as absent (§3)
	}
	c.mu.Unlock()

	if c.l2 != nil {
		if v, found := c.l2.Get(ctx, key); found {
			// promote to L1 on L2 hit (§4.1)
			c.mu.Lock()
			c.entries[key] = &Entry{Value: v, CreatedAt: time.Now(), LastAccess: time.Now(), AccessCount: 1}
			c.mu.Unlock()
			c.hits.Add(1)
			return v, true
		}
	}

	c.misses.Add(1)
	return nil, false
}

func (c *intelligentCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	now := time.Now()
	entry := &Entry{Value: value, CreatedAt: now, LastAccess: now, AccessCount: 0}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}

	var errCh chan error
	if c.l2 != nil && c.cfg.WriteThrough {
		// write-through: both tiers concurrently (§4.1); L2 starts before L1
		errCh = make(chan error, 1)
		go func() { errCh <- c.l2.Set(ctx, key, value, ttl) }()
	}

	c.mu.Lock()
	maxSize := c.cfg.MaxSize
	if maxSize > 0 && len(c.entries) >= maxSize {
		if _, exists := c.entries[key]; !exists {
			c.evictLocked(maxSize)
		}
	}
	c.entries[key] = entry
	c.mu.Unlock()

	if errCh != nil {
		return <-errCh
	}
	if c.l2 == nil {
		return nil
	}
	// cache-aside: L1 already written above, now L2 sequentially
	return c.l2.Set(ctx, key, value, ttl)
}

// evictLocked must be called with c.mu held. It evicts down to
// floor(0.8*maxSize) per §4.1.
func (c *intelligentCache) evictLocked(maxSize int) {
	target := (maxSize * 8) / 10
	if target >= len(c.entries) {
		return
	}
	victims := c.strategy.SelectVictims(c.entries, len(c.entries)-target)
	for _, k := range victims {
		delete(c.entries, k)
	}
	c.evictions.Add(int64(len(victims)))
}

func (c *intelligentCache) Has(ctx context.Context, key string) bool {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && !entry.expired(time.Now()) {
		return true
	}
	if c.l2 != nil {
		return c.l2.Has(ctx, key)
	}
	return false
}

func (c *intelligentCache) InvalidateKey(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	if c.l2 != nil {
		c.l2.Delete(ctx, key)
	}
}

func (c *intelligentCache) InvalidatePattern(ctx context.Context, substr string) {
	c.mu.Lock()
	for k := range c.entries {
		if containsSubstr(k, substr) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
	if c.l2 != nil {
		c.l2.DeletePattern(ctx, substr)
	}
}

func containsSubstr(s, substr string) bool {
	if substr == "" {
		return true
	}
	return indexOf(s, substr) >= 0
}

func indexOf(s, sub string) int {
	n, m := len(s), len(sub)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}

func (c *intelligentCache) Cleanup(ctx context.Context) {
	now := time.Now()
	c.mu.Lock()
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

func (c *intelligentCache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]*Entry)
	c.mu.Unlock()
	if c.l2 != nil {
		c.l2.Clear(ctx)
	}
}

func (c *intelligentCache) UpdateConfig(cfg core.CacheConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	c.strategy = strategyFor(cfg.Strategy)
}

func (c *intelligentCache) Stats() Stats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()

	hits, misses := c.hits.Load(), c.misses.Load()
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Stats{Size: size, Hits: hits, Misses: misses, Evictions: c.evictions.Load(), HitRate: hitRate}
}

func (c *intelligentCache) Close() {
	c.closeOnce.Do(func() { close(c.stopSweep) })
}

func (c *intelligentCache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Cleanup(context.Background())
		case <-c.stopSweep:
			return
		}
	}
}
