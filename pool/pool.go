// Package pool implements the Connection Pool (C2): a bounded set of
// reusable source-tool connections with idle/active tracking, pluggable
// selection strategies, and a FIFO waiter queue for callers blocked on
// Acquire. Lifecycle (two-phase shutdown via context cancellation + WaitGroup
// drain) follows gomind's orchestration.TaskWorkerPool.Stop.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nexus-tools/utac/core"
)

// Conn is one pooled connection to a source tool.
type Conn struct {
	ID         string
	ToolID     string
	Resource   interface{}
	CreatedAt  time.Time
	LastUsedAt time.Time
	UsageCount int64
	healthy    bool
}

// Factory creates and destroys the underlying resource a Conn wraps. Pools
// are constructed against one Factory per tool.
type Factory interface {
	Create(ctx context.Context, toolID string) (interface{}, error)
	Destroy(ctx context.Context, resource interface{}) error
	HealthCheck(ctx context.Context, resource interface{}) error
}

type waiter struct {
	ch      chan *Conn
	toolID  string
	expired chan struct{}
}

// Pool is C2's contract.
type Pool interface {
	Acquire(ctx context.Context, toolID string) (*Conn, error)
	Release(conn *Conn)
	Resize(min, max int) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context, timeout time.Duration) error
	Stats() Stats
}

// Stats is the pool's current occupancy snapshot.
type Stats struct {
	Active  int
	Idle    int
	Waiting int
}

type connectionPool struct {
	mu       sync.Mutex
	cfg      core.PoolConfig
	factory  Factory
	logger   core.Logger

	idle    []*Conn
	active  map[string]*Conn
	waiters []*waiter
	creating int

	strategy strategy

	stopHealth chan struct{}
	wg         sync.WaitGroup
	closed     bool
}

// New builds a connection pool and warms it to cfg.Min connections
// concurrently via errgroup, the way gomind's agent startup fans out
// independent setup steps.
func New(ctx context.Context, cfg core.PoolConfig, factory Factory, logger core.Logger) (Pool, error) {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	p := &connectionPool{
		cfg:        cfg,
		factory:    factory,
		logger:     core.WithComponent(logger, "pool"),
		active:     make(map[string]*Conn),
		strategy:   strategyFor(cfg.Strategy),
		stopHealth: make(chan struct{}),
	}

	if cfg.Min > 0 {
		g, gctx := errgroup.WithContext(ctx)
		results := make([]*Conn, cfg.Min)
		for i := 0; i < cfg.Min; i++ {
			i := i
			g.Go(func() error {
				c, err := p.createConn(gctx, "")
				if err != nil {
					return err
				}
				results[i] = c
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("warming pool to min=%d: %w", cfg.Min, err)
		}
		p.idle = append(p.idle, results...)
	}

	if cfg.HealthCheckPeriod > 0 {
		p.wg.Add(1)
		go p.healthLoop(cfg.HealthCheckPeriod)
	}
	return p, nil
}

func (p *connectionPool) createConn(ctx context.Context, toolID string) (*Conn, error) {
	res, err := p.factory.Create(ctx, toolID)
	if err != nil {
		return nil, core.NewExecutionError("pool.create", "failed to create connection", err)
	}
	now := time.Now()
	return &Conn{
		ID:         fmt.Sprintf("%s-%d", toolID, now.UnixNano()),
		ToolID:     toolID,
		Resource:   res,
		CreatedAt:  now,
		LastUsedAt: now,
		healthy:    true,
	}, nil
}

// Acquire returns an idle connection, creates a new one if under max, or
// queues the caller FIFO until one frees up or ctx's deadline passes
// (§4.2, §8 invariant 4: active+idle+creating <= max at all times).
func (p *connectionPool) Acquire(ctx context.Context, toolID string) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, core.ErrShuttingDown
	}

	if idx := p.strategy.pick(p.idle, toolID); idx >= 0 {
		c := p.idle[idx]
		p.idle = append(p.idle[:idx], p.idle[idx+1:]...)
		c.LastUsedAt = time.Now()
		c.UsageCount++
		p.active[c.ID] = c
		p.mu.Unlock()
		return c, nil
	}

	total := len(p.idle) + len(p.active) + p.creating
	if p.cfg.Max <= 0 || total < p.cfg.Max {
		p.creating++
		p.mu.Unlock()

		c, err := p.createConn(ctx, toolID)

		p.mu.Lock()
		p.creating--
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
		c.UsageCount = 1
		p.active[c.ID] = c
		p.mu.Unlock()
		return c, nil
	}

	w := &waiter{ch: make(chan *Conn, 1), toolID: toolID, expired: make(chan struct{})}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	select {
	case c := <-w.ch:
		return c, nil
	case <-ctx.Done():
		close(w.expired)
		p.mu.Lock()
		p.removeWaiterLocked(w)
		p.mu.Unlock()
		return nil, core.ErrAcquireTimeout
	}
}

func (p *connectionPool) removeWaiterLocked(target *waiter) {
	for i, w := range p.waiters {
		if w == target {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

// Release returns a connection to the pool, handing it directly to the
// oldest waiter (FIFO) if one is queued for that tool, otherwise moving it
// to idle.
func (p *connectionPool) Release(conn *Conn) {
	if conn == nil {
		return
	}
	p.mu.Lock()
	delete(p.active, conn.ID)

	for i, w := range p.waiters {
		select {
		case <-w.expired:
			continue
		default:
		}
		if w.toolID != "" && w.toolID != conn.ToolID {
			continue
		}
		p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
		conn.LastUsedAt = time.Now()
		conn.UsageCount++
		p.active[conn.ID] = conn
		p.mu.Unlock()
		w.ch <- conn
		return
	}

	p.idle = append(p.idle, conn)
	p.mu.Unlock()
}

// Resize changes min/max bounds. It does not forcibly evict active
// connections over a lowered max; they drain naturally on Release.
func (p *connectionPool) Resize(min, max int) error {
	if min > max {
		return fmt.Errorf("%w: min (%d) exceeds max (%d)", core.ErrInvalidConfiguration, min, max)
	}
	p.mu.Lock()
	p.cfg.Min = min
	p.cfg.Max = max
	p.mu.Unlock()
	return nil
}

// HealthCheck probes every idle connection and discards unhealthy ones.
func (p *connectionPool) HealthCheck(ctx context.Context) error {
	p.mu.Lock()
	toCheck := make([]*Conn, len(p.idle))
	copy(toCheck, p.idle)
	p.mu.Unlock()

	var bad []*Conn
	for _, c := range toCheck {
		if err := p.factory.HealthCheck(ctx, c.Resource); err != nil {
			bad = append(bad, c)
		}
	}
	if len(bad) == 0 {
		return nil
	}

	p.mu.Lock()
	for _, c := range bad {
		for i, idle := range p.idle {
			if idle.ID == c.ID {
				p.idle = append(p.idle[:i], p.idle[i+1:]...)
				break
			}
		}
	}
	p.mu.Unlock()

	for _, c := range bad {
		_ = p.factory.Destroy(ctx, c.Resource)
	}
	return nil
}

func (p *connectionPool) healthLoop(period time.Duration) {
	defer p.wg.Done()
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = p.HealthCheck(context.Background())
		case <-p.stopHealth:
			return
		}
	}
}

// Shutdown stops the health-check loop and destroys every connection
// (idle and active), waiting up to timeout for in-flight users to Release
// their connections first. Two-phase: signal, then bounded wait, mirroring
// gomind's TaskWorkerPool.Stop.
func (p *connectionPool) Shutdown(ctx context.Context, timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stopHealth)
	for _, w := range p.waiters {
		close(w.expired)
	}
	p.waiters = nil
	p.mu.Unlock()

	deadline := time.Now().Add(timeout)
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Until(deadline)):
		p.logger.Warn("shutdown timeout waiting for health loop", nil)
	case <-ctx.Done():
	}

	// In-flight users get until the same deadline to Release.
	for ctx.Err() == nil && time.Now().Before(deadline) {
		p.mu.Lock()
		inFlight := len(p.active)
		p.mu.Unlock()
		if inFlight == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	p.mu.Lock()
	all := append(append([]*Conn{}, p.idle...), activeValues(p.active)...)
	p.idle = nil
	p.active = make(map[string]*Conn)
	p.mu.Unlock()

	for _, c := range all {
		_ = p.factory.Destroy(ctx, c.Resource)
	}
	return nil
}

func activeValues(m map[string]*Conn) []*Conn {
	out := make([]*Conn, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

func (p *connectionPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Active: len(p.active), Idle: len(p.idle), Waiting: len(p.waiters)}
}
