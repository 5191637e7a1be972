// Package batch implements the Request Batcher (C6): requests that arrive
// within a short window for the same tool/context/agent are grouped and
// flushed together, with each request's executor still invoked and awaited
// independently. Concurrent flush uses golang.org/x/sync/errgroup, the same
// fan-out primitive the rest of the retrieval pack reaches for over raw
// WaitGroup bookkeeping.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nexus-tools/utac/core"
)

// Executor runs one request's actual work. Each waiter in a batch calls its
// own Executor; batching only coalesces *when* they run, not *what* runs.
type Executor func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Predicate decides, for a given request's args, whether it is eligible for
// batching when IntelligentBatching is on. There is no implicit arg-shape
// inference (§9 Open Question, resolved explicitly): with IntelligentBatching
// enabled and no Predicate configured, nothing is ever batched.
type Predicate func(args map[string]interface{}) bool

// Outcome is one request's batched (or solo) result.
type Outcome struct {
	Value interface{}
	Err   error
}

type batchKey struct {
	toolID  string
	ctxType string
	agentID string
}

type request struct {
	args      map[string]interface{}
	executor  Executor
	requestID string
	resultCh  chan Outcome
}

type pendingBatch struct {
	requests []*request
	timer    *time.Timer
}

// Batcher is C6's contract.
type Batcher struct {
	mu      sync.Mutex
	cfg     core.BatchConfig
	pred    Predicate
	pending map[batchKey]*pendingBatch
	logger  core.Logger
}

// Option configures an optional batching predicate.
type Option func(*Batcher)

// WithPredicate installs the caller-supplied batchability check used when
// cfg.IntelligentBatching is true.
func WithPredicate(p Predicate) Option {
	return func(b *Batcher) { b.pred = p }
}

// New builds a Batcher.
func New(cfg core.BatchConfig, logger core.Logger, opts ...Option) *Batcher {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	b := &Batcher{
		cfg:     cfg,
		pending: make(map[batchKey]*pendingBatch),
		logger:  core.WithComponent(logger, "batch"),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Batcher) batchable(args map[string]interface{}) bool {
	if !b.cfg.IntelligentBatching {
		return true
	}
	if b.pred == nil {
		return false
	}
	return b.pred(args)
}

// TryBatch submits one request. If it is not batchable it runs immediately
// and the returned bool is false. If it is batchable it joins (or starts)
// the pending batch for (toolID, execCtx.Type, execCtx.AgentID) and blocks
// until that batch flushes; the returned bool is true.
func (b *Batcher) TryBatch(ctx context.Context, toolID string, execCtx core.ExecutionContext, args map[string]interface{}, executor Executor, requestID string) (Outcome, bool) {
	if !b.batchable(args) {
		v, err := executor(ctx, args)
		return Outcome{Value: v, Err: err}, false
	}

	key := batchKey{toolID: toolID, ctxType: execCtx.Type, agentID: execCtx.AgentID}
	req := &request{args: args, executor: executor, requestID: requestID, resultCh: make(chan Outcome, 1)}

	b.mu.Lock()
	pb, ok := b.pending[key]
	if !ok {
		pb = &pendingBatch{}
		b.pending[key] = pb
		timeout := b.cfg.BatchTimeout
		if timeout <= 0 {
			timeout = 50 * time.Millisecond
		}
		pb.timer = time.AfterFunc(timeout, func() { b.flush(context.Background(), key) })
	}
	pb.requests = append(pb.requests, req)
	shouldFlushNow := b.cfg.MaxBatchSize > 0 && len(pb.requests) >= b.cfg.MaxBatchSize
	b.mu.Unlock()

	if shouldFlushNow {
		pb.timer.Stop()
		b.flush(ctx, key)
	}

	select {
	case out := <-req.resultCh:
		return out, true
	case <-ctx.Done():
		return Outcome{Err: ctx.Err()}, true
	}
}

// flush detaches the pending batch for key (if any is still there — a
// concurrent flush may have already claimed it) and runs every request's
// executor concurrently, independent outcomes per waiter.
func (b *Batcher) flush(ctx context.Context, key batchKey) {
	b.mu.Lock()
	pb, ok := b.pending[key]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.pending, key)
	b.mu.Unlock()

	reqs := pb.requests
	if len(reqs) == 0 {
		return
	}

	b.logger.Debug("flushing batch", map[string]interface{}{
		"tool": key.toolID, "size": len(reqs),
	})

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range reqs {
		r := r
		g.Go(func() error {
			v, err := r.executor(gctx, r.args)
			r.resultCh <- Outcome{Value: v, Err: err}
			return nil // never abort siblings; each waiter gets its own outcome
		})
	}
	_ = g.Wait()
}

// Shutdown flushes every pending batch immediately, used on adapter/registry
// shutdown so no caller is left waiting on a timer that will never fire
// again.
func (b *Batcher) Shutdown(ctx context.Context) {
	b.mu.Lock()
	keys := make([]batchKey, 0, len(b.pending))
	for k, pb := range b.pending {
		pb.timer.Stop()
		keys = append(keys, k)
	}
	b.mu.Unlock()

	for _, k := range keys {
		b.flush(ctx, k)
	}
}

func (k batchKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.toolID, k.ctxType, k.agentID)
}
