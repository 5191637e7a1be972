// Package registry implements the Framework Registry (C11): it builds
// Adapters from BlockConfigs, tracks their runtime statistics, answers
// discovery queries, and manages the plugin lifecycle. It is the one
// package that wires every other control-plane package together into a
// running fleet of adapters, the way gomind's core.Discovery embeds
// core.Registry to add discovery on top of plain registration.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexus-tools/utac/adapter"
	"github.com/nexus-tools/utac/batch"
	"github.com/nexus-tools/utac/breaker"
	"github.com/nexus-tools/utac/cache"
	"github.com/nexus-tools/utac/core"
	"github.com/nexus-tools/utac/format"
	"github.com/nexus-tools/utac/health"
	"github.com/nexus-tools/utac/mapper"
	"github.com/nexus-tools/utac/pool"
	"github.com/nexus-tools/utac/ratelimit"
	"github.com/nexus-tools/utac/validate"
)

// Stats is the running statistics §4.11 requires at registration time
// ("registers it with initial statistics and healthy status").
type Stats struct {
	Invocations int64
	Successes   int64
	Failures    int64
}

// SuccessRate is 1.0 until the first invocation, matching a freshly
// registered adapter's "healthy, no evidence otherwise" status.
func (s *Stats) SuccessRate() float64 {
	invocations := atomic.LoadInt64(&s.Invocations)
	if invocations == 0 {
		return 1.0
	}
	return float64(atomic.LoadInt64(&s.Successes)) / float64(invocations)
}

func (s *Stats) recordSuccess() {
	atomic.AddInt64(&s.Invocations, 1)
	atomic.AddInt64(&s.Successes, 1)
}

func (s *Stats) recordFailure() {
	atomic.AddInt64(&s.Invocations, 1)
	atomic.AddInt64(&s.Failures, 1)
}

// Hints are the natural-language discovery aids the registry synthesizes
// alongside each adapter: usage copy plus a keyword/alias vocabulary. They
// are stored on the entry; DiscoverTools does not score against them.
type Hints struct {
	UsageDescription string
	Examples         []string
	Keywords         []string
	Aliases          []string
}

type registeredEntry struct {
	Adapter    *adapter.Adapter
	Descriptor adapter.Descriptor
	Hints      Hints
	Stats      *Stats
	Healthy    atomic.Bool
}

// Overrides lets a caller of CreateAdapterFromBlockConfig customize the
// defaults synthesized from a BlockConfig (§4.11: "defaults merged with
// overrides").
type Overrides struct {
	Tags            []string
	Requirements    []string
	MappingRules    []mapper.MappingRule
	ValidateRules   []validate.Rule
	Hints           Hints
	Pure            bool
	RetryPolicy     adapter.RetryPolicy
	CacheTTL        time.Duration
}

// Framework is C11's contract: it owns the shared collaborators (cache,
// pool, limiter, breaker registry, health monitor, batcher) every adapter
// it creates is wired against, plus the adapter/plugin bookkeeping.
type Framework struct {
	mu       sync.RWMutex
	adapters map[string]*registeredEntry
	plugins  map[string]Plugin

	cache     cache.Cache
	pool      pool.Pool
	limiter   ratelimit.Limiter
	breakers  *breaker.Registry
	health    health.Monitor
	batcher   *batch.Batcher
	logger    core.Logger
	telemetry core.Telemetry
}

// Collaborators groups the shared components a Framework is built from.
// Any field left nil disables that pipeline stage for every adapter the
// Framework creates, the same per-stage opt-out adapter.Config exposes.
type Collaborators struct {
	Cache     cache.Cache
	Pool      pool.Pool
	Limiter   ratelimit.Limiter
	Breakers  *breaker.Registry
	Health    health.Monitor
	Batcher   *batch.Batcher
	Logger    core.Logger
	Telemetry core.Telemetry
}

// New builds a Framework around the given shared collaborators.
func New(c Collaborators) *Framework {
	if c.Logger == nil {
		c.Logger = core.NoOpLogger{}
	}
	if c.Telemetry == nil {
		c.Telemetry = core.NoOpTelemetry{}
	}
	return &Framework{
		adapters:  make(map[string]*registeredEntry),
		plugins:   make(map[string]Plugin),
		cache:     c.Cache,
		pool:      c.Pool,
		limiter:   c.Limiter,
		breakers:  c.Breakers,
		health:    c.Health,
		batcher:   c.Batcher,
		logger:    core.WithComponent(c.Logger, "registry"),
		telemetry: c.Telemetry,
	}
}

// CreateAdapterFromBlockConfig synthesizes an AdapterConfiguration from cfg
// (defaults merged with overrides), computes parameter mappings from the
// sub-blocks, synthesizes natural-language hints, constructs the Adapter,
// and registers it with initial statistics and healthy status (§4.11).
// A construction failure is a fatal/configuration error per §4.12: it
// aborts registration for this tool without touching the rest of the
// registry.
func (f *Framework) CreateAdapterFromBlockConfig(block core.BlockConfig, tool core.SourceTool, overrides Overrides) (*adapter.Adapter, error) {
	rules := overrides.MappingRules
	if rules == nil {
		rules = defaultMappingRules(block)
	}
	hints := overrides.Hints
	if hints.UsageDescription == "" {
		hints = synthesizeHints(block)
	}

	var breakerGate breaker.Breaker
	if f.breakers != nil {
		breakerGate = f.breakers.For(block.ID)
	}

	cfg := adapter.Config{
		ID:              block.ID,
		Name:            block.Name,
		Description:     block.Description,
		Block:           block,
		Tags:            overrides.Tags,
		Requirements:    overrides.Requirements,
		MappingRules:    rules,
		ValidateRules:   overrides.ValidateRules,
		NaturalLanguage: defaultNaturalLanguage(block),
		RetryPolicy:     overrides.RetryPolicy,
		CacheTTL:        overrides.CacheTTL,
		Pure:            overrides.Pure,
		Tool:            tool,
		Cache:           f.cache,
		Pool:            f.pool,
		Limiter:         f.limiter,
		Breaker:         breakerGate,
		Batcher:         f.batcher,
		Logger:          f.logger,
		Telemetry:       f.telemetry,
	}

	a, err := adapter.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("registering adapter %q: %w", block.ID, err)
	}

	entry := &registeredEntry{
		Adapter:    a,
		Descriptor: a.Descriptor(),
		Hints:      hints,
		Stats:      &Stats{},
	}
	entry.Healthy.Store(true)

	f.mu.Lock()
	f.adapters[block.ID] = entry
	f.mu.Unlock()

	f.logger.Info("adapter registered", map[string]interface{}{"id": block.ID, "category": block.CategoryOrDefault()})
	return a, nil
}

// RecordOutcome updates the registered adapter's running statistics; a
// caller (e.g. the development harness in cmd/utacd) invokes this after
// each Execute so DiscoverTools's success-rate bonus reflects reality.
func (f *Framework) RecordOutcome(toolID string, result core.AdapterResult) {
	f.mu.RLock()
	entry, ok := f.adapters[toolID]
	f.mu.RUnlock()
	if !ok {
		return
	}
	if result.Kind == core.ResultError {
		entry.Stats.recordFailure()
	} else {
		entry.Stats.recordSuccess()
	}
}

// SetHealthy lets the health monitor's recovery actions or a manual
// operator override set an adapter's health flag. DiscoverTools does not
// filter on this flag.
func (f *Framework) SetHealthy(toolID string, healthy bool) {
	f.mu.RLock()
	entry, ok := f.adapters[toolID]
	f.mu.RUnlock()
	if ok {
		entry.Healthy.Store(healthy)
	}
}

// Get returns the registered Adapter for toolID.
func (f *Framework) Get(toolID string) (*adapter.Adapter, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.adapters[toolID]
	if !ok {
		return nil, false
	}
	return entry.Adapter, true
}

// Shutdown stops health monitoring, flushes any in-flight batched work,
// closes the pool, and clears caches, strictly in that order (§4.11).
func (f *Framework) Shutdown(ctx context.Context, poolDrainTimeout time.Duration) error {
	if f.health != nil {
		f.health.Stop()
	}
	if f.batcher != nil {
		f.batcher.Shutdown(ctx)
	}
	if f.pool != nil {
		if err := f.pool.Shutdown(ctx, poolDrainTimeout); err != nil {
			return fmt.Errorf("closing pool: %w", err)
		}
	}
	if f.cache != nil {
		f.cache.Clear(ctx)
		f.cache.Close()
	}
	return nil
}

func defaultMappingRules(block core.BlockConfig) []mapper.MappingRule {
	rules := make([]mapper.MappingRule, 0, len(block.SubBlocks))
	for _, sb := range block.SubBlocks {
		if sb.Hidden() {
			continue
		}
		rules = append(rules, mapper.MappingRule{
			SubBlockID:  sb.ID,
			TargetParam: sb.CanonicalSourceParameter(),
			Source:      mapper.SourceOriginal,
		})
	}
	return rules
}

func defaultNaturalLanguage(block core.BlockConfig) format.NaturalLanguageConfig {
	return format.NaturalLanguageConfig{
		SuccessSummary:  fmt.Sprintf("%s completed", displayName(block)),
		ErrorSuggestion: "check the highlighted fields and try again",
	}
}

func displayName(block core.BlockConfig) string {
	if block.Name != "" {
		return block.Name
	}
	return block.ID
}

func synthesizeHints(block core.BlockConfig) Hints {
	keywords := strings.Fields(strings.ToLower(block.Description))
	return Hints{
		UsageDescription: fmt.Sprintf("Use %s to %s.", displayName(block), strings.ToLower(block.Description)),
		Keywords:         keywords,
	}
}
