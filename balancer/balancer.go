// Package balancer implements the optional Load Balancer (C12): it
// distributes requests across replicated adapter instances the same way
// pool.Pool distributes connection acquisition across idle connections,
// generalized with session affinity and a per-instance circuit breaker
// reused from package breaker.
package balancer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nexus-tools/utac/breaker"
	"github.com/nexus-tools/utac/core"
)

// Instance is one replicated backend the balancer can route to.
type Instance struct {
	ID      string
	Address string
	Lat     float64
	Lon     float64

	mu          sync.Mutex
	activeConns int64
	rpsValue    float64
	errorRate   float64
	latencyMs   float64
	weight      float64
}

func (i *Instance) snapshot() (activeConns int64, rps, errorRate, latencyMs, weight float64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.activeConns, i.rpsValue, i.errorRate, i.latencyMs, i.weight
}

// Weights for the performance-rescoring formula (§4.12).
type Weights struct {
	Latency   float64 // alpha
	RPS       float64 // beta
	ErrorRate float64 // gamma
}

// DefaultWeights matches a balanced 1:1:1 contribution from each factor.
func DefaultWeights() Weights { return Weights{Latency: 1, RPS: 1, ErrorRate: 1} }

// SelectionRequest carries the routing hints a Strategy may need.
type SelectionRequest struct {
	SessionID string
	ClientIP  string
	ClientLat float64
	ClientLon float64
}

type affinityEntry struct {
	instanceID string
	expiresAt  time.Time
}

// Balancer is C12's contract.
type Balancer interface {
	AddInstance(inst *Instance)
	RemoveInstance(id string)
	UpdatePerformance(id string, latencyMs, rps, errorRate float64)
	Select(ctx context.Context, req SelectionRequest) (*Instance, error)
	Breaker(id string) breaker.Breaker
}

type loadBalancer struct {
	mu        sync.RWMutex
	instances map[string]*Instance
	order     []string // stable iteration order for round-robin
	next      int

	strategy  strategy
	weights   Weights
	affinity  map[string]affinityEntry
	affinityTTL time.Duration

	breakers *breaker.Registry
	logger   core.Logger
}

// Config configures a Balancer.
type Config struct {
	Strategy    string // round-robin | least-connections | random | weighted | ip-hash | geographic
	Weights     Weights
	AffinityTTL time.Duration
}

// New builds a Balancer backed by its own breaker.Registry (§4.12:
// "integrates per-instance circuit breaker, §4.4").
func New(cfg Config, breakerCfg core.BreakerConfig, logger core.Logger) Balancer {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	weights := cfg.Weights
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	return &loadBalancer{
		instances:   make(map[string]*Instance),
		strategy:    strategyFor(cfg.Strategy),
		weights:     weights,
		affinity:    make(map[string]affinityEntry),
		affinityTTL: cfg.AffinityTTL,
		breakers:    breaker.NewRegistry(breakerCfg, logger, nil),
		logger:      core.WithComponent(logger, "balancer"),
	}
}

func (b *loadBalancer) AddInstance(inst *Instance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.instances[inst.ID]; !exists {
		b.order = append(b.order, inst.ID)
	}
	b.instances[inst.ID] = inst
}

func (b *loadBalancer) RemoveInstance(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.instances, id)
	for i, existing := range b.order {
		if existing == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// UpdatePerformance feeds fresh samples into an instance and recomputes its
// weight using §4.12's performance-rescoring formula:
// weight = clamp(0.1,10) of max(0.1, 1-latency/1000*alpha) * (1+rps/100*beta) * max(0.1, 1-errorRate*gamma)
func (b *loadBalancer) UpdatePerformance(id string, latencyMs, rps, errorRate float64) {
	b.mu.RLock()
	inst, ok := b.instances[id]
	b.mu.RUnlock()
	if !ok {
		return
	}
	inst.mu.Lock()
	inst.latencyMs = latencyMs
	inst.rpsValue = rps
	inst.errorRate = errorRate
	inst.weight = rescoreWeight(latencyMs, rps, errorRate, b.weights)
	inst.mu.Unlock()
}

func rescoreWeight(latencyMs, rps, errorRate float64, w Weights) float64 {
	latencyFactor := maxf(0.1, 1-(latencyMs/1000)*w.Latency)
	rpsFactor := 1 + (rps/100)*w.RPS
	errorFactor := maxf(0.1, 1-errorRate*w.ErrorRate)
	weight := latencyFactor * rpsFactor * errorFactor
	return clamp(weight, 0.1, 10)
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Select routes one request to a healthy instance: session affinity wins
// first if present and still valid, otherwise the configured Strategy
// picks among instances whose circuit breaker is not open.
func (b *loadBalancer) Select(ctx context.Context, req SelectionRequest) (*Instance, error) {
	if req.SessionID != "" {
		if inst, ok := b.affinityInstance(req.SessionID); ok {
			return inst, nil
		}
	}

	b.mu.Lock()
	candidates := b.healthyCandidatesLocked()
	if len(candidates) == 0 {
		b.mu.Unlock()
		return nil, fmt.Errorf("balancer: no healthy instances available")
	}
	idx := b.strategy.pick(candidates, req, b)
	b.next++
	chosen := candidates[idx]
	b.mu.Unlock()

	if req.SessionID != "" && b.affinityTTL > 0 {
		b.mu.Lock()
		b.affinity[req.SessionID] = affinityEntry{instanceID: chosen.ID, expiresAt: time.Now().Add(b.affinityTTL)}
		b.mu.Unlock()
	}
	return chosen, nil
}

// healthyCandidatesLocked must be called with b.mu held.
func (b *loadBalancer) healthyCandidatesLocked() []*Instance {
	candidates := make([]*Instance, 0, len(b.order))
	for _, id := range b.order {
		inst := b.instances[id]
		if b.breakers.For(id).State() == breaker.StateOpen {
			continue
		}
		candidates = append(candidates, inst)
	}
	return candidates
}

func (b *loadBalancer) affinityInstance(sessionID string) (*Instance, bool) {
	b.mu.Lock()
	entry, ok := b.affinity[sessionID]
	if ok && time.Now().After(entry.expiresAt) {
		delete(b.affinity, sessionID)
		ok = false
	}
	b.mu.Unlock()
	if !ok {
		return nil, false
	}
	b.mu.RLock()
	inst, exists := b.instances[entry.instanceID]
	b.mu.RUnlock()
	if !exists || b.breakers.For(entry.instanceID).State() == breaker.StateOpen {
		return nil, false
	}
	return inst, true
}

// Breaker exposes the per-instance circuit breaker so a caller can gate a
// call to that instance the same way Adapter gates calls to a source tool.
func (b *loadBalancer) Breaker(id string) breaker.Breaker {
	return b.breakers.For(id)
}
