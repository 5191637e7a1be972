// Package health implements the Health Monitor (C5): per-component status
// tracking across four tiers, with trend analysis and optional self-healing
// actions. Atomic counters and a reported-status snapshot follow the same
// shape as gomind's telemetry.GetHealth/Health struct.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/nexus-tools/utac/core"
)

// Tier is one of the four health-check scopes §4.5 names.
type Tier string

const (
	TierSystem   Tier = "system"
	TierService  Tier = "service"
	TierTool     Tier = "tool"
	TierExternal Tier = "external"
)

// Status is a component's current health classification.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckFn is one health probe. It should respect ctx's deadline.
type CheckFn func(ctx context.Context) error

// ComponentHealth is the reported snapshot for one monitored component.
type ComponentHealth struct {
	ID                   string
	Tier                 Tier
	Status               Status
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	SuccessRate          float64
	AvgLatency           time.Duration
	LastCheck            time.Time
	Trend                float64 // slope of recent latency samples, ms/check
}

type component struct {
	id      string
	tier    Tier
	check   CheckFn
	mu      sync.Mutex
	samples []sample
	status  Status
	consecF int
	consecS int
	lastErr error
}

type sample struct {
	at      time.Time
	ok      bool
	latency time.Duration
}

const maxSamples = 50

// Monitor is C5's contract.
type Monitor interface {
	Register(id string, tier Tier, check CheckFn)
	Check(ctx context.Context, id string) error
	Status(id string) (ComponentHealth, bool)
	Snapshot() []ComponentHealth
	Start(ctx context.Context)
	Stop()
}

type monitor struct {
	mu         sync.RWMutex
	components map[string]*component
	cfg        core.HealthConfig
	logger     core.Logger
	telemetry  core.Telemetry
	actions    []Action

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Monitor. actions run whenever a Check moves a component into
// StatusUnhealthy from another state, giving self-healing a single hook
// point (§4.5's "recovery actions") instead of scattering the trigger
// through every tier's check loop.
func New(cfg core.HealthConfig, logger core.Logger, telemetry core.Telemetry, actions ...Action) Monitor {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = core.NoOpTelemetry{}
	}
	return &monitor{
		components: make(map[string]*component),
		cfg:        cfg,
		logger:     core.WithComponent(logger, "health"),
		telemetry:  telemetry,
		actions:    actions,
		stopCh:     make(chan struct{}),
	}
}

func (m *monitor) Register(id string, tier Tier, check CheckFn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components[id] = &component{id: id, tier: tier, check: check, status: StatusHealthy}
}

// Check runs one probe for id and updates its rolling state. Classification
// is §4.5's exact banding: ConsecutiveFailures past the threshold is
// unhealthy; success rate or latency outside the configured band is
// degraded; otherwise healthy.
func (m *monitor) Check(ctx context.Context, id string) error {
	m.mu.RLock()
	c, ok := m.components[id]
	m.mu.RUnlock()
	if !ok {
		return core.ErrNotFound
	}

	timeout := m.cfg.Timeouts[string(c.tier)]
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := c.check(checkCtx)
	latency := time.Since(start)

	c.mu.Lock()
	prevStatus := c.status
	c.samples = append(c.samples, sample{at: start, ok: err == nil, latency: latency})
	if len(c.samples) > maxSamples {
		c.samples = c.samples[len(c.samples)-maxSamples:]
	}
	if err != nil {
		c.consecF++
		c.consecS = 0
		c.lastErr = err
	} else {
		c.consecS++
		c.consecF = 0
	}
	c.status = classify(c, m.cfg.Thresholds)
	newStatus := c.status
	c.mu.Unlock()

	if newStatus != prevStatus {
		m.logger.InfoWithContext(ctx, "component health status changed", map[string]interface{}{
			"id": id, "from": string(prevStatus), "to": string(newStatus),
		})
		m.telemetry.RecordMetric(string(core.EventInstanceHealthChange), 1, map[string]string{"id": id, "status": string(newStatus)})
		if m.cfg.SelfHealing && newStatus == StatusUnhealthy {
			m.runRecoveryActions(ctx, id)
		}
		if newStatus == StatusUnhealthy {
			m.telemetry.RecordMetric(string(core.EventHealthAlert), 1, map[string]string{"id": id})
		}
	}
	return err
}

func classify(c *component, th core.HealthThresholds) Status {
	if th.ConsecutiveFailures > 0 && c.consecF >= th.ConsecutiveFailures {
		return StatusUnhealthy
	}
	if len(c.samples) == 0 {
		return StatusHealthy
	}

	var okCount int
	var totalLatency time.Duration
	for _, s := range c.samples {
		if s.ok {
			okCount++
		}
		totalLatency += s.latency
	}
	rate := float64(okCount) / float64(len(c.samples))
	avgLatency := totalLatency / time.Duration(len(c.samples))

	if th.SuccessRate > 0 && rate < th.SuccessRate {
		return StatusDegraded
	}
	if th.ResponseTime > 0 && avgLatency > th.ResponseTime {
		return StatusDegraded
	}
	return StatusHealthy
}

func (m *monitor) runRecoveryActions(ctx context.Context, id string) {
	for _, a := range m.actions {
		if err := a.Execute(ctx, id); err != nil {
			m.logger.WarnWithContext(ctx, "recovery action failed", map[string]interface{}{
				"action": a.Name(), "id": id, "error": err.Error(),
			})
			m.telemetry.RecordMetric(string(core.EventRecoveryFailed), 1, map[string]string{"action": a.Name(), "id": id})
			continue
		}
		m.telemetry.RecordMetric(string(core.EventRecoveryCompleted), 1, map[string]string{"action": a.Name(), "id": id})
	}
}

func (m *monitor) Status(id string) (ComponentHealth, bool) {
	m.mu.RLock()
	c, ok := m.components[id]
	m.mu.RUnlock()
	if !ok {
		return ComponentHealth{}, false
	}
	return snapshot(c), true
}

func (m *monitor) Snapshot() []ComponentHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ComponentHealth, 0, len(m.components))
	for _, c := range m.components {
		out = append(out, snapshot(c))
	}
	return out
}

func snapshot(c *component) ComponentHealth {
	c.mu.Lock()
	defer c.mu.Unlock()

	var okCount int
	var totalLatency time.Duration
	var lastCheck time.Time
	for _, s := range c.samples {
		if s.ok {
			okCount++
		}
		totalLatency += s.latency
		if s.at.After(lastCheck) {
			lastCheck = s.at
		}
	}
	var rate float64
	var avgLatency time.Duration
	if len(c.samples) > 0 {
		rate = float64(okCount) / float64(len(c.samples))
		avgLatency = totalLatency / time.Duration(len(c.samples))
	}

	return ComponentHealth{
		ID:                   c.id,
		Tier:                 c.tier,
		Status:               c.status,
		ConsecutiveFailures:  c.consecF,
		ConsecutiveSuccesses: c.consecS,
		SuccessRate:          rate,
		AvgLatency:           avgLatency,
		LastCheck:            lastCheck,
		Trend:                latencyTrend(c.samples),
	}
}

// Start launches one ticking goroutine per tier present in cfg.Intervals,
// sweeping every registered component of that tier.
func (m *monitor) Start(ctx context.Context) {
	for tierName, interval := range m.cfg.Intervals {
		if interval <= 0 {
			continue
		}
		m.wg.Add(1)
		go m.tierLoop(ctx, Tier(tierName), interval)
	}
}

func (m *monitor) tierLoop(ctx context.Context, tier Tier, interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.mu.RLock()
			var ids []string
			for id, c := range m.components {
				if c.tier == tier {
					ids = append(ids, id)
				}
			}
			m.mu.RUnlock()
			for _, id := range ids {
				_ = m.Check(ctx, id)
			}
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *monitor) Stop() {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
	m.wg.Wait()
}
