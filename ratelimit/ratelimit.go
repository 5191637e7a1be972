// Package ratelimit implements the Rate Limiter (C3): hierarchical request
// admission across tool, user, workspace, and global scopes. The fail-open
// behavior on internal errors follows gomind's
// ui/security.EnhancedRedisRateLimiter.Allow, which admits the request and
// logs rather than blocking traffic when Redis itself is unhealthy.
package ratelimit

import (
	"context"
	"time"

	"github.com/nexus-tools/utac/core"
)

// Key identifies the scopes a request is checked against. Empty fields skip
// that tier.
type Key struct {
	ToolID      string
	UserID      string
	WorkspaceID string
}

// Decision is the outcome of a single CheckLimit call.
type Decision struct {
	Allowed    bool
	Scope      string // which tier produced the denial, empty if allowed
	RetryAfter time.Duration
}

// Limiter is C3's contract.
type Limiter interface {
	CheckLimit(ctx context.Context, key Key) (Decision, error)
	WaitForLimit(ctx context.Context, key Key) error
	UpdateLimits(cfg core.RateLimiterConfig)
	ResetLimits(key Key)
}

type tieredLimiter struct {
	cfg       core.RateLimiterConfig
	algorithm Algorithm
	burst     *burstPool
	logger    core.Logger
	telemetry core.Telemetry
	loadFn    func() float64 // system load source for dynamic adjustment, 0..1
}

// Option configures optional collaborators.
type Option func(*tieredLimiter)

// WithTelemetry attaches a Telemetry sink for limit-exceeded events.
func WithTelemetry(t core.Telemetry) Option {
	return func(l *tieredLimiter) { l.telemetry = t }
}

// WithLoadSource overrides how current system load (0..1) is read for
// dynamic capacity adjustment (§4.3).
func WithLoadSource(fn func() float64) Option {
	return func(l *tieredLimiter) { l.loadFn = fn }
}

// New builds a Limiter using cfg.Algorithm's admission rule for every tier.
func New(cfg core.RateLimiterConfig, logger core.Logger, opts ...Option) Limiter {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	l := &tieredLimiter{
		cfg:       cfg,
		algorithm: algorithmFor(cfg.Algorithm),
		burst:     newBurstPool(cfg.Burst),
		logger:    core.WithComponent(logger, "ratelimit"),
		telemetry: core.NoOpTelemetry{},
		loadFn:    func() float64 { return 0 },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckLimit enforces every configured tier in order tool -> user ->
// workspace -> global (§4.3); the first tier to deny wins. A tier with no
// configured limit (Requests == 0) is skipped. On an internal algorithm
// error the limiter fails open and tags the event rate_limiter_error,
// matching gomind's Redis limiter behavior.
func (l *tieredLimiter) CheckLimit(ctx context.Context, key Key) (Decision, error) {
	tiers := l.tiers(key)
	for _, t := range tiers {
		if t.spec.Requests <= 0 {
			continue
		}
		limit := l.adjustedLimit(t.spec)
		ok, retryAfter, err := l.algorithm.Allow(t.key, limit)
		if err != nil {
			l.logger.ErrorWithContext(ctx, "rate limit check failed, failing open", map[string]interface{}{
				"error": err.Error(),
				"scope": t.scope,
				"tag":   "rate_limiter_error",
			})
			continue
		}
		if !ok {
			if l.burst.tryConsume(t.key) {
				continue
			}
			l.telemetry.RecordMetric(string(core.EventLimitExceeded), 1, map[string]string{"scope": t.scope})
			return Decision{Allowed: false, Scope: t.scope, RetryAfter: retryAfter}, nil
		}
	}
	return Decision{Allowed: true}, nil
}

type tier struct {
	scope string
	key   string
	spec  core.LimitSpec
}

func (l *tieredLimiter) tiers(key Key) []tier {
	var out []tier
	if key.ToolID != "" {
		if spec, ok := l.cfg.Tool[key.ToolID]; ok {
			out = append(out, tier{scope: "tool", key: "tool:" + key.ToolID, spec: spec})
		}
	}
	if key.UserID != "" {
		out = append(out, tier{scope: "user", key: "user:" + key.UserID, spec: l.cfg.User})
	}
	if key.WorkspaceID != "" {
		out = append(out, tier{scope: "workspace", key: "workspace:" + key.WorkspaceID, spec: l.cfg.Workspace})
	}
	out = append(out, tier{scope: "global", key: "global", spec: l.cfg.Global})
	return out
}

// adjustedLimit applies the dynamic load-factor reduction (§4.3): when
// system load exceeds the configured threshold, capacity shrinks by
// 1 - load*AdjustmentFactor, so the reduction scales with how far over
// threshold the measured load actually is.
func (l *tieredLimiter) adjustedLimit(spec core.LimitSpec) core.LimitSpec {
	if !l.cfg.Dynamic.Enabled {
		return spec
	}
	load := l.loadFn()
	if load <= l.cfg.Dynamic.SystemLoadThreshold {
		return spec
	}
	reduced := int(float64(spec.Requests) * (1 - load*l.cfg.Dynamic.AdjustmentFactor))
	if reduced < 1 {
		reduced = 1
	}
	return core.LimitSpec{Requests: reduced, Window: spec.Window}
}

// WaitForLimit blocks until CheckLimit would admit the request or ctx is
// done.
func (l *tieredLimiter) WaitForLimit(ctx context.Context, key Key) error {
	for {
		decision, err := l.CheckLimit(ctx, key)
		if err != nil {
			return err
		}
		if decision.Allowed {
			return nil
		}
		wait := decision.RetryAfter
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (l *tieredLimiter) UpdateLimits(cfg core.RateLimiterConfig) {
	l.cfg = cfg
	l.algorithm = algorithmFor(cfg.Algorithm)
	l.burst = newBurstPool(cfg.Burst)
}

func (l *tieredLimiter) ResetLimits(key Key) {
	for _, t := range l.tiers(key) {
		l.algorithm.Reset(t.key)
	}
}
