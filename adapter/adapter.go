// Package adapter implements the Adapter (C10): the per-tool composition
// of C1-C9 around a single SourceTool. The execution pipeline is fixed
// (§4.10): validateInput -> mapToSource -> buildSourceCtx -> callSource ->
// formatResult -> validateOutput, where callSource itself threads through
// cache lookup, rate-limit check, batching, the circuit breaker gate and
// the connection pool, in that order (§2's control-flow diagram).
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/nexus-tools/utac/batch"
	"github.com/nexus-tools/utac/breaker"
	"github.com/nexus-tools/utac/cache"
	"github.com/nexus-tools/utac/core"
	"github.com/nexus-tools/utac/format"
	"github.com/nexus-tools/utac/mapper"
	"github.com/nexus-tools/utac/pool"
	"github.com/nexus-tools/utac/ratelimit"
	"github.com/nexus-tools/utac/validate"
)

// RetryPolicy governs retries of the retriable failure class (§4.12's
// failure-semantics summary: transient source errors, pool acquire
// timeouts, half-open probe failures).
type RetryPolicy struct {
	MaxAttempts uint
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Config is everything needed to build one Adapter from a BlockConfig plus
// its collaborators. Every collaborator except Tool and Block is optional:
// a nil Cache/Limiter/Breaker/Pool disables that stage of the pipeline,
// which lets a development harness stand up a minimal adapter without
// wiring the full control-plane stack.
type Config struct {
	ID           string
	Name         string
	Description  string
	Block        core.BlockConfig
	Tags         []string
	Requirements []string
	MappingRules []mapper.MappingRule
	ValidateRules []validate.Rule
	NaturalLanguage format.NaturalLanguageConfig
	RetryPolicy  RetryPolicy
	CacheTTL     time.Duration
	Pure         bool // pure tools may be cached (§3: "for non-pure tools cache is disabled per-adapter")

	Tool    core.SourceTool
	Cache   cache.Cache
	Pool    pool.Pool
	Limiter ratelimit.Limiter
	Breaker breaker.Breaker
	Batcher *batch.Batcher
	Logger  core.Logger
	Telemetry core.Telemetry
}

// Parameter is the agent-facing description of one visible sub-block
// (§6's "agent-facing tool interface").
type Parameter struct {
	ID       string
	Kind     core.SubBlockKind
	Required bool
}

// Descriptor is the introspection surface §4.10 requires alongside Execute.
type Descriptor struct {
	ID           string
	Name         string
	Description  string
	Category     string
	Tags         []string
	Capabilities []string
	Requirements []string
	Parameters   []Parameter
}

// Adapter is C10's public contract.
type Adapter struct {
	cfg       Config
	validator *validate.Engine
}

// New builds an Adapter. Construction-time configuration errors are fatal
// per §4.12 ("propagate during registration, abort registration for that
// tool"): New returns an error rather than a half-built Adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("adapter: Config.ID is required")
	}
	if cfg.Tool == nil {
		return nil, fmt.Errorf("adapter: Config.Tool is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = core.NoOpLogger{}
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = core.NoOpTelemetry{}
	}
	if cfg.RetryPolicy.MaxAttempts == 0 {
		cfg.RetryPolicy.MaxAttempts = 1
	}
	return &Adapter{
		cfg:       cfg,
		validator: validate.New(cfg.ValidateRules...),
	}, nil
}

// Descriptor returns C10's introspection surface, excluding every sub-block
// §3 forbids from the agent-facing list (hidden, trigger-config).
func (a *Adapter) Descriptor() Descriptor {
	params := make([]Parameter, 0, len(a.cfg.Block.SubBlocks))
	for _, sb := range a.cfg.Block.SubBlocks {
		if sb.Hidden() {
			continue
		}
		params = append(params, Parameter{ID: sb.ID, Kind: sb.Kind, Required: sb.Required})
	}
	caps := []string{"execute"}
	if it, ok := a.cfg.Tool.(core.InterruptibleTool); ok && it.HasInterrupt() {
		caps = append(caps, "interactive")
	}
	return Descriptor{
		ID:           a.cfg.ID,
		Name:         a.cfg.Name,
		Description:  a.cfg.Description,
		Category:     a.cfg.Block.CategoryOrDefault(),
		Tags:         a.cfg.Tags,
		Capabilities: caps,
		Requirements: a.cfg.Requirements,
		Parameters:   params,
	}
}

// TestParameterMapping is the dry-run hook §4.10 requires: it runs
// validateInput and mapToSource only, never touching the source tool,
// cache, pool or any other stage.
func (a *Adapter) TestParameterMapping(execCtx core.ExecutionContext, args map[string]interface{}) (map[string]interface{}, error) {
	if fieldErrs := a.validator.ValidateInput(a.cfg.Block, args); len(fieldErrs) > 0 {
		return nil, core.NewValidationError("testParameterMapping", fieldErrs)
	}
	return mapper.Map(a.cfg.MappingRules, args, execCtx)
}

// Execute runs the fixed C10 pipeline and always returns a valid
// AdapterResult: a faulted internal error is itself formatted, never
// returned as a bare Go error, matching §3's "exactly one of: returned
// result, rejected, or faulted" exit condition (a faulted request still
// exits via a returned result here, with the fault recorded in metadata).
func (a *Adapter) Execute(ctx context.Context, execCtx core.ExecutionContext, args map[string]interface{}, requestID string) core.AdapterResult {
	spanCtx, span := a.cfg.Telemetry.StartSpan(ctx, "adapter.execute")
	defer span.End()

	if fieldErrs := a.validator.ValidateInput(a.cfg.Block, args); len(fieldErrs) > 0 {
		return a.reject(core.NewValidationError("execute", fieldErrs))
	}

	mapped, err := mapper.Map(a.cfg.MappingRules, args, execCtx)
	if err != nil {
		return a.fault(err)
	}

	sourceCtx := a.buildSourceCtx(spanCtx, execCtx)

	result, err := a.callSource(sourceCtx, execCtx, mapped, requestID)
	if err != nil {
		span.RecordError(err)
		if core.IsAdmission(err) {
			return a.reject(err)
		}
		return a.fault(err)
	}

	out := format.Format(result, a.cfg.NaturalLanguage)
	if err := validate.ValidateOutput(out); err != nil {
		return a.fault(core.NewInternalError("validateOutput", requestID, err))
	}
	a.cfg.Telemetry.RecordMetric(string(core.EventExecutionCompleted), 1, map[string]string{"tool": a.cfg.ID})
	return out
}

// buildSourceCtx derives the context the source tool and its collaborators
// see: execCtx's stable fields are attached as a value so deeper layers
// (logging, tracing) can read them without ExecutionContext itself being
// threaded through every signature.
func (a *Adapter) buildSourceCtx(ctx context.Context, execCtx core.ExecutionContext) context.Context {
	return context.WithValue(ctx, execCtxKey{}, execCtx)
}

type execCtxKey struct{}

func (a *Adapter) reject(err error) core.AdapterResult {
	a.cfg.Telemetry.RecordMetric(string(core.EventExecutionError), 1, map[string]string{"tool": a.cfg.ID, "outcome": "rejected"})
	return format.FormatError(err, a.cfg.NaturalLanguage)
}

func (a *Adapter) fault(err error) core.AdapterResult {
	a.cfg.Logger.Error("adapter execution faulted", map[string]interface{}{"tool": a.cfg.ID, "error": err.Error()})
	a.cfg.Telemetry.RecordMetric(string(core.EventExecutionError), 1, map[string]string{"tool": a.cfg.ID, "outcome": "faulted"})
	return format.FormatError(err, a.cfg.NaturalLanguage)
}

// callSource is the C1/C3/C6/C4/C2 chain from the control-flow diagram:
// cache lookup, rate-limit check, batcher, circuit-breaker gate, pool
// acquire, source execute, cache store.
func (a *Adapter) callSource(ctx context.Context, execCtx core.ExecutionContext, mapped map[string]interface{}, requestID string) (core.SourceResult, error) {
	var key core.CacheKey
	cacheable := a.cfg.Pure && a.cfg.Cache != nil
	if cacheable {
		key = core.NewCacheKey(a.cfg.ID, mapped, execCtx)
		if cached, ok := a.cfg.Cache.Get(ctx, key.String()); ok {
			a.cfg.Telemetry.RecordMetric(string(core.EventCacheHit), 1, map[string]string{"tool": a.cfg.ID})
			if result, ok := cached.(core.SourceResult); ok {
				return result, nil
			}
		}
	}

	if a.cfg.Limiter != nil {
		decision, err := a.cfg.Limiter.CheckLimit(ctx, ratelimit.Key{
			ToolID: a.cfg.ID, UserID: execCtx.UserID, WorkspaceID: execCtx.WorkspaceID,
		})
		if err != nil {
			return core.SourceResult{}, core.NewInternalError("rateLimit", requestID, err)
		}
		if !decision.Allowed {
			a.cfg.Telemetry.RecordMetric(string(core.EventLimitExceeded), 1, map[string]string{"tool": a.cfg.ID, "scope": decision.Scope})
			return core.SourceResult{}, core.NewAdmissionError("execute", "rate_limit_exceeded", decision.RetryAfter.Milliseconds(), core.ErrRateLimitExceeded)
		}
	}

	executor := a.sourceExecutor()
	var outcome batch.Outcome
	if a.cfg.Batcher != nil {
		outcome, _ = a.cfg.Batcher.TryBatch(ctx, a.cfg.ID, execCtx, mapped, executor, requestID)
	} else {
		value, err := executor(ctx, mapped)
		outcome = batch.Outcome{Value: value, Err: err}
	}
	if outcome.Err != nil {
		return core.SourceResult{}, outcome.Err
	}
	result, ok := outcome.Value.(core.SourceResult)
	if !ok {
		return core.SourceResult{}, core.NewInternalError("callSource", requestID, fmt.Errorf("source executor returned unexpected type %T", outcome.Value))
	}

	if cacheable {
		_ = a.cfg.Cache.Set(ctx, key.String(), result, a.cfg.CacheTTL)
	}
	return result, nil
}

// sourceExecutor wraps the circuit-breaker gate, the pool acquire/release
// pair and the retry policy around a single call into the source tool. It
// satisfies batch.Executor so the same function works whether or not
// batching is enabled.
func (a *Adapter) sourceExecutor() batch.Executor {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		op := func() (core.SourceResult, error) {
			result, err := a.guardedCall(ctx, args)
			if err != nil && !core.IsRetryable(err) {
				return result, backoff.Permanent(err)
			}
			return result, err
		}
		if a.cfg.RetryPolicy.MaxAttempts <= 1 {
			return op()
		}
		bo := backoff.NewExponentialBackOff()
		if a.cfg.RetryPolicy.BaseDelay > 0 {
			bo.InitialInterval = a.cfg.RetryPolicy.BaseDelay
		}
		if a.cfg.RetryPolicy.MaxDelay > 0 {
			bo.MaxInterval = a.cfg.RetryPolicy.MaxDelay
		}
		return backoff.Retry(ctx, op,
			backoff.WithBackOff(bo),
			backoff.WithMaxTries(a.cfg.RetryPolicy.MaxAttempts),
		)
	}
}

// guardedCall is the circuit-breaker-gated, pool-acquired source call
// itself: one pool seat per invocation, released unconditionally.
func (a *Adapter) guardedCall(ctx context.Context, args map[string]interface{}) (core.SourceResult, error) {
	call := func(ctx context.Context) (interface{}, error) {
		if a.cfg.Pool != nil {
			conn, err := a.cfg.Pool.Acquire(ctx, a.cfg.ID)
			if err != nil {
				return nil, err
			}
			defer a.cfg.Pool.Release(conn)
		}
		return a.cfg.Tool.Execute(ctx, args)
	}

	var (
		value interface{}
		err   error
	)
	if a.cfg.Breaker != nil {
		value, err = a.cfg.Breaker.Call(ctx, call)
	} else {
		value, err = call(ctx)
	}
	if err != nil {
		if admissionErr, ok := asAdmissionError(err); ok {
			return core.SourceResult{}, admissionErr
		}
		if result, ok := value.(core.SourceResult); ok {
			return result, core.NewExecutionError("execute", err.Error(), err)
		}
		return core.SourceResult{}, core.NewExecutionError("execute", err.Error(), err)
	}
	result, ok := value.(core.SourceResult)
	if !ok {
		return core.SourceResult{}, core.NewInternalError("execute", "", fmt.Errorf("source tool returned unexpected type %T", value))
	}
	return result, nil
}

// asAdmissionError reclassifies a denial raised by the circuit breaker or
// the connection pool as a KindAdmission error: §4.12 lists both under
// "never retried", and Execute must reject rather than fault on either one.
func asAdmissionError(err error) (*core.Error, bool) {
	switch {
	case errors.Is(err, core.ErrCircuitBreakerOpen):
		return core.NewAdmissionError("execute", "breaker_open", 0, err), true
	case errors.Is(err, core.ErrPoolExhausted):
		return core.NewAdmissionError("execute", "pool_exhausted", 0, err), true
	default:
		return nil, false
	}
}
