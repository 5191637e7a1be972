package core

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every runtime knob from §6's configuration surface. Like
// gomind's Config it is built through three layers of increasing priority:
// struct defaults, environment variables, then functional Options applied
// last by NewConfig.
type Config struct {
	Name string `yaml:"name" env:"UTAC_NAME"`

	Cache     CacheConfig     `yaml:"cache"`
	Pool      PoolConfig      `yaml:"pool"`
	RateLimit RateLimiterConfig `yaml:"rateLimit"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Health    HealthConfig    `yaml:"health"`
	Batch     BatchConfig     `yaml:"batch"`
}

// CacheConfig is §6's cache knob set.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	MaxSize  int           `yaml:"maxSize"`
	TTL      time.Duration `yaml:"ttl"`
	Strategy string        `yaml:"strategy"` // lru | lfu | adaptive
	L2       L2Config      `yaml:"l2"`
	WriteThrough bool      `yaml:"writeThrough"` // false = cache-aside
}

// L2Config configures the optional external-KV second tier.
type L2Config struct {
	Enabled  bool   `yaml:"enabled"`
	RedisURL string `yaml:"redisUrl"`
	Prefix   string `yaml:"prefix"`
}

// PoolConfig is §6's pool knob set.
type PoolConfig struct {
	Min               int           `yaml:"min"`
	Max               int           `yaml:"max"`
	AcquireTimeout    time.Duration `yaml:"acquireTimeout"`
	IdleTimeout       time.Duration `yaml:"idleTimeout"`
	MaxLifetime       time.Duration `yaml:"maxLifetime"`
	Strategy          string        `yaml:"strategy"` // round-robin | least-connections | random | weighted
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
}

// RateLimiterConfig is §6's rate limiter knob set.
type RateLimiterConfig struct {
	Algorithm string                  `yaml:"algorithm"` // token-bucket | sliding-window | fixed-window | leaky-bucket
	Global    LimitSpec               `yaml:"global"`
	Workspace LimitSpec               `yaml:"workspace"`
	User      LimitSpec               `yaml:"user"`
	Tool      map[string]LimitSpec    `yaml:"tool"`
	Burst     BurstSpec               `yaml:"burst"`
	Dynamic   DynamicSpec             `yaml:"dynamic"`
}

// LimitSpec is one {requests, windowMs} admission limit.
type LimitSpec struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// BurstSpec configures the extra short-spike allowance.
type BurstSpec struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// DynamicSpec configures load-based capacity adjustment.
type DynamicSpec struct {
	Enabled             bool    `yaml:"enabled"`
	SystemLoadThreshold float64 `yaml:"systemLoadThreshold"`
	AdjustmentFactor    float64 `yaml:"adjustmentFactor"`
}

// BreakerConfig is §6's circuit breaker knob set.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	RecoveryTimeout  time.Duration `yaml:"recoveryTimeout"`
	HalfOpenMax      int           `yaml:"halfOpenMaxRequests"`
}

// HealthConfig is §6's health monitor knob set.
type HealthConfig struct {
	Intervals   map[string]time.Duration `yaml:"intervals"` // by tier: system|service|tool|external
	Timeouts    map[string]time.Duration `yaml:"timeouts"`
	Thresholds  HealthThresholds         `yaml:"thresholds"`
	SelfHealing bool                     `yaml:"selfHealing"`
}

// HealthThresholds are the numeric bands from §4.5.
type HealthThresholds struct {
	ConsecutiveFailures int     `yaml:"consecutive"`
	SuccessRate         float64 `yaml:"successRate"`
	ResponseTime        time.Duration `yaml:"responseTime"`
	RecoverySuccesses   int     `yaml:"recovery"`
}

// BatchConfig is §6's batcher knob set.
type BatchConfig struct {
	MaxBatchSize       int           `yaml:"maxBatchSize"`
	BatchTimeout       time.Duration `yaml:"batchTimeout"`
	IntelligentBatching bool         `yaml:"intelligentBatching"`
}

// DefaultConfig returns production-sane defaults, the way gomind's
// DefaultConfig seeds every nested struct before options or env vars touch
// it.
func DefaultConfig() *Config {
	return &Config{
		Name: "utac",
		Cache: CacheConfig{
			Enabled:  true,
			MaxSize:  10_000,
			TTL:      5 * time.Minute,
			Strategy: "lru",
		},
		Pool: PoolConfig{
			Min:               0,
			Max:               10,
			AcquireTimeout:    2 * time.Second,
			IdleTimeout:       5 * time.Minute,
			MaxLifetime:       30 * time.Minute,
			Strategy:          "round-robin",
			HealthCheckPeriod: 30 * time.Second,
		},
		RateLimit: RateLimiterConfig{
			Algorithm: "token-bucket",
			Global:    LimitSpec{Requests: 1000, Window: time.Minute},
			Tool:      map[string]LimitSpec{},
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			HalfOpenMax:      3,
		},
		Health: HealthConfig{
			Intervals: map[string]time.Duration{
				"system": 10 * time.Second, "service": 15 * time.Second,
				"tool": 30 * time.Second, "external": 60 * time.Second,
			},
			Timeouts: map[string]time.Duration{
				"system": 2 * time.Second, "service": 3 * time.Second,
				"tool": 5 * time.Second, "external": 10 * time.Second,
			},
			Thresholds: HealthThresholds{
				ConsecutiveFailures: 3, SuccessRate: 0.9,
				ResponseTime: 2 * time.Second, RecoverySuccesses: 2,
			},
			SelfHealing: true,
		},
		Batch: BatchConfig{
			MaxBatchSize:        10,
			BatchTimeout:        50 * time.Millisecond,
			IntelligentBatching: true,
		},
	}
}

// Option mutates a Config; options are applied after defaults and env vars,
// matching gomind's highest-priority-last precedence.
type Option func(*Config)

// WithCacheStrategy overrides the eviction strategy.
func WithCacheStrategy(strategy string) Option {
	return func(c *Config) { c.Cache.Strategy = strategy }
}

// WithCacheSize overrides the cache's maxSize.
func WithCacheSize(maxSize int) Option {
	return func(c *Config) { c.Cache.MaxSize = maxSize }
}

// WithPoolLimits overrides min/max pool size.
func WithPoolLimits(min, max int) Option {
	return func(c *Config) { c.Pool.Min = min; c.Pool.Max = max }
}

// WithBreaker overrides the circuit breaker thresholds.
func WithBreaker(failureThreshold int, recoveryTimeout time.Duration, halfOpenMax int) Option {
	return func(c *Config) {
		c.Breaker.FailureThreshold = failureThreshold
		c.Breaker.RecoveryTimeout = recoveryTimeout
		c.Breaker.HalfOpenMax = halfOpenMax
	}
}

// WithRedisL2 enables the Redis-backed L2 cache tier.
func WithRedisL2(url, prefix string) Option {
	return func(c *Config) {
		c.Cache.L2 = L2Config{Enabled: true, RedisURL: url, Prefix: prefix}
	}
}

// NewConfig builds a Config from defaults, then environment variables, then
// opts — in that priority order, matching gomind's NewConfig(opts ...Option).
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()
	applyEnv(cfg)
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadConfigFile reads a YAML file and applies opts on top of it, mirroring
// gomind's WithConfigFile layering (file overrides defaults+env, options
// override the file).
func LoadConfigFile(path string, opts ...Option) (*Config, error) {
	cfg := DefaultConfig()
	applyEnv(cfg)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("UTAC_NAME"); v != "" {
		cfg.Name = v
	}
	if v := os.Getenv("UTAC_CACHE_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MaxSize = n
		}
	}
	if v := os.Getenv("UTAC_POOL_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.Max = n
		}
	}
}

// Validate enforces the boundary behaviors §8 names at config-load time:
// windowMs -> 0 is rejected, min must not exceed max.
func (c *Config) Validate() error {
	if c.Pool.Min > c.Pool.Max {
		return fmt.Errorf("%w: pool.min (%d) exceeds pool.max (%d)", ErrInvalidConfiguration, c.Pool.Min, c.Pool.Max)
	}
	if c.RateLimit.Global.Requests > 0 && c.RateLimit.Global.Window <= 0 {
		return fmt.Errorf("%w: rate limit windowMs must be > 0", ErrInvalidConfiguration)
	}
	if c.RateLimit.Workspace.Requests > 0 && c.RateLimit.Workspace.Window <= 0 {
		return fmt.Errorf("%w: rate limit windowMs for workspace must be > 0", ErrInvalidConfiguration)
	}
	if c.RateLimit.User.Requests > 0 && c.RateLimit.User.Window <= 0 {
		return fmt.Errorf("%w: rate limit windowMs for user must be > 0", ErrInvalidConfiguration)
	}
	for tool, spec := range c.RateLimit.Tool {
		if spec.Requests > 0 && spec.Window <= 0 {
			return fmt.Errorf("%w: rate limit windowMs for tool %q must be > 0", ErrInvalidConfiguration, tool)
		}
	}
	if c.Breaker.HalfOpenMax < 0 {
		return fmt.Errorf("%w: breaker.halfOpenMaxRequests must be >= 0", ErrInvalidConfiguration)
	}
	return nil
}
