package core

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigAppliesDefaultsThenEnvThenOptions(t *testing.T) {
	require.NoError(t, os.Setenv("UTAC_CACHE_MAX_SIZE", "500"))
	defer os.Unsetenv("UTAC_CACHE_MAX_SIZE")

	cfg, err := NewConfig(WithCacheStrategy("lfu"))
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Cache.MaxSize, "env var must override the struct default")
	assert.Equal(t, "lfu", cfg.Cache.Strategy, "option must override both default and env")
}

func TestNewConfigOptionWinsOverEnv(t *testing.T) {
	require.NoError(t, os.Setenv("UTAC_POOL_MAX", "20"))
	defer os.Unsetenv("UTAC_POOL_MAX")

	cfg, err := NewConfig(WithPoolLimits(1, 5))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Pool.Max, "explicit option must win over env var")
}

func TestConfigValidateRejectsPoolMinExceedingMax(t *testing.T) {
	_, err := NewConfig(WithPoolLimits(10, 5))
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestConfigValidateRejectsZeroWindowWithPositiveRequests(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit.Global = LimitSpec{Requests: 100, Window: 0}
	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestConfigValidateAllowsZeroRequestsWithZeroWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit.Global = LimitSpec{Requests: 0, Window: 0}
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidateRejectsNegativeHalfOpenMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Breaker.HalfOpenMax = -1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration)
}

func TestWithRedisL2EnablesL2Config(t *testing.T) {
	cfg, err := NewConfig(WithRedisL2("redis://localhost:6379", "utac:"))
	require.NoError(t, err)
	assert.True(t, cfg.Cache.L2.Enabled)
	assert.Equal(t, "redis://localhost:6379", cfg.Cache.L2.RedisURL)
	assert.Equal(t, "utac:", cfg.Cache.L2.Prefix)
}

func TestDefaultConfigIsAlreadyValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestLoadConfigFileOverridesDefaultsWithFileThenOptions(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/utac.yaml"
	contents := "name: my-service\ncache:\n  maxSize: 777\n  strategy: lfu\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := LoadConfigFile(path, WithCacheStrategy("adaptive"))
	require.NoError(t, err)

	assert.Equal(t, "my-service", cfg.Name)
	assert.Equal(t, 777, cfg.Cache.MaxSize)
	assert.Equal(t, "adaptive", cfg.Cache.Strategy, "option must still win over file contents")
	assert.Equal(t, 2*time.Second, cfg.Health.Timeouts["system"], "non-overridden defaults must survive file merge")
}

func TestLoadConfigFileMissingFileErrors(t *testing.T) {
	_, err := LoadConfigFile("/nonexistent/path/utac.yaml")
	assert.Error(t, err)
}
