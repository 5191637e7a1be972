package adapter

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-tools/utac/breaker"
	"github.com/nexus-tools/utac/cache"
	"github.com/nexus-tools/utac/core"
)

type fakeTool struct {
	calls   atomic.Int32
	execute func(ctx context.Context, args map[string]interface{}) (core.SourceResult, error)
}

func (f *fakeTool) Descriptor() core.ToolDescriptor { return core.ToolDescriptor{ID: "fake"} }

func (f *fakeTool) Execute(ctx context.Context, args map[string]interface{}) (core.SourceResult, error) {
	f.calls.Add(1)
	if f.execute != nil {
		return f.execute(ctx, args)
	}
	return core.SourceResult{Status: 200, Message: "ok", Data: args}, nil
}

func okBlock() core.BlockConfig {
	return core.BlockConfig{
		ID:   "echo",
		Type: "echo",
		SubBlocks: []core.SubBlockConfig{
			{ID: "query", Kind: core.KindShortInput, Required: true},
		},
	}
}

func TestExecuteHappyPath(t *testing.T) {
	tool := &fakeTool{}
	a, err := New(Config{ID: "echo", Tool: tool, Block: okBlock()})
	require.NoError(t, err)

	result := a.Execute(context.Background(), core.ExecutionContext{}, map[string]interface{}{"query": "hi"}, "req-1")
	assert.Equal(t, core.ResultSuccess, result.Kind)
	assert.NotEmpty(t, result.Conversational.Summary)
}

func TestExecuteRejectsOnValidationFailure(t *testing.T) {
	tool := &fakeTool{}
	a, err := New(Config{ID: "echo", Tool: tool, Block: okBlock()})
	require.NoError(t, err)

	result := a.Execute(context.Background(), core.ExecutionContext{}, map[string]interface{}{}, "req-2")
	assert.Equal(t, core.ResultError, result.Kind)
	assert.Equal(t, int32(0), tool.calls.Load(), "a validation failure must never reach the source tool")
}

func TestTestParameterMappingNeverCallsSource(t *testing.T) {
	tool := &fakeTool{}
	a, err := New(Config{ID: "echo", Tool: tool, Block: okBlock()})
	require.NoError(t, err)

	mapped, err := a.TestParameterMapping(core.ExecutionContext{}, map[string]interface{}{"query": "hi"})
	require.NoError(t, err)
	assert.Equal(t, int32(0), tool.calls.Load())
	assert.NotNil(t, mapped)
}

func TestExecuteRetriesRetryableExecutionError(t *testing.T) {
	var tool *fakeTool
	tool = &fakeTool{execute: func(ctx context.Context, args map[string]interface{}) (core.SourceResult, error) {
		if tool.calls.Load() < 3 {
			return core.SourceResult{}, errors.New("transient upstream failure")
		}
		return core.SourceResult{Status: 200, Message: "recovered"}, nil
	}}
	a, err := New(Config{
		ID: "echo", Tool: tool, Block: okBlock(),
		RetryPolicy: RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
	require.NoError(t, err)

	result := a.Execute(context.Background(), core.ExecutionContext{}, map[string]interface{}{"query": "hi"}, "req-3")
	assert.Equal(t, core.ResultSuccess, result.Kind)
	assert.GreaterOrEqual(t, tool.calls.Load(), int32(3))
}

func TestExecuteDoesNotRetryValidationFailure(t *testing.T) {
	tool := &fakeTool{}
	a, err := New(Config{ID: "echo", Tool: tool, Block: okBlock(), RetryPolicy: RetryPolicy{MaxAttempts: 5}})
	require.NoError(t, err)

	a.Execute(context.Background(), core.ExecutionContext{}, map[string]interface{}{}, "req-4")
	assert.Equal(t, int32(0), tool.calls.Load())
}

func TestExecuteUsesCacheForPureTool(t *testing.T) {
	tool := &fakeTool{}
	c := cache.New(core.CacheConfig{Enabled: true, MaxSize: 10, Strategy: "lru"}, nil, nil)
	defer c.Close()

	a, err := New(Config{ID: "echo", Tool: tool, Block: okBlock(), Pure: true, Cache: c, CacheTTL: time.Minute})
	require.NoError(t, err)

	args := map[string]interface{}{"query": "hi"}
	a.Execute(context.Background(), core.ExecutionContext{}, args, "req-5")
	a.Execute(context.Background(), core.ExecutionContext{}, args, "req-6")
	assert.Equal(t, int32(1), tool.calls.Load(), "second call should be served from cache")
}

func TestExecuteBreakerOpenRejectsWithoutCallingTool(t *testing.T) {
	tool := &fakeTool{}
	reg := breaker.NewRegistry(core.BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour, HalfOpenMax: 1}, nil, nil)
	br := reg.For("echo")
	br.ForceOpen(true)

	a, err := New(Config{ID: "echo", Tool: tool, Block: okBlock(), Breaker: br})
	require.NoError(t, err)

	result := a.Execute(context.Background(), core.ExecutionContext{}, map[string]interface{}{"query": "hi"}, "req-7")
	assert.Equal(t, core.ResultError, result.Kind)
	assert.Equal(t, int32(0), tool.calls.Load())
	assert.Equal(t, "breaker_open", result.Metadata["code"], "a breaker-open denial must be classified as admission, not execution")
}

func TestExecuteBreakerOpenIsNotRetried(t *testing.T) {
	tool := &fakeTool{}
	reg := breaker.NewRegistry(core.BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour, HalfOpenMax: 1}, nil, nil)
	br := reg.For("echo")
	br.ForceOpen(true)

	a, err := New(Config{
		ID: "echo", Tool: tool, Block: okBlock(), Breaker: br,
		RetryPolicy: RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
	require.NoError(t, err)

	result := a.Execute(context.Background(), core.ExecutionContext{}, map[string]interface{}{"query": "hi"}, "req-8")
	assert.Equal(t, core.ResultError, result.Kind)
	assert.Equal(t, "breaker_open", result.Metadata["code"], "must stay classified as admission even with a retry policy configured")
	assert.Equal(t, int32(0), tool.calls.Load(), "an admission denial must never be retried")
}

func TestDescriptorOmitsHiddenSubBlocks(t *testing.T) {
	tool := &fakeTool{}
	block := core.BlockConfig{
		ID: "echo",
		SubBlocks: []core.SubBlockConfig{
			{ID: "query", Kind: core.KindShortInput},
			{ID: "secret", Kind: core.KindHidden},
		},
	}
	a, err := New(Config{ID: "echo", Tool: tool, Block: block})
	require.NoError(t, err)

	d := a.Descriptor()
	require.Len(t, d.Parameters, 1)
	assert.Equal(t, "query", d.Parameters[0].ID)
}
