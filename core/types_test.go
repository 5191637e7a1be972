package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCacheKeyIsDeterministicUnderKeyOrderPermutation(t *testing.T) {
	ctx := ExecutionContext{AgentID: "agent-1", Type: "chat", WorkspaceID: "ws-1"}

	argsA := map[string]interface{}{"query": "hello", "limit": 10, "nested": map[string]interface{}{"a": 1, "b": 2}}
	argsB := map[string]interface{}{"nested": map[string]interface{}{"b": 2, "a": 1}, "limit": 10, "query": "hello"}

	keyA := NewCacheKey("search", argsA, ctx)
	keyB := NewCacheKey("search", argsB, ctx)

	assert.Equal(t, keyA, keyB)
	assert.Equal(t, keyA.String(), keyB.String())
}

func TestNewCacheKeyDiffersOnDifferentArgs(t *testing.T) {
	ctx := ExecutionContext{AgentID: "agent-1"}
	keyA := NewCacheKey("search", map[string]interface{}{"query": "hello"}, ctx)
	keyB := NewCacheKey("search", map[string]interface{}{"query": "goodbye"}, ctx)
	assert.NotEqual(t, keyA.ArgsHash, keyB.ArgsHash)
}

func TestNewCacheKeyExcludesVolatileContextFields(t *testing.T) {
	base := ExecutionContext{AgentID: "agent-1", Type: "chat", WorkspaceID: "ws-1"}
	volatile := base
	volatile.SessionID = "a-different-session-every-time"
	volatile.UserID = "user-42"

	keyA := NewCacheKey("search", map[string]interface{}{"q": 1}, base)
	keyB := NewCacheKey("search", map[string]interface{}{"q": 1}, volatile)
	assert.Equal(t, keyA.ContextHash, keyB.ContextHash, "SessionID/UserID must not affect the cache key")
}

func TestSubBlockConfigHidden(t *testing.T) {
	assert.True(t, SubBlockConfig{Kind: KindHidden}.Hidden())
	assert.True(t, SubBlockConfig{Kind: KindTriggerConfig}.Hidden())
	assert.False(t, SubBlockConfig{Kind: KindShortInput}.Hidden())
}

func TestSubBlockConfigCanonicalSourceParameter(t *testing.T) {
	withOverride := SubBlockConfig{ID: "query", SourceParameter: "q"}
	withoutOverride := SubBlockConfig{ID: "query"}
	assert.Equal(t, "q", withOverride.CanonicalSourceParameter())
	assert.Equal(t, "query", withoutOverride.CanonicalSourceParameter())
}

func TestBlockConfigCategoryOrDefault(t *testing.T) {
	assert.Equal(t, "general", BlockConfig{}.CategoryOrDefault())
	assert.Equal(t, "communication", BlockConfig{Category: "communication"}.CategoryOrDefault())
}

func TestAdapterResultValidRequiresSummaryOnError(t *testing.T) {
	assert.False(t, AdapterResult{Kind: ResultError}.Valid())
	assert.True(t, AdapterResult{Kind: ResultError, Conversational: Conversational{Summary: "failed"}}.Valid())
	assert.True(t, AdapterResult{Kind: ResultSuccess}.Valid())
}

func TestExecutionContextSubsetProjectsStableFieldsOnly(t *testing.T) {
	ctx := ExecutionContext{AgentID: "agent-1", Type: "chat", WorkspaceID: "ws-1", SessionID: "sess-1", UserID: "user-1"}
	subset := ctx.Subset()
	assert.Equal(t, ContextSubset{AgentID: "agent-1", Type: "chat", WorkspaceID: "ws-1"}, subset)
}
