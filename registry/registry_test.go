package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-tools/utac/adapter"
	"github.com/nexus-tools/utac/core"
)

type fakeTool struct{ id string }

func (f *fakeTool) Descriptor() core.ToolDescriptor { return core.ToolDescriptor{ID: f.id} }
func (f *fakeTool) Execute(ctx context.Context, args map[string]interface{}) (core.SourceResult, error) {
	return core.SourceResult{Status: 200, Data: args}, nil
}

func searchBlock(id, name, description, category string, tags ...string) core.BlockConfig {
	return core.BlockConfig{ID: id, Name: name, Description: description, Category: category}
}

func TestCreateAdapterFromBlockConfigRegistersWithDefaults(t *testing.T) {
	f := New(Collaborators{})
	block := core.BlockConfig{ID: "send-email", Name: "Send Email", Description: "sends an email via the configured provider", Category: "communication"}

	a, err := f.CreateAdapterFromBlockConfig(block, &fakeTool{id: "send-email"}, Overrides{})
	require.NoError(t, err)
	require.NotNil(t, a)

	got, ok := f.Get("send-email")
	assert.True(t, ok)
	assert.Equal(t, a, got)
}

func TestCreateAdapterFromBlockConfigFatalOnBadTool(t *testing.T) {
	f := New(Collaborators{})
	block := core.BlockConfig{ID: "broken"}
	_, err := f.CreateAdapterFromBlockConfig(block, nil, Overrides{})
	assert.Error(t, err)
	_, ok := f.Get("broken")
	assert.False(t, ok, "a fatal construction error must not register the adapter")
}

func TestDiscoverToolsScoring(t *testing.T) {
	f := New(Collaborators{})
	_, err := f.CreateAdapterFromBlockConfig(
		searchBlock("send-email", "Send Email", "sends an email via the configured provider", "communication"),
		&fakeTool{id: "send-email"}, Overrides{Tags: []string{"email", "notify"}},
	)
	require.NoError(t, err)
	_, err = f.CreateAdapterFromBlockConfig(
		searchBlock("create-ticket", "Create Ticket", "opens a support ticket", "support"),
		&fakeTool{id: "create-ticket"}, Overrides{Tags: []string{"support"}},
	)
	require.NoError(t, err)

	matches := f.DiscoverTools(Query{Text: "email", Category: "communication", Tags: []string{"notify"}})
	require.NotEmpty(t, matches)
	assert.Equal(t, "send-email", matches[0].ID)
	// name(+10) + description(+5) + category(+15) + tag(+3) + successRate*5(+5, no invocations yet) = 38
	assert.InDelta(t, 38.0, matches[0].Score, 0.001)
}

func TestRecordOutcomeAffectsSuccessRateBonus(t *testing.T) {
	f := New(Collaborators{})
	block := searchBlock("tool-a", "Tool A", "does a thing", "general")
	_, err := f.CreateAdapterFromBlockConfig(block, &fakeTool{id: "tool-a"}, Overrides{})
	require.NoError(t, err)

	f.RecordOutcome("tool-a", core.AdapterResult{Kind: core.ResultError, Conversational: core.Conversational{Summary: "failed"}})
	f.RecordOutcome("tool-a", core.AdapterResult{Kind: core.ResultError, Conversational: core.Conversational{Summary: "failed"}})
	f.RecordOutcome("tool-a", core.AdapterResult{Kind: core.ResultSuccess})

	matches := f.DiscoverTools(Query{Text: "thing"})
	require.Len(t, matches, 1)
	// description match (+5) plus successRate bonus (5 * 1/3, after 2 failures and 1 success)
	assert.InDelta(t, 5.0+5.0*(1.0/3.0), matches[0].Score, 0.001)
}

func TestRegisterPluginInitializesExistingAdapters(t *testing.T) {
	f := New(Collaborators{})
	block := searchBlock("tool-a", "Tool A", "does a thing", "general")
	_, err := f.CreateAdapterFromBlockConfig(block, &fakeTool{id: "tool-a"}, Overrides{})
	require.NoError(t, err)

	var initialized []string
	p := testPlugin{name: "audit", onInit: func(a *adapter.Adapter) error {
		initialized = append(initialized, a.Descriptor().ID)
		return nil
	}}
	require.NoError(t, f.RegisterPlugin(p))
	assert.Equal(t, []string{"tool-a"}, initialized)
}

func TestRegisterPluginDependencyMissing(t *testing.T) {
	f := New(Collaborators{})
	err := f.RegisterPlugin(testPlugin{name: "downstream", deps: []string{"upstream"}})
	assert.Error(t, err)
}

func TestRegisterPluginFailureDoesNotAbortOthers(t *testing.T) {
	f := New(Collaborators{})
	_, err := f.CreateAdapterFromBlockConfig(searchBlock("a", "A", "a tool", "general"), &fakeTool{id: "a"}, Overrides{})
	require.NoError(t, err)
	_, err = f.CreateAdapterFromBlockConfig(searchBlock("b", "B", "b tool", "general"), &fakeTool{id: "b"}, Overrides{})
	require.NoError(t, err)

	var touched []string
	p := testPlugin{name: "flaky", onInit: func(a *adapter.Adapter) error {
		touched = append(touched, a.Descriptor().ID)
		if a.Descriptor().ID == "a" {
			return assertErr
		}
		return nil
	}}
	require.NoError(t, f.RegisterPlugin(p))
	assert.ElementsMatch(t, []string{"a", "b"}, touched, "both adapters must still be visited even though one failed")
}

var assertErr = errUnreachableOnInit{}

type errUnreachableOnInit struct{}

func (errUnreachableOnInit) Error() string { return "synthetic plugin failure" }

type testPlugin struct {
	name   string
	deps   []string
	onInit func(a *adapter.Adapter) error
}

func (p testPlugin) Name() string            { return p.name }
func (p testPlugin) Dependencies() []string  { return p.deps }
func (p testPlugin) OnInitialize(a *adapter.Adapter) error {
	if p.onInit == nil {
		return nil
	}
	return p.onInit(a)
}
