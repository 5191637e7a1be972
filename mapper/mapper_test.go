package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-tools/utac/core"
)

func TestMapWithCondition(t *testing.T) {
	// §8 end-to-end scenario 4: mapping with condition.
	rules := []MappingRule{
		{SubBlockID: "query", Source: SourceOriginal},
		{
			SubBlockID: "advancedMode",
			Condition:  &core.VisibilityCondition{Field: "advancedMode", Operator: "truthy"},
			Source:     SourceOriginal,
		},
	}

	raw := map[string]interface{}{"query": "hello", "advancedMode": false}
	simArgs, err := Map(rules, raw, core.ExecutionContext{})
	require.NoError(t, err)
	assert.Equal(t, "hello", simArgs["query"])
	_, present := simArgs["advancedMode"]
	assert.False(t, present, "condition not satisfied means the param is omitted")

	raw2 := map[string]interface{}{"query": "hello", "advancedMode": true}
	simArgs2, err := Map(rules, raw2, core.ExecutionContext{})
	require.NoError(t, err)
	assert.Equal(t, true, simArgs2["advancedMode"])
}

func TestMapResolvesContextualSources(t *testing.T) {
	rules := []MappingRule{
		{SubBlockID: "userId", Source: SourceUser},
		{SubBlockID: "requestId", Source: SourceUUID},
	}
	execCtx := core.ExecutionContext{UserID: "u-42"}
	simArgs, err := Map(rules, map[string]interface{}{}, execCtx)
	require.NoError(t, err)
	assert.Equal(t, "u-42", simArgs["userId"])
	assert.NotEmpty(t, simArgs["requestId"])
}

func TestMapConstantSource(t *testing.T) {
	rules := []MappingRule{
		{SubBlockID: "apiVersion", Source: SourceConstant, Constant: "v2"},
	}
	simArgs, err := Map(rules, map[string]interface{}{}, core.ExecutionContext{})
	require.NoError(t, err)
	assert.Equal(t, "v2", simArgs["apiVersion"])
}

func TestNumericRangeTransformClamps(t *testing.T) {
	rules := []MappingRule{
		{
			SubBlockID:      "temperature",
			Source:          SourceOriginal,
			Transform:       "numeric-range",
			TransformParams: map[string]interface{}{"min": 0.0, "max": 1.0},
		},
	}
	simArgs, err := Map(rules, map[string]interface{}{"temperature": 5.0}, core.ExecutionContext{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, simArgs["temperature"])
}

func TestJSONParserTransform(t *testing.T) {
	rules := []MappingRule{
		{
			SubBlockID:      "payload",
			Source:          SourceOriginal,
			Transform:       "json-parser",
			TransformParams: map[string]interface{}{"query": ".name"},
		},
	}
	raw := map[string]interface{}{"payload": map[string]interface{}{"name": "widget"}}
	simArgs, err := Map(rules, raw, core.ExecutionContext{})
	require.NoError(t, err)
	assert.Equal(t, "widget", simArgs["payload"])
}

func TestResourceIDTransform(t *testing.T) {
	rules := []MappingRule{
		{SubBlockID: "resource", Source: SourceOriginal, Transform: "resource-id"},
	}
	raw := map[string]interface{}{"resource": map[string]interface{}{"id": "res-1", "type": "doc"}}
	simArgs, err := Map(rules, raw, core.ExecutionContext{})
	require.NoError(t, err)
	assert.Equal(t, "res-1", simArgs["resource"])
}

func TestArrayNormalizerWrapsScalar(t *testing.T) {
	rules := []MappingRule{
		{SubBlockID: "tags", Source: SourceOriginal, Transform: "array-normalizer"},
	}
	simArgs, err := Map(rules, map[string]interface{}{"tags": "single"}, core.ExecutionContext{})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"single"}, simArgs["tags"])
}

func TestSchemaForSubBlockSlider(t *testing.T) {
	min, max := 0.0, 100.0
	sb := core.SubBlockConfig{ID: "volume", Kind: core.KindSlider, Min: &min, Max: &max}
	schema := SchemaForSubBlock(sb)
	require.NotNil(t, schema)
	assert.Equal(t, &min, schema.Min)
	assert.Equal(t, &max, schema.Max)
}

func TestSchemaForHiddenSubBlockOmitted(t *testing.T) {
	sb := core.SubBlockConfig{ID: "internal", Kind: core.KindHidden}
	assert.Nil(t, SchemaForSubBlock(sb))
}
