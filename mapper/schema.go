// Package mapper implements the Parameter Mapper (C7): it emits an
// input-schema fragment per sub-block and evaluates mapping rules that turn
// agent-supplied arguments into the source tool's own parameter shape.
package mapper

import (
	"github.com/getkin/kin-openapi/openapi3"

	"github.com/nexus-tools/utac/core"
)

// SchemaForSubBlock emits the openapi3.Schema fragment for one sub-block,
// keyed by the caller under sb.ID. Kind drives the JSON-Schema type; slider
// bounds, dropdown/combobox enums, and the required flag all flow straight
// from the SubBlockConfig.
func SchemaForSubBlock(sb core.SubBlockConfig) *openapi3.Schema {
	if sb.Hidden() {
		return nil
	}

	var schema *openapi3.Schema
	switch sb.Kind {
	case core.KindShortInput, core.KindLongInput, core.KindCodeBlock, core.KindTimeInput:
		schema = openapi3.NewStringSchema()
	case core.KindSlider:
		schema = openapi3.NewFloat64Schema()
		if sb.Integer {
			schema = openapi3.NewIntegerSchema()
		}
		if sb.Min != nil {
			schema.Min = sb.Min
		}
		if sb.Max != nil {
			schema.Max = sb.Max
		}
	case core.KindSwitch:
		schema = openapi3.NewBoolSchema()
	case core.KindDropdown, core.KindCombobox:
		schema = openapi3.NewStringSchema()
		schema.Enum = stringsToAny(sb.Options)
	case core.KindMultiChoice:
		schema = openapi3.NewArraySchema()
		itemSchema := openapi3.NewStringSchema()
		itemSchema.Enum = stringsToAny(sb.Options)
		schema.Items = openapi3.NewSchemaRef("", itemSchema)
	case core.KindOAuth:
		schema = openapi3.NewStringSchema()
		schema.Description = "OAuth access token"
	case core.KindResourceSelect:
		schema = openapi3.NewStringSchema()
		schema.Description = "resource identifier"
	case core.KindTable:
		schema = openapi3.NewArraySchema()
		schema.Items = openapi3.NewSchemaRef("", openapi3.NewObjectSchema())
	default:
		schema = openapi3.NewStringSchema()
	}

	if sb.Default != nil {
		schema.Default = sb.Default
	}
	schema.Nullable = !sb.Required
	return schema
}

func stringsToAny(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// SchemaForBlock emits one openapi3.Schema fragment per visible sub-block of
// a BlockConfig, keyed by sub-block ID (§3: "emit an input-schema fragment").
func SchemaForBlock(block core.BlockConfig) map[string]*openapi3.Schema {
	out := make(map[string]*openapi3.Schema, len(block.SubBlocks))
	for _, sb := range block.SubBlocks {
		if s := SchemaForSubBlock(sb); s != nil {
			out[sb.ID] = s
		}
	}
	return out
}
