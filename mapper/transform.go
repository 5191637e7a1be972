package mapper

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/itchyny/gojq"

	"github.com/nexus-tools/utac/core"
)

// Transform is one named parameter-mapping transformation (§4.7). params
// are the rule's own static configuration (e.g. a jq query string, a
// value-map, numeric bounds); value is whatever the rule's resolution step
// produced.
type Transform func(value interface{}, params map[string]interface{}) (interface{}, error)

// registry is the fixed set of transformations wired in (§4.7's tagged-
// registry design, §9).
var registry = map[string]Transform{
	"oauth":                  oauthTransform,
	"resource-id":            resourceIDTransform,
	"option-value":           optionValueTransform,
	"numeric-range":          numericRangeTransform,
	"code-processor":         codeProcessorTransform,
	"json-parser":            jsonParserTransform,
	"time-normalizer":        timeNormalizerTransform,
	"array-normalizer":       arrayNormalizerTransform,
	"conditional-passthrough": conditionalPassthroughTransform,
}

// TransformFor looks up a named transformation. The empty name is the
// identity transform (no transformation configured for this rule).
func TransformFor(name string) (Transform, bool) {
	if name == "" {
		return func(v interface{}, _ map[string]interface{}) (interface{}, error) { return v, nil }, true
	}
	t, ok := registry[name]
	return t, ok
}

func oauthTransform(value interface{}, _ map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case map[string]interface{}:
		if tok, ok := v["accessToken"].(string); ok {
			return tok, nil
		}
		return nil, core.NewValidationError("oauth-transform", []core.FieldError{{Field: "accessToken", Message: "missing access token"}})
	default:
		return nil, fmt.Errorf("oauth transform: unsupported value type %T", value)
	}
}

func resourceIDTransform(value interface{}, _ map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case map[string]interface{}:
		if id, ok := v["id"]; ok {
			return id, nil
		}
		return nil, fmt.Errorf("resource-id transform: value has no id field")
	default:
		return nil, fmt.Errorf("resource-id transform: unsupported value type %T", value)
	}
}

func optionValueTransform(value interface{}, params map[string]interface{}) (interface{}, error) {
	valueMap, _ := params["valueMap"].(map[string]interface{})
	key, ok := value.(string)
	if !ok {
		return value, nil
	}
	if valueMap == nil {
		return value, nil
	}
	if mapped, ok := valueMap[key]; ok {
		return mapped, nil
	}
	return value, nil
}

func numericRangeTransform(value interface{}, params map[string]interface{}) (interface{}, error) {
	f, err := toFloat(value)
	if err != nil {
		return nil, fmt.Errorf("numeric-range transform: %w", err)
	}
	if min, ok := params["min"]; ok {
		if minF, err := toFloat(min); err == nil && f < minF {
			f = minF
		}
	}
	if max, ok := params["max"]; ok {
		if maxF, err := toFloat(max); err == nil && f > maxF {
			f = maxF
		}
	}
	return f, nil
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

func codeProcessorTransform(value interface{}, params map[string]interface{}) (interface{}, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("code-processor transform: expected string, got %T", value)
	}
	if trim, _ := params["trim"].(bool); trim {
		s = strings.TrimSpace(s)
	}
	return s, nil
}

// jsonParserTransform compiles params["query"] as a jq program and runs it
// against value, returning the first emitted result.
func jsonParserTransform(value interface{}, params map[string]interface{}) (interface{}, error) {
	query, _ := params["query"].(string)
	if query == "" {
		return value, nil
	}
	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("json-parser transform: parsing jq query: %w", err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, fmt.Errorf("json-parser transform: compiling jq query: %w", err)
	}
	iter := code.Run(value)
	v, hasResult := iter.Next()
	if !hasResult {
		return nil, nil
	}
	if err, ok := v.(error); ok {
		return nil, fmt.Errorf("json-parser transform: %w", err)
	}
	return v, nil
}

func timeNormalizerTransform(value interface{}, params map[string]interface{}) (interface{}, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("time-normalizer transform: expected string, got %T", value)
	}
	layout, _ := params["layout"].(string)
	if layout == "" {
		layout = time.RFC3339
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return nil, fmt.Errorf("time-normalizer transform: %w", err)
	}
	return t.UTC().Format(time.RFC3339), nil
}

func arrayNormalizerTransform(value interface{}, _ map[string]interface{}) (interface{}, error) {
	if arr, ok := value.([]interface{}); ok {
		return arr, nil
	}
	if value == nil {
		return []interface{}{}, nil
	}
	return []interface{}{value}, nil
}

// conditionalPassthroughTransform returns value unchanged if
// params["condition"]'s VisibilityCondition is satisfied against the raw
// args supplied via params["__raw"] (wired by the caller in mapper.go);
// otherwise it returns nil, signaling the rule to omit this parameter.
func conditionalPassthroughTransform(value interface{}, params map[string]interface{}) (interface{}, error) {
	cond, ok := params["condition"].(*core.VisibilityCondition)
	if !ok || cond == nil {
		return value, nil
	}
	raw, _ := params["__raw"].(map[string]interface{})
	if evaluateCondition(cond, raw) {
		return value, nil
	}
	return nil, nil
}
