package mapper

import (
	"fmt"

	"github.com/nexus-tools/utac/core"
)

// MappingRule describes how one source-side parameter is produced for one
// sub-block (§4.7). Evaluation order is fixed: condition, then resolve,
// then transform, then validate (validate is the Validation Engine's job,
// not this package's — Map only produces the mapped value), then write to
// simArgs under TargetParam.
type MappingRule struct {
	SubBlockID      string
	TargetParam     string // defaults to SubBlockID if empty
	Condition       *core.VisibilityCondition
	Source          Source
	Constant        interface{}
	Computed        Computed
	Transform       string
	TransformParams map[string]interface{}
}

func (r MappingRule) targetParam() string {
	if r.TargetParam != "" {
		return r.TargetParam
	}
	return r.SubBlockID
}

// Map evaluates every rule against raw (the agent-supplied argument map)
// and execCtx, producing simArgs: the source tool's own parameter shape.
// A rule whose Condition is not satisfied is skipped entirely (its
// TargetParam is simply absent from simArgs). A rule whose transform
// produces nil is also omitted, matching conditional-passthrough's signal
// for "no value."
func Map(rules []MappingRule, raw map[string]interface{}, execCtx core.ExecutionContext) (map[string]interface{}, error) {
	simArgs := make(map[string]interface{}, len(rules))

	for _, rule := range rules {
		if rule.Condition != nil && !evaluateCondition(rule.Condition, raw) {
			continue
		}

		rawValue := raw[rule.SubBlockID]
		resolved, err := resolve(rule.Source, rawValue, raw, execCtx, rule.Constant, rule.Computed)
		if err != nil {
			return nil, fmt.Errorf("resolving %q: %w", rule.SubBlockID, err)
		}

		transform, ok := TransformFor(rule.Transform)
		if !ok {
			return nil, fmt.Errorf("unknown transform %q for %q", rule.Transform, rule.SubBlockID)
		}

		params := rule.TransformParams
		if rule.Transform == "conditional-passthrough" {
			params = withRaw(params, raw)
		}

		out, err := transform(resolved, params)
		if err != nil {
			return nil, fmt.Errorf("transforming %q: %w", rule.SubBlockID, err)
		}
		if out == nil {
			continue
		}

		simArgs[rule.targetParam()] = out
	}

	return simArgs, nil
}

func withRaw(params map[string]interface{}, raw map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out["__raw"] = raw
	return out
}

// evaluateCondition implements the VisibilityCondition operators §4.7
// reuses from §3's sub-block visibility gating.
func evaluateCondition(cond *core.VisibilityCondition, raw map[string]interface{}) bool {
	actual, present := raw[cond.Field]
	switch cond.Operator {
	case "truthy":
		if !present {
			return false
		}
		b, ok := actual.(bool)
		return ok && b
	case "eq":
		return present && actual == cond.Value
	case "neq":
		return !present || actual != cond.Value
	case "in":
		list, ok := cond.Value.([]interface{})
		if !ok || !present {
			return false
		}
		for _, v := range list {
			if v == actual {
				return true
			}
		}
		return false
	default:
		return true
	}
}
