package validate

import (
	"github.com/nexus-tools/utac/core"
)

// Rule is a hand-written cross-field business check that validator's tag
// DSL cannot express, since it needs the whole raw argument map and the
// block's own configuration, not a single value (§4.8).
type Rule func(block core.BlockConfig, raw map[string]interface{}) []core.FieldError

// OAuthScopePresence rejects an OAuth sub-block whose resolved credential is
// missing a required scope.
func OAuthScopePresence(requiredScopes ...string) Rule {
	return func(block core.BlockConfig, raw map[string]interface{}) []core.FieldError {
		var errs []core.FieldError
		for _, sb := range block.SubBlocks {
			if sb.Kind != core.KindOAuth {
				continue
			}
			value, ok := raw[sb.ID].(map[string]interface{})
			if !ok {
				continue
			}
			granted, _ := value["scopes"].([]interface{})
			grantedSet := make(map[string]bool, len(granted))
			for _, g := range granted {
				if s, ok := g.(string); ok {
					grantedSet[s] = true
				}
			}
			for _, req := range requiredScopes {
				if !grantedSet[req] {
					errs = append(errs, core.FieldError{
						Field: sb.ID, Code: "missing_scope",
						Message: "OAuth credential is missing required scope " + req,
					})
				}
			}
		}
		return errs
	}
}

// FileAccess rejects a resource-selector pointing at a resource the caller's
// context does not have access to, as reported by checkAccess.
func FileAccess(checkAccess func(resourceID string) bool) Rule {
	return func(block core.BlockConfig, raw map[string]interface{}) []core.FieldError {
		var errs []core.FieldError
		for _, sb := range block.SubBlocks {
			if sb.Kind != core.KindResourceSelect {
				continue
			}
			id, ok := raw[sb.ID].(string)
			if !ok || id == "" {
				continue
			}
			if !checkAccess(id) {
				errs = append(errs, core.FieldError{
					Field: sb.ID, Code: "access_denied",
					Message: "caller does not have access to resource " + id,
				})
			}
		}
		return errs
	}
}

// DependencyPresence rejects a sub-block whose DependsOn fields are not all
// present in raw, catching configurations where a dependent field was
// supplied without the fields it depends on.
func DependencyPresence(block core.BlockConfig, raw map[string]interface{}) []core.FieldError {
	var errs []core.FieldError
	for _, sb := range block.SubBlocks {
		if _, present := raw[sb.ID]; !present || len(sb.DependsOn) == 0 {
			continue
		}
		for _, dep := range sb.DependsOn {
			if _, ok := raw[dep]; !ok {
				errs = append(errs, core.FieldError{
					Field: sb.ID, Code: "missing_dependency",
					Message: sb.ID + " requires " + dep + " to also be present",
				})
			}
		}
	}
	return errs
}
