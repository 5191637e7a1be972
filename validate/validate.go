// Package validate implements the Validation Engine (C8): field-level
// checks per sub-block kind plus hand-written cross-field business rules.
package validate

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nexus-tools/utac/core"
)

// Engine is C8's contract.
type Engine struct {
	v     *validator.Validate
	rules []Rule
}

// New builds a validation engine with the given business rules registered
// in addition to the fixed per-kind field checks.
func New(rules ...Rule) *Engine {
	return &Engine{v: validator.New(), rules: rules}
}

// ValidateInput runs field-level checks for every visible, present sub-block
// and then every registered business Rule, returning the combined field
// error list (§4.8).
func (e *Engine) ValidateInput(block core.BlockConfig, raw map[string]interface{}) []core.FieldError {
	var errs []core.FieldError

	for _, sb := range block.SubBlocks {
		if sb.Hidden() {
			continue
		}
		value, present := raw[sb.ID]
		if !present {
			if sb.Required {
				errs = append(errs, core.FieldError{Field: sb.ID, Message: "required field is missing", Code: "required"})
			}
			continue
		}
		if fe := e.validateField(sb, value); fe != nil {
			errs = append(errs, *fe)
		}
	}

	for _, rule := range e.rules {
		errs = append(errs, rule(block, raw)...)
	}

	return errs
}

// validateField composes a validator tag string per sub-block kind and
// delegates to validator.Var, the package's documented entry point for
// checking a single value without a backing struct.
func (e *Engine) validateField(sb core.SubBlockConfig, value interface{}) *core.FieldError {
	tag := fieldTag(sb)
	if tag == "" {
		return nil
	}
	if err := e.v.Var(value, tag); err != nil {
		return &core.FieldError{Field: sb.ID, Message: friendlyMessage(sb, err), Code: "invalid_value"}
	}
	return nil
}

func fieldTag(sb core.SubBlockConfig) string {
	var parts []string
	switch sb.Kind {
	case core.KindSlider:
		if sb.Min != nil {
			parts = append(parts, fmt.Sprintf("min=%v", *sb.Min))
		}
		if sb.Max != nil {
			parts = append(parts, fmt.Sprintf("max=%v", *sb.Max))
		}
	case core.KindDropdown, core.KindCombobox:
		if len(sb.Options) > 0 {
			parts = append(parts, "oneof="+strings.Join(sb.Options, " "))
		}
	case core.KindShortInput, core.KindLongInput:
		parts = append(parts, "max=100000")
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, ",")
}

func friendlyMessage(sb core.SubBlockConfig, err error) string {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		return fmt.Sprintf("%s failed %s validation", sb.ID, verrs[0].Tag())
	}
	return err.Error()
}
