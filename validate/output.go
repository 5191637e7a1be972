package validate

import (
	"fmt"

	"github.com/nexus-tools/utac/core"
)

// ValidateOutput checks the final AdapterResult envelope shape. This is a
// plain Go function rather than a schema library: AdapterResult is a fixed
// struct with a handful of cross-field invariants, which a switch on Kind
// plus field checks expresses more directly than a generic validator would.
func ValidateOutput(result core.AdapterResult) error {
	if !result.Valid() {
		return fmt.Errorf("adapter result invalid: kind=error requires a non-empty conversational summary")
	}
	switch result.Kind {
	case core.ResultSuccess, core.ResultError, core.ResultPartial:
	default:
		return fmt.Errorf("adapter result invalid: unknown kind %q", result.Kind)
	}
	if result.Kind == core.ResultPartial && result.Data == nil {
		return fmt.Errorf("adapter result invalid: kind=partial requires non-nil data")
	}
	return nil
}
