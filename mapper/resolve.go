package mapper

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-tools/utac/core"
)

// Source is one of §4.7's contextual resolution origins for a mapping
// rule's value, when the value does not come directly from the agent's raw
// argument map.
type Source string

const (
	SourceContext   Source = "context"
	SourceUser      Source = "user"
	SourceWorkspace Source = "workspace"
	SourceSession   Source = "session"
	SourceAgent     Source = "agent"
	SourceTimestamp Source = "timestamp"
	SourceUUID      Source = "uuid"
	SourceOriginal  Source = "original"
	SourceConstant  Source = "constant"
	SourceComputed  Source = "computed"
)

// Computed produces a value from the full raw argument map; used only by
// the "computed" source.
type Computed func(raw map[string]interface{}, execCtx core.ExecutionContext) (interface{}, error)

// resolve dispatches one Source against the current request. rawValue is
// the value found (if any) at the rule's own field name in raw — used for
// "original" passthrough.
func resolve(src Source, rawValue interface{}, raw map[string]interface{}, execCtx core.ExecutionContext, constant interface{}, computed Computed) (interface{}, error) {
	switch src {
	case SourceContext:
		return execCtx.Subset(), nil
	case SourceUser:
		return execCtx.UserID, nil
	case SourceWorkspace:
		return execCtx.WorkspaceID, nil
	case SourceSession:
		return execCtx.SessionID, nil
	case SourceAgent:
		return execCtx.AgentID, nil
	case SourceTimestamp:
		return time.Now().UTC().Format(time.RFC3339Nano), nil
	case SourceUUID:
		return uuid.NewString(), nil
	case SourceOriginal:
		return rawValue, nil
	case SourceConstant:
		return constant, nil
	case SourceComputed:
		if computed == nil {
			return nil, fmt.Errorf("computed source requires a Computed function")
		}
		return computed(raw, execCtx)
	default:
		return rawValue, nil
	}
}
