// Package core holds the cross-cutting types every UTAC control plane
// shares: the data model of §3 (SourceTool, BlockConfig, ExecutionContext,
// AdapterResult, CacheKey), the Logger/Telemetry seams, the structured error
// taxonomy, and the runtime Config. Nothing in here talks to a cache, a
// pool, a limiter, or a breaker — those live in their own packages and
// import core, never the other way around.
package core

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// SourceResult is what a SourceTool.Execute call returns: a status code, an
// optional message, and an opaque payload UTAC never inspects.
type SourceResult struct {
	Status  int
	Message string
	Data    interface{}
}

// SourceTool is the one interface UTAC wraps. It is deliberately the
// smallest possible surface: execute, and describe yourself.
type SourceTool interface {
	Descriptor() ToolDescriptor
	Execute(ctx context.Context, args map[string]interface{}) (SourceResult, error)
}

// InterruptibleTool is an optional extension for source tools that support
// pausing for human-in-the-loop approval.
type InterruptibleTool interface {
	SourceTool
	HasInterrupt() bool
	Accept(ctx context.Context, requestID string) error
	Reject(ctx context.Context, requestID string, reason string) error
}

// ToolDescriptor is the metadata half of a SourceTool (§3).
type ToolDescriptor struct {
	ID          string
	Name        string
	Category    string
	Options     map[string][]string
	Capabilities map[string]bool // e.g. "hasInterrupt": true
}

// SubBlockKind enumerates the semantic kinds a SubBlockConfig can take. This
// is the tagged-variant design note from §9: one closed enum plus a
// transformation registry, instead of an open class hierarchy per kind.
type SubBlockKind string

const (
	KindShortInput     SubBlockKind = "short-input"
	KindLongInput      SubBlockKind = "long-input"
	KindSlider         SubBlockKind = "slider"
	KindSwitch         SubBlockKind = "switch"
	KindDropdown       SubBlockKind = "dropdown"
	KindCombobox       SubBlockKind = "combobox"
	KindMultiChoice    SubBlockKind = "multi-choice"
	KindOAuth          SubBlockKind = "oauth"
	KindResourceSelect SubBlockKind = "resource-selector"
	KindCodeBlock      SubBlockKind = "code-block"
	KindTable          SubBlockKind = "table"
	KindTimeInput      SubBlockKind = "time-input"
	KindTriggerConfig  SubBlockKind = "trigger-config"
	KindHidden         SubBlockKind = "hidden"
)

// VisibilityCondition gates a sub-block on another field's value.
type VisibilityCondition struct {
	Field    string
	Operator string // "eq", "neq", "in", "truthy", ...
	Value    interface{}
}

// DynamicResolver produces a sub-block's option list or default value at
// adapter-build time. A zero-arg producer per §6; invoked once, never at
// request time.
type DynamicResolver func() (interface{}, error)

// SubBlockConfig is one input field of a BlockConfig (§3).
type SubBlockConfig struct {
	ID                string
	Kind              SubBlockKind
	Required          bool
	Default           interface{}
	DependsOn         []string
	Visibility        *VisibilityCondition
	Resolver          DynamicResolver
	SourceParameter   string // canonical name on the source side; defaults to ID
	Options           []string
	OptionsProducer   func() ([]string, error)
	Min, Max          *float64
	Step              *float64
	Integer           bool
}

// Hidden reports whether this sub-block must never appear in the
// agent-facing parameter list (§3 invariant 1).
func (s SubBlockConfig) Hidden() bool {
	return s.Kind == KindHidden || s.Kind == KindTriggerConfig
}

// CanonicalSourceParameter returns SourceParameter if set, else ID.
func (s SubBlockConfig) CanonicalSourceParameter() string {
	if s.SourceParameter != "" {
		return s.SourceParameter
	}
	return s.ID
}

// BlockConfig is the declarative description used to synthesize an adapter
// (§3). SubBlocks and Category are optional per the Open Question in §9:
// both historical shapes from the source repo are supported by defaulting
// rather than requiring either field.
type BlockConfig struct {
	Type        string
	ID          string
	Name        string
	Description string
	Category    string // optional; defaults to "general"
	SubBlocks   []SubBlockConfig // optional; nil means a trivially-accepting adapter
}

// CategoryOrDefault returns Category, defaulting to "general" (§9 open
// question resolution).
func (b BlockConfig) CategoryOrDefault() string {
	if b.Category == "" {
		return "general"
	}
	return b.Category
}

// ExecutionContext identifies the caller (§3). It is read-only: no
// component may mutate it, they only read fields off of it or derive a
// context subset for cache keys.
type ExecutionContext struct {
	AgentID     string
	SessionID   string
	Type        string
	UserID      string
	WorkspaceID string
	Features    map[string]bool
	Logger      Logger // optional per-request logger hook
}

// ContextSubset is the stable, non-volatile projection of an
// ExecutionContext used in cache keys (§3: "excludes volatile fields").
type ContextSubset struct {
	AgentID     string `json:"agentId"`
	Type        string `json:"type"`
	WorkspaceID string `json:"workspaceId"`
}

// Subset projects the stable fields out of ctx.
func (ctx ExecutionContext) Subset() ContextSubset {
	return ContextSubset{AgentID: ctx.AgentID, Type: ctx.Type, WorkspaceID: ctx.WorkspaceID}
}

// ResultKind is the AdapterResult discriminant (§3).
type ResultKind string

const (
	ResultSuccess ResultKind = "success"
	ResultError   ResultKind = "error"
	ResultPartial ResultKind = "partial"
)

// Conversational is the human-oriented half of an AdapterResult.
type Conversational struct {
	Summary    string
	Details    string
	Suggestion string
	Actions    []string
}

// AdapterResult is the envelope every Adapter.Execute call returns (§3).
// Invariant: Kind == ResultError implies Conversational.Summary != "".
type AdapterResult struct {
	Kind           ResultKind
	Message        string
	Data           interface{}
	Conversational Conversational
	Metadata       map[string]interface{}
}

// Valid enforces the §3 invariant; adapters call this from validateOutput.
func (r AdapterResult) Valid() bool {
	if r.Kind == ResultError && r.Conversational.Summary == "" {
		return false
	}
	return true
}

// CacheKey is the deterministic triple (toolId, hash(args), hash(contextSubset))
// from §3.
type CacheKey struct {
	ToolID      string
	ArgsHash    string
	ContextHash string
}

// String renders the key as the flat string every cache.Strategy indexes by.
func (k CacheKey) String() string {
	return k.ToolID + "|" + k.ArgsHash + "|" + k.ContextHash
}

// NewCacheKey computes a CacheKey for a tool invocation. Args are
// canonicalized (sorted keys, stable JSON) before hashing so that
// semantically-equal argument maps never produce different keys.
func NewCacheKey(toolID string, args map[string]interface{}, ctx ExecutionContext) CacheKey {
	return CacheKey{
		ToolID:      toolID,
		ArgsHash:    stableHash(args),
		ContextHash: stableHash(ctx.Subset()),
	}
}

func stableHash(v interface{}) string {
	canon := canonicalize(v)
	b, err := json.Marshal(canon)
	if err != nil {
		// canonicalize() hands back v unchanged when v cannot be
		// marshaled, which means a caller passed something pathological
		// (e.g. a channel) inside args. Hash the type name plus a random
		// salt instead of panicking so cache lookups degrade to "always
		// miss" rather than crash the request.
		salt := make([]byte, 16)
		_, _ = rand.Read(salt)
		h := sha256.Sum256(append([]byte(typeName(v)), salt...))
		return hex.EncodeToString(h[:])
	}
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func typeName(v interface{}) string {
	if v == nil {
		return "nil"
	}
	return jsonTypeName(v)
}

func jsonTypeName(v interface{}) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	default:
		return "unknown"
	}
}

// canonicalize produces a value whose JSON encoding is independent of map
// key iteration order, recursively. A v that cannot be marshaled is
// returned unchanged.
func canonicalize(v interface{}) interface{} {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var generic interface{}
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil
	}
	return sortKeys(generic)
}

func sortKeys(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make([]kv, 0, len(t))
		for _, k := range keys {
			ordered = append(ordered, kv{Key: k, Value: sortKeys(t[k])})
		}
		return ordered
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = sortKeys(e)
		}
		return out
	default:
		return t
	}
}

type kv struct {
	Key   string      `json:"k"`
	Value interface{} `json:"v"`
}
