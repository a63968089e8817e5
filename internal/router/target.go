// Package router implements the request routing and execution engine: a
// recursive target-tree resolver, four target-selection strategies, and the
// per-target request pipeline (hooks, cache, retry, response shaping).
//
// The engine treats providers, the cache backend, the hook/guardrail
// runtime, and the circuit-breaker store as collaborators reached through
// small interfaces (ProviderAdapter, CacheService, HooksManager,
// CircuitBreakerHook) so the routing logic stays independent of any one
// transport or vendor SDK.
package router

import (
	"time"

	"github.com/fatih/structs"
)

// StrategyMode is the policy by which a strategy node selects among its
// children.
type StrategyMode string

const (
	StrategySingle      StrategyMode = "single"
	StrategyFallback    StrategyMode = "fallback"
	StrategyLoadBalance StrategyMode = "loadbalance"
	StrategyConditional StrategyMode = "conditional"
)

// StrategyConfig selects a strategy mode and, for fallback, the status codes
// that are considered retriable (as opposed to terminal).
type StrategyConfig struct {
	Mode          StrategyMode `structs:"mode"`
	OnStatusCodes []int        `structs:"onStatusCodes,omitempty"`
}

// RetryConfig controls the retry engine for a leaf target. Replaced
// atomically (never merged) when inherited.
type RetryConfig struct {
	Attempts            int   `structs:"attempts"`
	OnStatusCodes       []int `structs:"onStatusCodes,omitempty"`
	UseRetryAfterHeader bool  `structs:"useRetryAfterHeader,omitempty"`
}

// CacheConfig controls response caching for a leaf target. Replaced
// atomically (never merged) when inherited.
type CacheConfig struct {
	Mode   string        `structs:"mode"`
	MaxAge time.Duration `structs:"maxAge,omitempty"`
}

// HookObject is the canonical (expanded) shape of a hook, as produced by the
// Hook Shorthand Expander (see hookshorthand.go) or authored directly.
type HookObject map[string]any

// CBConfig is an opaque circuit-breaker tuning bag, forwarded verbatim to
// the CircuitBreakerHook collaborator — its keys are part of the pinned
// camelCase exclusion list (see configbuilder.go) so user-authored casing
// survives.
type CBConfig map[string]any

// Target is a node in the routing tree. A node is either a strategy node
// (Strategy set, Targets non-empty) or a leaf provider node; mixing the
// two is ignored at runtime — leaf fields on an inner
// node are only ever read as an inheritance source for its children.
type Target struct {
	// ── Strategy node ──────────────────────────────────────────────────
	Strategy *StrategyConfig `structs:"strategy,omitempty"`
	Targets  []*Target       `structs:"targets,omitempty"`

	// ── Leaf provider node ─────────────────────────────────────────────
	Provider       string         `structs:"provider,omitempty"`
	APIKey         string         `structs:"-"`
	OverrideParams map[string]any `structs:"override_params,omitempty"`
	Retry          *RetryConfig   `structs:"retry,omitempty"`
	Cache          *CacheConfig   `structs:"cache,omitempty"`
	RequestTimeout time.Duration  `structs:"requestTimeout,omitempty"`
	ForwardHeaders []string       `structs:"forwardHeaders,omitempty"`
	CustomHost     string         `structs:"customHost,omitempty"`

	BeforeRequestHooks []HookObject `structs:"beforeRequestHooks,omitempty"`
	AfterRequestHooks  []HookObject `structs:"afterRequestHooks,omitempty"`

	// Guardrail/mutator shorthand — expanded into Before/AfterRequestHooks
	// by the resolver before the leaf is dispatched (see
	// tryTargetsRecursively in engine.go).
	InputGuardrails         []map[string]any `structs:"input_guardrails,omitempty"`
	OutputGuardrails        []map[string]any `structs:"output_guardrails,omitempty"`
	InputMutators           []map[string]any `structs:"input_mutators,omitempty"`
	OutputMutators          []map[string]any `structs:"output_mutators,omitempty"`
	DefaultInputGuardrails  []map[string]any `structs:"default_input_guardrails,omitempty"`
	DefaultOutputGuardrails []map[string]any `structs:"default_output_guardrails,omitempty"`

	StrictOpenAiCompliance bool `structs:"strictOpenAiCompliance,omitempty"`

	// Weight is a pointer so "unset" (inherit the strategy default of 1)
	// is distinguishable from an explicit zero.
	Weight        *float64 `structs:"weight,omitempty"`
	OriginalIndex int      `structs:"-"`

	// ── Circuit breaker ────────────────────────────────────────────────
	ID       string   `structs:"id,omitempty"`
	CBConfig CBConfig `structs:"cb_config,omitempty"`
	IsOpen   bool     `structs:"-"`

	// Extras holds provider-specific fields that don't have a named Go
	// field (per-provider credential blocks, the conditional strategy's
	// "conditions" DSL, etc.) — the tagged-variant escape hatch.
	Extras map[string]any `structs:"-"`
}

// EffectiveWeight returns the target's configured weight, defaulting to 1
// when unset.
func (t *Target) EffectiveWeight() float64 {
	if t == nil || t.Weight == nil {
		return 1
	}
	return *t.Weight
}

// ToMap flattens the typed Target back into an open map, used by the Config
// Builder's round-trip invariant (feeding the serialized form back in must
// reproduce an equal configuration after camelCase normalization).
func (t *Target) ToMap() map[string]any {
	if t == nil {
		return nil
	}
	m := structs.Map(t)
	for k, v := range t.Extras {
		m[k] = v
	}
	if t.APIKey != "" {
		m["apiKey"] = t.APIKey
	}
	if len(t.Targets) > 0 {
		children := make([]map[string]any, len(t.Targets))
		for i, c := range t.Targets {
			children[i] = c.ToMap()
		}
		m["targets"] = children
	}
	return m
}

// InheritedConfig is the snapshot threaded down the target-tree walk. The
// current node always takes preference: map
// fields merge shallowly with current-node-wins, list fields replace
// entirely when present on the current node (otherwise inherited), and
// Retry/Cache replace atomically (never merged).
type InheritedConfig struct {
	ID                      string
	OverrideParams          map[string]any
	Retry                   *RetryConfig
	Cache                   *CacheConfig
	DefaultInputGuardrails  []map[string]any
	DefaultOutputGuardrails []map[string]any
	StrictOpenAiCompliance  bool
	ForwardHeaders          []string
	CustomHost              string
	BeforeRequestHooks      []HookObject
	AfterRequestHooks       []HookObject
	RequestTimeout          time.Duration
}

// mergeInherited computes the InheritedConfig visible at target, given the
// config inherited from its ancestors. Preference always goes to the
// current node.
func mergeInherited(parent InheritedConfig, t *Target) InheritedConfig {
	out := parent

	if t.ID != "" {
		out.ID = t.ID
	}

	if len(t.OverrideParams) > 0 {
		merged := make(map[string]any, len(parent.OverrideParams)+len(t.OverrideParams))
		for k, v := range parent.OverrideParams {
			merged[k] = v
		}
		for k, v := range t.OverrideParams {
			merged[k] = v // current node wins
		}
		out.OverrideParams = merged
	}

	if t.Retry != nil {
		out.Retry = t.Retry
	}
	if t.Cache != nil {
		out.Cache = t.Cache
	}
	if t.RequestTimeout > 0 {
		out.RequestTimeout = t.RequestTimeout
	}
	if len(t.DefaultInputGuardrails) > 0 {
		out.DefaultInputGuardrails = t.DefaultInputGuardrails
	}
	if len(t.DefaultOutputGuardrails) > 0 {
		out.DefaultOutputGuardrails = t.DefaultOutputGuardrails
	}
	if t.StrictOpenAiCompliance {
		out.StrictOpenAiCompliance = true
	}
	if len(t.ForwardHeaders) > 0 {
		out.ForwardHeaders = t.ForwardHeaders
	}
	if t.CustomHost != "" {
		out.CustomHost = t.CustomHost
	}
	if len(t.BeforeRequestHooks) > 0 {
		out.BeforeRequestHooks = t.BeforeRequestHooks
	}
	if len(t.AfterRequestHooks) > 0 {
		out.AfterRequestHooks = t.AfterRequestHooks
	}

	return out
}

// applyInherited copies inherited list-valued fields onto target itself
// when not already set, so downstream processors (which only ever look at
// leaf fields) see the effective configuration without having to know about
// InheritedConfig.
func applyInherited(t *Target, inherited InheritedConfig) {
	if len(t.ForwardHeaders) == 0 {
		t.ForwardHeaders = inherited.ForwardHeaders
	}
	if t.CustomHost == "" {
		t.CustomHost = inherited.CustomHost
	}
	if len(t.BeforeRequestHooks) == 0 {
		t.BeforeRequestHooks = inherited.BeforeRequestHooks
	}
	if len(t.AfterRequestHooks) == 0 {
		t.AfterRequestHooks = inherited.AfterRequestHooks
	}
	if t.Retry == nil {
		t.Retry = inherited.Retry
	}
	if t.Cache == nil {
		t.Cache = inherited.Cache
	}
	if t.RequestTimeout == 0 {
		t.RequestTimeout = inherited.RequestTimeout
	}
	if !t.StrictOpenAiCompliance {
		t.StrictOpenAiCompliance = inherited.StrictOpenAiCompliance
	}
	if len(t.OverrideParams) == 0 && len(inherited.OverrideParams) > 0 {
		t.OverrideParams = inherited.OverrideParams
	}
}
