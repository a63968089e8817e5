package router

import (
	"context"
)

// Engine wires together the collaborators the routing/execution core
// depends on and exposes the two public entry points:
// ExecuteRequest (the recursive target resolver) and TryPost (the
// per-leaf request processor).
type Engine struct {
	Providers         ProviderRegistry
	Hooks             HooksManager
	Cache             CacheService
	Validator         Validator
	CircuitBreaker    CircuitBreakerHook
	ConditionalRouter ConditionalRouter
	Retry             RetryEngine
	Logs              LogSink

	CustomHeadersToIgnore []string

	// Metrics is optional: when set, the engine reports strategy
	// selections, hook denials, per-target circuit breaker state, and
	// jsonPath depth to it. A *metrics.Registry satisfies this interface
	// without the router package importing internal/metrics directly.
	Metrics MetricsSink

	errorShaper ErrorShaper
}

// MetricsSink receives the engine's operational counters. Left nil by
// default (NewEngine), in which case the engine simply skips reporting.
type MetricsSink interface {
	RecordStrategySelection(mode string)
	RecordHookDenial(phase string)
	SetTargetCircuitBreaker(targetID string, state int64)
	ObserveJSONPathDepth(depth int)
}

func WithMetrics(m MetricsSink) EngineOption { return func(e *Engine) { e.Metrics = m } }

// EngineOption configures an Engine at construction time.
type EngineOption func(*Engine)

func WithCache(c CacheService) EngineOption            { return func(e *Engine) { e.Cache = c } }
func WithValidator(v Validator) EngineOption           { return func(e *Engine) { e.Validator = v } }
func WithHooks(h HooksManager) EngineOption            { return func(e *Engine) { e.Hooks = h } }
func WithLogSink(s LogSink) EngineOption               { return func(e *Engine) { e.Logs = s } }
func WithConditionalRouter(r ConditionalRouter) EngineOption {
	return func(e *Engine) { e.ConditionalRouter = r }
}
func WithCustomHeadersToIgnore(names []string) EngineOption {
	return func(e *Engine) { e.CustomHeadersToIgnore = names }
}

// NewEngine builds an Engine with sensible no-op defaults for every
// optional collaborator, so it is runnable end-to-end without a guardrail
// product, cache backend, or circuit-breaker store configured.
func NewEngine(providers ProviderRegistry, opts ...EngineOption) *Engine {
	e := &Engine{
		Providers:      providers,
		Hooks:          NewNoopHooksManager(),
		Validator:      NoopValidator{},
		CircuitBreaker: NewCircuitBreaker(),
		Retry:          NewDefaultRetryEngine(),
		Logs:           LogSinkFunc(func(*LogObject) {}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteRequest is the front-end entry point: `tryTargetsRecursively` with
// an empty root inheritance record.
func (e *Engine) ExecuteRequest(ctx context.Context, root *Target, body []byte, headers map[string]string, endpoint, method string) *Response {
	resp, err := e.tryTargetsRecursively(ctx, root, body, headers, endpoint, method, "", InheritedConfig{})
	if err != nil {
		// Only a *RouterError ever reaches this far unshaped.
		return e.errorShaper.ShapeError(err)
	}
	return resp
}

// tryTargetsRecursively implements the Target Resolver.
func (e *Engine) tryTargetsRecursively(
	ctx context.Context,
	target *Target,
	body []byte,
	headers map[string]string,
	endpoint, method, jsonPath string,
	inherited InheritedConfig,
) (*Response, error) {
	current := mergeInherited(inherited, target)

	if isEmptyInherited(inherited) {
		if len(target.DefaultInputGuardrails) > 0 || len(target.DefaultOutputGuardrails) > 0 {
			current.BeforeRequestHooks = append(current.BeforeRequestHooks, expandShorthandList(target.DefaultInputGuardrails, "input", "guardrail")...)
			current.AfterRequestHooks = append(current.AfterRequestHooks, expandShorthandList(target.DefaultOutputGuardrails, "output", "guardrail")...)
		}
	}

	applyInherited(target, current)

	if len(target.InputGuardrails) > 0 || len(target.InputMutators) > 0 {
		target.BeforeRequestHooks = append(target.BeforeRequestHooks, expandShorthandList(target.InputGuardrails, "input", "guardrail")...)
		target.BeforeRequestHooks = append(target.BeforeRequestHooks, expandShorthandList(target.InputMutators, "input", "mutator")...)
	}
	if len(target.OutputGuardrails) > 0 || len(target.OutputMutators) > 0 {
		target.AfterRequestHooks = append(target.AfterRequestHooks, expandShorthandList(target.OutputGuardrails, "output", "guardrail")...)
		target.AfterRequestHooks = append(target.AfterRequestHooks, expandShorthandList(target.OutputMutators, "output", "mutator")...)
	}

	children := target.Targets
	if current.ID != "" && len(children) > 0 {
		if stamper, ok := e.CircuitBreaker.(interface{ StampOpenState([]*Target) }); ok {
			stamper.StampOpenState(children)
		}
		children = filterOpenTargets(children)
	}

	if target.Strategy != nil && len(children) > 0 {
		strategy, err := StrategyFactory(target.Strategy.Mode)
		if err != nil {
			return e.errorShaper.ShapeError(err), nil
		}
		if e.Metrics != nil {
			e.Metrics.RecordStrategySelection(string(target.Strategy.Mode))
		}
		sctx := StrategyContext{
			Ctx:               ctx,
			Recurse:           e.tryTargetsRecursively,
			Body:              body,
			Headers:           headers,
			Endpoint:          endpoint,
			Method:            method,
			JSONPath:          jsonPath,
			ConditionalRouter: e.ConditionalRouter,
			Strategy:          target.Strategy,
			Extras:            target.Extras,
		}
		resp, err := strategy.Execute(sctx, children, current)
		if err != nil {
			if re, ok := err.(*RouterError); ok {
				return nil, re
			}
			return e.errorShaper.ShapeError(err), nil
		}
		return resp, nil
	}

	// Leaf: no strategy mode means this node is a provider, and the
	// Request Processor is the sole path for it.
	resp := e.TryPost(ctx, target, body, headers, endpoint, method, jsonPath)
	if current.ID != "" && e.CircuitBreaker != nil {
		e.CircuitBreaker.HandleResponse(resp, current.ID, target.CBConfig)
		if e.Metrics != nil {
			e.Metrics.SetTargetCircuitBreaker(current.ID, cbStateLabelToInt(stateLabeler(e.CircuitBreaker, current.ID)))
		}
	}
	return resp, nil
}

// stateLabeler reads a breaker's state label when the configured
// CircuitBreakerHook exposes one (the default *CircuitBreaker does); hooks
// that don't are simply not reflected in the per-target gauge.
func stateLabeler(cb CircuitBreakerHook, id string) string {
	if labeler, ok := cb.(interface{ StateLabel(string) string }); ok {
		return labeler.StateLabel(id)
	}
	return ""
}

func cbStateLabelToInt(label string) int64 {
	switch label {
	case "open":
		return 2
	case "half_open":
		return 1
	default:
		return 0
	}
}

// isEmptyInherited reports whether c is the zero InheritedConfig — i.e. this
// is the root call of tryTargetsRecursively.
// InheritedConfig holds map/slice fields, so it isn't comparable with ==;
// check each field explicitly instead.
func isEmptyInherited(c InheritedConfig) bool {
	return c.ID == "" &&
		len(c.OverrideParams) == 0 &&
		c.Retry == nil &&
		c.Cache == nil &&
		len(c.DefaultInputGuardrails) == 0 &&
		len(c.DefaultOutputGuardrails) == 0 &&
		!c.StrictOpenAiCompliance &&
		len(c.ForwardHeaders) == 0 &&
		c.CustomHost == "" &&
		len(c.BeforeRequestHooks) == 0 &&
		len(c.AfterRequestHooks) == 0 &&
		c.RequestTimeout == 0
}

// filterOpenTargets keeps only children whose IsOpen flag is not true,
// falling back to the full list if that would leave nothing.
func filterOpenTargets(children []*Target) []*Target {
	healthy := make([]*Target, 0, len(children))
	for _, c := range children {
		if !c.IsOpen {
			healthy = append(healthy, c)
		}
	}
	if len(healthy) == 0 {
		return children
	}
	return healthy
}
