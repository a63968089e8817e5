package router

import (
	"context"
	"fmt"
	"math/rand"
)

// RecurseFunc is how a strategy asks the Target Resolver to continue the
// walk on a chosen child. Strategies never call tryTargetsRecursively
// directly — they receive it behind this function type, breaking the
// import cycle the source avoids with lazy module loading.
type RecurseFunc func(ctx context.Context, child *Target, body []byte, headers map[string]string, endpoint, method, jsonPath string, inherited InheritedConfig) (*Response, error)

// StrategyContext is the read-only environment passed to every strategy's
// Execute call.
type StrategyContext struct {
	Ctx               context.Context
	Recurse           RecurseFunc
	Body              []byte
	Headers           map[string]string
	Endpoint          string
	Method            string
	JSONPath          string
	ConditionalRouter ConditionalRouter
	// Strategy is the strategy node's own config (mode plus, for
	// fallback, the status codes considered retriable) — not to be
	// confused with any child's own Strategy field, which governs that
	// child's nested strategy node if it has one.
	Strategy *StrategyConfig
	// Extras is the strategy node's own Extras map, carrying the
	// conditional strategy's "conditions" DSL.
	Extras map[string]any
}

// Strategy selects among children and recurses into the selected one(s).
type Strategy interface {
	Execute(sctx StrategyContext, children []*Target, inherited InheritedConfig) (*Response, error)
}

// StrategyFactory returns the Strategy implementation for mode.
func StrategyFactory(mode StrategyMode) (Strategy, error) {
	switch mode {
	case StrategySingle:
		return singleStrategy{}, nil
	case StrategyFallback:
		return fallbackStrategy{}, nil
	case StrategyLoadBalance:
		return loadBalanceStrategy{}, nil
	case StrategyConditional:
		return conditionalStrategy{}, nil
	default:
		return nil, fmt.Errorf("router: unknown strategy mode %q", mode)
	}
}

func childPath(basePath string, index int) string {
	return fmt.Sprintf("%s.targets[%d]", basePath, index)
}

// ── Single ──────────────────────────────────────────────────────────────

type singleStrategy struct{}

func (singleStrategy) Execute(sctx StrategyContext, children []*Target, inherited InheritedConfig) (*Response, error) {
	if len(children) == 0 {
		return nil, &GatewayError{Message: "single strategy: no targets configured"}
	}
	child := children[0]
	return sctx.Recurse(sctx.Ctx, child, sctx.Body, sctx.Headers, sctx.Endpoint, sctx.Method, childPath(sctx.JSONPath, child.OriginalIndex), inherited)
}

// ── Fallback ────────────────────────────────────────────────────────────

type fallbackStrategy struct{}

func (fallbackStrategy) Execute(sctx StrategyContext, children []*Target, inherited InheritedConfig) (*Response, error) {
	var last *Response
	for _, child := range children {
		resp, err := sctx.Recurse(sctx.Ctx, child, sctx.Body, sctx.Headers, sctx.Endpoint, sctx.Method, childPath(sctx.JSONPath, child.OriginalIndex), inherited)
		if err != nil {
			return nil, err
		}
		last = resp
		if shouldStopFallback(resp, sctx.Strategy) {
			return resp, nil
		}
	}
	if last == nil {
		return nil, &GatewayError{Message: "All fallback attempts failed"}
	}
	return last, nil
}

// shouldStopFallback reports whether resp is good enough for the fallback
// walk to stop: an explicit onStatusCodes list makes any status outside it
// terminal; otherwise any 2xx is; gateway exceptions always are.
func shouldStopFallback(resp *Response, strat *StrategyConfig) bool {
	if resp == nil {
		return false
	}
	if resp.IsGatewayException() {
		return true
	}
	if strat != nil && len(strat.OnStatusCodes) > 0 {
		return !containsInt(strat.OnStatusCodes, resp.Status)
	}
	return resp.IsOK()
}

// ── LoadBalance ─────────────────────────────────────────────────────────

type loadBalanceStrategy struct{}

func (loadBalanceStrategy) Execute(sctx StrategyContext, children []*Target, inherited InheritedConfig) (*Response, error) {
	if len(children) == 0 {
		return nil, &GatewayError{Message: "loadbalance strategy: no targets configured"}
	}

	total := 0.0
	for _, c := range children {
		total += c.EffectiveWeight()
	}
	if total <= 0 {
		// Fatal, surfaced as 500 with the gateway-exception header — NOT
		// a RouterError, which is reserved for conditional-routing DSL
		// failures.
		return nil, &GatewayError{Message: "No provider selected, please check the weights"}
	}

	r := rand.Float64() * total
	cumulative := 0.0
	selected := children[len(children)-1]
	for _, c := range children {
		cumulative += c.EffectiveWeight()
		if r < cumulative {
			selected = c
			break
		}
	}

	return sctx.Recurse(sctx.Ctx, selected, sctx.Body, sctx.Headers, sctx.Endpoint, sctx.Method, childPath(sctx.JSONPath, selected.OriginalIndex), inherited)
}
