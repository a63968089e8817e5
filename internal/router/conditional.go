package router

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"
)

// ConditionalRouter selects a child index for the "conditional" strategy
// based on request metadata and body params. Any error it returns is
// wrapped into a *RouterError by conditionalStrategy: routing-DSL failures
// map to HTTP 400 without the gateway-exception header.
type ConditionalRouter interface {
	Route(ctx context.Context, target *Target, metadata, params map[string]any) (selectedIndex int, err error)
}

type conditionalStrategy struct{}

func (conditionalStrategy) Execute(sctx StrategyContext, children []*Target, inherited InheritedConfig) (*Response, error) {
	if sctx.ConditionalRouter == nil {
		return nil, &RouterError{Message: "conditional strategy: no conditional router configured"}
	}

	metadata := parseJSONObjectOrEmpty(sctx.Headers["x-portkey-metadata"])

	var params map[string]any
	if len(sctx.Body) > 0 {
		_ = json.Unmarshal(sctx.Body, &params) // best-effort; non-JSON bodies yield nil
	}
	if params == nil {
		params = map[string]any{}
	}

	parent := &Target{Targets: children, Extras: sctx.Extras}
	idx, err := sctx.ConditionalRouter.Route(sctx.Ctx, parent, metadata, params)
	if err != nil {
		if re, ok := err.(*RouterError); ok {
			return nil, re
		}
		return nil, &RouterError{Message: err.Error()}
	}
	if idx < 0 || idx >= len(children) {
		return nil, &RouterError{Message: fmt.Sprintf("conditional router selected out-of-range index %d", idx)}
	}

	selected := children[idx]
	return sctx.Recurse(sctx.Ctx, selected, sctx.Body, sctx.Headers, sctx.Endpoint, sctx.Method, childPath(sctx.JSONPath, selected.OriginalIndex), inherited)
}

// CELConditionalRouter is the default ConditionalRouter: each of the
// parent's Extras["conditions"] entries is {query: <CEL expression over
// `metadata`/`params`>, then: <originalIndex>}, evaluated in declaration
// order; the first truthy query wins. An entry with an empty "query" is
// used as the default if nothing matches. Grounded on cel-go's use for
// request-scoped expression evaluation in the AI-gateway examples (see
// DESIGN.md).
type CELConditionalRouter struct {
	env *cel.Env
}

func NewCELConditionalRouter() (*CELConditionalRouter, error) {
	env, err := cel.NewEnv(
		cel.Variable("metadata", cel.DynType),
		cel.Variable("params", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("router: building cel environment: %w", err)
	}
	return &CELConditionalRouter{env: env}, nil
}

type conditionEntry struct {
	Query string `json:"query"`
	Then  *int   `json:"then"`
}

func (r *CELConditionalRouter) Route(ctx context.Context, target *Target, metadata, params map[string]any) (int, error) {
	raw, ok := target.Extras["conditions"]
	if !ok {
		return 0, fmt.Errorf("conditional router: target carries no \"conditions\"")
	}

	entries, err := decodeConditions(raw)
	if err != nil {
		return 0, err
	}

	var defaultThen *int
	for _, entry := range entries {
		if entry.Query == "" {
			defaultThen = entry.Then
			continue
		}
		matched, err := r.eval(entry.Query, metadata, params)
		if err != nil {
			return 0, fmt.Errorf("conditional router: evaluating %q: %w", entry.Query, err)
		}
		if matched {
			if entry.Then == nil {
				return 0, fmt.Errorf("conditional router: matching condition has no \"then\"")
			}
			return *entry.Then, nil
		}
	}

	if defaultThen != nil {
		return *defaultThen, nil
	}
	return 0, fmt.Errorf("conditional router: no condition matched and no default provided")
}

func (r *CELConditionalRouter) eval(query string, metadata, params map[string]any) (bool, error) {
	ast, issues := r.env.Compile(query)
	if issues != nil && issues.Err() != nil {
		return false, issues.Err()
	}
	prg, err := r.env.Program(ast)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{"metadata": metadata, "params": params})
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not evaluate to a boolean", query)
	}
	return b, nil
}

func decodeConditions(raw any) ([]conditionEntry, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("conditional router: re-encoding conditions: %w", err)
	}
	var entries []conditionEntry
	if err := json.Unmarshal(encoded, &entries); err != nil {
		return nil, fmt.Errorf("conditional router: decoding conditions: %w", err)
	}
	return entries, nil
}
