package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConditionalRouter struct {
	index int
	err   error
}

func (s stubConditionalRouter) Route(ctx context.Context, target *Target, metadata, params map[string]any) (int, error) {
	return s.index, s.err
}

func TestConditionalStrategy_NoRouterConfigured(t *testing.T) {
	sctx := StrategyContext{Ctx: context.Background()}
	_, err := conditionalStrategy{}.Execute(sctx, []*Target{{}}, InheritedConfig{})
	require.Error(t, err)
	_, ok := err.(*RouterError)
	assert.True(t, ok, "missing router is a routing-DSL failure, not an upstream one")
}

func TestConditionalStrategy_SelectsAndRecurses(t *testing.T) {
	var recursed int = -1
	recurse := func(ctx context.Context, child *Target, body []byte, headers map[string]string, endpoint, method, jsonPath string, inherited InheritedConfig) (*Response, error) {
		recursed = child.OriginalIndex
		return &Response{Status: 200}, nil
	}
	children := []*Target{{OriginalIndex: 0}, {OriginalIndex: 1}}
	sctx := StrategyContext{
		Ctx:               context.Background(),
		Recurse:           recurse,
		ConditionalRouter: stubConditionalRouter{index: 1},
	}

	resp, err := conditionalStrategy{}.Execute(sctx, children, InheritedConfig{})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, 1, recursed)
}

func TestConditionalStrategy_OutOfRangeIndex(t *testing.T) {
	sctx := StrategyContext{
		Ctx:               context.Background(),
		ConditionalRouter: stubConditionalRouter{index: 5},
	}
	_, err := conditionalStrategy{}.Execute(sctx, []*Target{{}, {}}, InheritedConfig{})
	require.Error(t, err)
	_, ok := err.(*RouterError)
	assert.True(t, ok)
}

func TestConditionalStrategy_PlainErrorWrappedAsRouterError(t *testing.T) {
	sctx := StrategyContext{
		Ctx:               context.Background(),
		ConditionalRouter: stubConditionalRouter{err: assertError{"boom"}},
	}
	_, err := conditionalStrategy{}.Execute(sctx, []*Target{{}}, InheritedConfig{})
	require.Error(t, err)
	re, ok := err.(*RouterError)
	require.True(t, ok)
	assert.Equal(t, "boom", re.Message)
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }

func TestConditionalStrategy_PassesExtrasToRouter(t *testing.T) {
	var seenConditions any
	router := routerFunc(func(ctx context.Context, target *Target, metadata, params map[string]any) (int, error) {
		seenConditions = target.Extras["conditions"]
		return 0, nil
	})
	children := []*Target{{OriginalIndex: 0}}
	sctx := StrategyContext{
		Ctx:               context.Background(),
		Recurse:           func(context.Context, *Target, []byte, map[string]string, string, string, string, InheritedConfig) (*Response, error) { return &Response{Status: 200}, nil },
		ConditionalRouter: router,
		Extras:            map[string]any{"conditions": "marker"},
	}
	_, err := conditionalStrategy{}.Execute(sctx, children, InheritedConfig{})
	require.NoError(t, err)
	assert.Equal(t, "marker", seenConditions, "the strategy node's own Extras must reach the conditional router")
}

type routerFunc func(ctx context.Context, target *Target, metadata, params map[string]any) (int, error)

func (f routerFunc) Route(ctx context.Context, target *Target, metadata, params map[string]any) (int, error) {
	return f(ctx, target, metadata, params)
}

func TestCELConditionalRouter_FirstMatchWins(t *testing.T) {
	router, err := NewCELConditionalRouter()
	require.NoError(t, err)

	target := &Target{Extras: map[string]any{
		"conditions": []any{
			map[string]any{"query": `metadata.tier == "gold"`, "then": 0.0},
			map[string]any{"query": "", "then": 1.0},
		},
	}}

	idx, err := router.Route(context.Background(), target, map[string]any{"tier": "gold"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

func TestCELConditionalRouter_FallsBackToDefault(t *testing.T) {
	router, err := NewCELConditionalRouter()
	require.NoError(t, err)

	target := &Target{Extras: map[string]any{
		"conditions": []any{
			map[string]any{"query": `metadata.tier == "gold"`, "then": 0.0},
			map[string]any{"query": "", "then": 1.0},
		},
	}}

	idx, err := router.Route(context.Background(), target, map[string]any{"tier": "silver"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
}

func TestCELConditionalRouter_NoConditionsOnTarget(t *testing.T) {
	router, err := NewCELConditionalRouter()
	require.NoError(t, err)
	_, err = router.Route(context.Background(), &Target{}, nil, nil)
	assert.Error(t, err)
}

func TestCELConditionalRouter_NoMatchNoDefault(t *testing.T) {
	router, err := NewCELConditionalRouter()
	require.NoError(t, err)
	target := &Target{Extras: map[string]any{
		"conditions": []any{
			map[string]any{"query": `metadata.tier == "gold"`, "then": 0.0},
		},
	}}
	_, err = router.Route(context.Background(), target, map[string]any{"tier": "silver"}, nil)
	assert.Error(t, err)
}
