package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingRecurse(visited *[]int) RecurseFunc {
	return func(ctx context.Context, child *Target, body []byte, headers map[string]string, endpoint, method, jsonPath string, inherited InheritedConfig) (*Response, error) {
		*visited = append(*visited, child.OriginalIndex)
		return &Response{Status: 200}, nil
	}
}

func TestStrategyFactory_UnknownMode(t *testing.T) {
	_, err := StrategyFactory(StrategyMode("bogus"))
	assert.Error(t, err)
}

func TestStrategyFactory_KnownModes(t *testing.T) {
	for _, mode := range []StrategyMode{StrategySingle, StrategyFallback, StrategyLoadBalance, StrategyConditional} {
		strat, err := StrategyFactory(mode)
		require.NoError(t, err)
		assert.NotNil(t, strat)
	}
}

func TestSingleStrategy_RecursesFirstChild(t *testing.T) {
	var visited []int
	children := []*Target{{OriginalIndex: 0}, {OriginalIndex: 1}}
	sctx := StrategyContext{Ctx: context.Background(), Recurse: recordingRecurse(&visited)}

	resp, err := singleStrategy{}.Execute(sctx, children, InheritedConfig{})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, []int{0}, visited)
}

func TestSingleStrategy_NoChildren(t *testing.T) {
	sctx := StrategyContext{Ctx: context.Background()}
	_, err := singleStrategy{}.Execute(sctx, nil, InheritedConfig{})
	assert.Error(t, err)
}

func TestFallbackStrategy_StopsOnFirstOK(t *testing.T) {
	var visited []int
	calls := 0
	recurse := func(ctx context.Context, child *Target, body []byte, headers map[string]string, endpoint, method, jsonPath string, inherited InheritedConfig) (*Response, error) {
		calls++
		visited = append(visited, child.OriginalIndex)
		if calls == 1 {
			return &Response{Status: 500}, nil
		}
		return &Response{Status: 200}, nil
	}
	children := []*Target{{OriginalIndex: 0}, {OriginalIndex: 1}, {OriginalIndex: 2}}
	sctx := StrategyContext{Ctx: context.Background(), Recurse: recurse}

	resp, err := fallbackStrategy{}.Execute(sctx, children, InheritedConfig{})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, []int{0, 1}, visited, "fallback stops as soon as a response is good enough")
}

func TestFallbackStrategy_AllFail_ReturnsLast(t *testing.T) {
	recurse := func(ctx context.Context, child *Target, body []byte, headers map[string]string, endpoint, method, jsonPath string, inherited InheritedConfig) (*Response, error) {
		return &Response{Status: 503}, nil
	}
	children := []*Target{{OriginalIndex: 0}, {OriginalIndex: 1}}
	sctx := StrategyContext{Ctx: context.Background(), Recurse: recurse}

	resp, err := fallbackStrategy{}.Execute(sctx, children, InheritedConfig{})
	require.NoError(t, err)
	assert.Equal(t, 503, resp.Status, "last response is returned when nothing stopped the walk")
}

func TestFallbackStrategy_UsesNodeOwnOnStatusCodes(t *testing.T) {
	// An explicit onStatusCodes list on the fallback node itself (not any
	// child's Strategy) decides when the walk stops: 201 is not in that
	// list, so the first child's response ends the walk.
	var visited []int
	recurse := func(ctx context.Context, child *Target, body []byte, headers map[string]string, endpoint, method, jsonPath string, inherited InheritedConfig) (*Response, error) {
		visited = append(visited, child.OriginalIndex)
		return &Response{Status: 201}, nil
	}
	children := []*Target{{OriginalIndex: 0}, {OriginalIndex: 1}}
	sctx := StrategyContext{
		Ctx:      context.Background(),
		Recurse:  recurse,
		Strategy: &StrategyConfig{Mode: StrategyFallback, OnStatusCodes: []int{500, 502}},
	}

	resp, err := fallbackStrategy{}.Execute(sctx, children, InheritedConfig{})
	require.NoError(t, err)
	assert.Equal(t, 201, resp.Status)
	assert.Equal(t, []int{0}, visited, "201 is not in onStatusCodes, so fallback must stop on the first child")
}

func TestLoadBalanceStrategy_ZeroWeight_ReturnsPlainError(t *testing.T) {
	zero := 0.0
	children := []*Target{
		{OriginalIndex: 0, Weight: &zero},
		{OriginalIndex: 1, Weight: &zero},
	}
	sctx := StrategyContext{Ctx: context.Background()}

	_, err := loadBalanceStrategy{}.Execute(sctx, children, InheritedConfig{})
	require.Error(t, err)
	_, isRouterErr := err.(*RouterError)
	assert.False(t, isRouterErr, "zero-weight failure must not be a RouterError — it surfaces as 500, not 400")
}

func TestLoadBalanceStrategy_DistributionApproximatesWeights(t *testing.T) {
	w1, w2 := 1.0, 3.0
	children := []*Target{
		{OriginalIndex: 0, Weight: &w1},
		{OriginalIndex: 1, Weight: &w2},
	}

	counts := map[int]int{}
	const draws = 10000
	for i := 0; i < draws; i++ {
		var picked int
		recurse := func(ctx context.Context, child *Target, body []byte, headers map[string]string, endpoint, method, jsonPath string, inherited InheritedConfig) (*Response, error) {
			picked = child.OriginalIndex
			return &Response{Status: 200}, nil
		}
		sctx := StrategyContext{Ctx: context.Background(), Recurse: recurse}
		_, err := loadBalanceStrategy{}.Execute(sctx, children, InheritedConfig{})
		require.NoError(t, err)
		counts[picked]++
	}

	share0 := float64(counts[0]) / draws
	share1 := float64(counts[1]) / draws
	assert.InDelta(t, 0.25, share0, 0.05, "weight 1 of total 4 should draw ~25%% of the time")
	assert.InDelta(t, 0.75, share1, 0.05, "weight 3 of total 4 should draw ~75%% of the time")
}

func TestChildPath(t *testing.T) {
	assert.Equal(t, ".targets[0]", childPath("", 0))
	assert.Equal(t, ".targets[0].targets[2]", childPath(".targets[0]", 2))
}

func TestShouldStopFallback(t *testing.T) {
	assert.False(t, shouldStopFallback(nil, nil))
	assert.True(t, shouldStopFallback(&Response{Status: 200}, nil), "default rule: OK responses stop the walk")
	assert.False(t, shouldStopFallback(&Response{Status: 500}, nil))
	assert.True(t, shouldStopFallback(&Response{Status: 500, Headers: map[string]string{GatewayExceptionHeader: "true"}}, nil), "gateway exceptions always stop the walk")
}
