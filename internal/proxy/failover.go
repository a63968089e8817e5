package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nulpointcorp/ai-gateway/internal/logger"
	"github.com/nulpointcorp/ai-gateway/internal/providers"
	"github.com/nulpointcorp/ai-gateway/internal/router"
)

// buildRouterRegistry wraps every configured providers.Provider as a
// router.SDKProviderAdapter, so the flat (non-tree) dispatch entry points
// share the routing engine's resolver and pipeline with tree-routed
// requests.
func buildRouterRegistry(provs map[string]providers.Provider) router.StaticProviderRegistry {
	reg := make(router.StaticProviderRegistry, len(provs))
	for name, p := range provs {
		reg[name] = router.NewSDKProviderAdapter(p)
	}
	return reg
}

// newRouterEngine builds the internal/router Engine used by the flat
// dispatch path. It shares this Gateway's circuit breaker state (and, when
// configured, its Prometheus registry) with the engine so both entry points
// report through the same gauges.
func (g *Gateway) newRouterEngine() *router.Engine {
	var opts []router.EngineOption
	if g.cb != nil {
		cb := g.cb.Inner()
		opts = append(opts, func(e *router.Engine) { e.CircuitBreaker = cb })
	}
	if g.metrics != nil {
		opts = append(opts, router.WithMetrics(g.metrics))
	}
	if g.reqLogger != nil {
		opts = append(opts, router.WithLogSink(router.LogSinkFunc(g.emitRouterLog)))
	}
	return router.NewEngine(buildRouterRegistry(g.providers), opts...)
}

// emitRouterLog adapts a finished router.LogObject onto the same async
// request logger the flat dispatch path uses (gateway.go's logRequest),
// so tree-routed requests show up in the same stdout/ClickHouse stream
// instead of only being reflected in the RecordRequest metric line.
func (g *Gateway) emitRouterLog(lo *router.LogObject) {
	row := lo.ToRequestLog()
	g.reqLogger.Log(logger.RequestLog{
		ID:           row.ID,
		Provider:     row.Provider,
		Model:        row.Model,
		InputTokens:  row.InputTokens,
		OutputTokens: row.OutputTokens,
		LatencyMs:    row.LatencyMs,
		Status:       row.Status,
		Cached:       row.Cached,
		CreatedAt:    row.CreatedAt,
		JSONPath:     row.JSONPath,
		CacheStatus:  row.CacheStatus,
		HookSpanID:   row.HookSpanID,
	})
}

// buildFallbackTarget builds a single fallback strategy node whose children
// are the ordered candidate providers (primary first), mirroring the
// teacher's buildCandidateList. Each leaf's ID is the provider name, so the
// circuit breaker and the gauges it feeds are keyed identically to the
// teacher's per-provider scheme.
func buildFallbackTarget(candidates []string, cbCfg router.CBConfig) *router.Target {
	children := make([]*router.Target, 0, len(candidates))
	for i, name := range candidates {
		children = append(children, &router.Target{
			ID:            name,
			Provider:      name,
			OriginalIndex: i,
			CBConfig:      cbCfg,
		})
	}
	return &router.Target{
		// A non-empty ID on the group node is what turns on circuit-breaker
		// filtering of its children (the resolver only filters targets[] when
		// currentInherited.id is set); the group itself is never a leaf, so
		// this id is never used to key a breaker entry of its own.
		ID:       "flat-dispatch-fallback",
		Strategy: &router.StrategyConfig{Mode: router.StrategyFallback},
		Targets:  children,
	}
}

// requestWithFailover tries the primary provider and, on a non-terminal
// response, walks through providers.DefaultFallbackOrder until one succeeds
// or g.maxRetries candidates have been tried.
//
// It skips providers whose circuit breaker is in the Open state (stamped by
// internal/router's StampOpenState before the fallback strategy runs).
// Returns the successful response, the name of the provider that served it,
// and nil — or nil, "", and an error if every candidate fails.
//
// Streaming requests are sent to the primary provider directly, without
// failover: a streaming reply cannot pass through the router's buffered
// pipeline.
func (g *Gateway) requestWithFailover(
	ctx context.Context,
	req *providers.ProxyRequest,
	primary string,
	route string,
) (*providers.ProxyResponse, string, error) {
	if req.Stream {
		p, ok := g.providers[primary]
		if !ok {
			return nil, "", fmt.Errorf("failover: no providers available")
		}
		resp, err := p.Request(ctx, req)
		if err != nil {
			return nil, "", err
		}
		return resp, primary, nil
	}

	candidates := buildCandidateList(primary)
	configured := make([]string, 0, len(candidates))
	for _, name := range candidates {
		if _, ok := g.providers[name]; ok {
			configured = append(configured, name)
		}
		if len(configured) >= g.maxRetries {
			break
		}
	}
	if len(configured) == 0 {
		return nil, "", fmt.Errorf("failover: no providers available")
	}

	var cbCfg router.CBConfig
	if g.cb != nil {
		cbCfg = g.cb.RouterConfig()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, "", fmt.Errorf("failover: encoding request: %w", err)
	}

	engine := g.newRouterEngine()
	root := buildFallbackTarget(configured, cbCfg)
	if g.cb != nil {
		g.cb.Inner().StampOpenState(root.Targets)
	}
	resp := engine.ExecuteRequest(ctx, root, body, nil, "chatComplete", "POST")

	usedProvider := resp.Headers[router.ServedProviderHeader]
	if resp.IsGatewayException() || !resp.IsOK() {
		reason := "unknown"
		var payload struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(resp.Body, &payload) == nil && payload.Message != "" {
			reason = payload.Message
		}
		g.log.WarnContext(ctx, "failover_exhausted",
			slog.String("request_id", req.RequestID),
			slog.String("primary", primary),
			slog.Int("attempted", len(configured)),
		)
		if g.metrics != nil {
			g.metrics.RecordFailoverExhausted(primary)
		}
		return nil, "", fmt.Errorf("failover: all providers failed after %d attempt(s): %s", len(configured), reason)
	}

	if usedProvider != "" && usedProvider != primary {
		g.log.InfoContext(ctx, "failover_success",
			slog.String("request_id", req.RequestID),
			slog.String("from", primary),
			slog.String("to", usedProvider),
		)
		if g.metrics != nil {
			g.metrics.RecordFailoverSuccess(primary, usedProvider)
		}
	}

	var out providers.ProxyResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, "", fmt.Errorf("failover: decoding response: %w", err)
	}
	if usedProvider == "" {
		usedProvider = primary
	}
	return &out, usedProvider, nil
}

// buildCandidateList returns an ordered slice starting with primary, followed
// by the remaining providers in DefaultFallbackOrder (deduped).
func buildCandidateList(primary string) []string {
	seen := map[string]bool{primary: true}
	out := []string{primary}
	for _, name := range providers.DefaultFallbackOrder {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// classifyError converts an error into a short human-readable category string
// used in log fields and metrics labels.
func classifyError(err error) string {
	if err == context.DeadlineExceeded {
		return "timeout"
	}
	if sc, ok := err.(providers.StatusCoder); ok {
		return fmt.Sprintf("http_%d", sc.HTTPStatus())
	}
	return "unknown"
}
