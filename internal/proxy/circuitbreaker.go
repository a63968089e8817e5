package proxy

import (
	"time"

	"github.com/nulpointcorp/ai-gateway/internal/providers"
	"github.com/nulpointcorp/ai-gateway/internal/router"
)

// cbState represents the operational state of a per-provider circuit breaker.
//
//	cbClosed   — normal operation; all requests pass through.
//	cbOpen     — provider is failing; requests are rejected immediately.
//	cbHalfOpen — recovery probe; one request is allowed to probe the provider.
type cbState int

const (
	cbClosed   cbState = 0
	cbOpen     cbState = 1
	cbHalfOpen cbState = 2
)

// CBConfig holds circuit breaker tuning parameters. Zero values fall back to
// the package-level defaults defined in providers/provider.go.
type CBConfig struct {
	// ErrorThreshold is the number of failures within TimeWindow that trips
	// the breaker. Default: providers.CBErrorThreshold (5).
	ErrorThreshold int

	// TimeWindow is the rolling window for counting errors.
	// Default: providers.CBTimeWindow (60s).
	TimeWindow time.Duration

	// HalfOpenTimeout is how long the breaker stays open before allowing a
	// single probe request. Default: providers.CBHalfOpenTimeout (30s).
	HalfOpenTimeout time.Duration
}

func (c CBConfig) routerConfig() router.CBConfig {
	cfg := router.CBConfig{}
	if c.ErrorThreshold > 0 {
		cfg["errorThreshold"] = c.ErrorThreshold
	}
	if c.TimeWindow > 0 {
		cfg["timeWindow"] = c.TimeWindow
	}
	if c.HalfOpenTimeout > 0 {
		cfg["halfOpenTimeout"] = c.HalfOpenTimeout
	}
	return cfg
}

// CircuitBreaker manages independent circuit breakers for each LLM provider.
// It is a thin per-provider adapter over internal/router's generalized
// target-id breaker, so the tree-routed engine and this flat dispatch path
// share one closed/open/half-open implementation. Safe for concurrent use.
type CircuitBreaker struct {
	inner *router.CircuitBreaker
	cfg   router.CBConfig
}

// NewCircuitBreaker creates a CircuitBreaker with default settings for every
// provider in providers.DefaultFallbackOrder.
func NewCircuitBreaker() *CircuitBreaker {
	return NewCircuitBreakerWithConfig(CBConfig{})
}

// NewCircuitBreakerWithConfig creates a CircuitBreaker with custom thresholds.
// Use this to apply values loaded from configuration.
func NewCircuitBreakerWithConfig(cfg CBConfig) *CircuitBreaker {
	cb := &CircuitBreaker{inner: router.NewCircuitBreaker(), cfg: cfg.routerConfig()}
	for _, name := range providers.DefaultFallbackOrder {
		cb.inner.Allow(name) // materializes a closed breaker entry for metrics export
	}
	return cb
}

// Allow reports whether the named provider should receive the next request.
// Returns true for unknown providers (the breaker is not tracking them yet).
func (cb *CircuitBreaker) Allow(provider string) bool {
	return cb.inner.Allow(provider)
}

// RecordSuccess marks a successful response for provider and resets the
// breaker to Closed regardless of its previous state.
func (cb *CircuitBreaker) RecordSuccess(provider string) {
	cb.inner.HandleResponse(&router.Response{Status: 200}, provider, cb.cfg)
}

// RecordFailure increments the error counter for provider. When the counter
// reaches ErrorThreshold within TimeWindow the breaker opens.
func (cb *CircuitBreaker) RecordFailure(provider string) {
	cb.inner.HandleResponse(&router.Response{Status: 500}, provider, cb.cfg)
}

// State returns the current cbState for provider (useful for metrics export).
func (cb *CircuitBreaker) State(provider string) cbState {
	switch cb.inner.StateLabel(provider) {
	case "open":
		return cbOpen
	case "half_open":
		return cbHalfOpen
	default:
		return cbClosed
	}
}

// StateLabel returns a human-readable state name: "closed", "open", or "half_open".
func (cb *CircuitBreaker) StateLabel(provider string) string {
	return cb.inner.StateLabel(provider)
}

// Inner exposes the underlying generalized breaker so the flat fallback
// dispatch path (internal/router's Engine) can share the same per-provider
// state this CircuitBreaker tracks, instead of keeping two independent
// breakers for the same provider.
func (cb *CircuitBreaker) Inner() *router.CircuitBreaker { return cb.inner }

// RouterConfig exposes the CBConfig this breaker was constructed with, in
// internal/router's map-based shape, for Targets built by the flat dispatch
// path.
func (cb *CircuitBreaker) RouterConfig() router.CBConfig { return cb.cfg }
