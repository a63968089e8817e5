package router

import (
	"sync"
	"time"
)

// cbState represents the operational state of a per-id circuit breaker.
//
//	cbClosed   — normal operation; all requests pass through.
//	cbOpen     — the target is failing; requests are rejected immediately.
//	cbHalfOpen — recovery probe; one request is allowed to test the target.
type cbState int

const (
	cbClosed cbState = iota
	cbOpen
	cbHalfOpen
)

const (
	defaultCBErrorThreshold  = 5
	defaultCBTimeWindow      = 60 * time.Second
	defaultCBHalfOpenTimeout = 30 * time.Second
)

func cbConfigInt(cfg CBConfig, key string, fallback int) int {
	if cfg == nil {
		return fallback
	}
	switch v := cfg[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}

func cbConfigDuration(cfg CBConfig, key string, fallback time.Duration) time.Duration {
	if cfg == nil {
		return fallback
	}
	switch v := cfg[key].(type) {
	case time.Duration:
		return v
	case float64:
		return time.Duration(v) * time.Second
	case int:
		return time.Duration(v) * time.Second
	}
	return fallback
}

// targetCB holds per-target circuit breaker state.
type targetCB struct {
	mu sync.Mutex

	state         cbState
	errorCount    int
	windowStart   time.Time
	openedAt      time.Time
	probeInflight bool

	// halfOpenTimeout is captured from the CBConfig in effect when the
	// breaker last opened, so Allow (which has no cfg of its own) still
	// honors a per-target override instead of always falling back to the
	// package default.
	halfOpenTimeout time.Duration
}

// CircuitBreaker is the default CircuitBreakerHook implementation. It
// generalizes the closed/open/half-open sliding-window algorithm to
// arbitrary target ids instead of a fixed provider-name set, so both the
// tree-based per-target breaker and a simple
// per-provider dispatch path (see internal/proxy) can share one
// implementation. Breakers are created lazily on first use, keyed by id.
//
// Safe for concurrent use from multiple goroutines.
type CircuitBreaker struct {
	mu       sync.RWMutex
	breakers map[string]*targetCB
}

func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{breakers: make(map[string]*targetCB)}
}

func (cb *CircuitBreaker) getOrCreate(id string) *targetCB {
	cb.mu.RLock()
	t, ok := cb.breakers[id]
	cb.mu.RUnlock()
	if ok {
		return t
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if t, ok = cb.breakers[id]; ok {
		return t
	}
	t = &targetCB{state: cbClosed, windowStart: time.Now(), halfOpenTimeout: defaultCBHalfOpenTimeout}
	cb.breakers[id] = t
	return t
}

// Allow reports whether id should receive the next request. Ids never seen
// before are optimistically allowed (equivalent to "closed").
func (cb *CircuitBreaker) Allow(id string) bool {
	if id == "" {
		return true
	}
	t := cb.getOrCreate(id)
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case cbClosed:
		return true
	case cbOpen:
		if time.Since(t.openedAt) >= t.halfOpenTimeout {
			t.state = cbHalfOpen
			t.probeInflight = true
			return true
		}
		return false
	case cbHalfOpen:
		if t.probeInflight {
			return false
		}
		t.probeInflight = true
		return true
	}
	return true
}

// IsOpen is a read-only check used to stamp Target.IsOpen before a strategy
// filters its children — it does not allocate a breaker for
// ids never seen, unlike Allow.
func (cb *CircuitBreaker) IsOpen(id string) bool {
	if id == "" {
		return false
	}
	cb.mu.RLock()
	t, ok := cb.breakers[id]
	cb.mu.RUnlock()
	if !ok {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == cbOpen
}

func (cb *CircuitBreaker) recordSuccess(id string) {
	t := cb.getOrCreate(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = cbClosed
	t.errorCount = 0
	t.probeInflight = false
	t.windowStart = time.Now()
}

func (cb *CircuitBreaker) recordFailure(id string, cfg CBConfig) {
	t := cb.getOrCreate(id)
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	window := cbConfigDuration(cfg, "timeWindow", defaultCBTimeWindow)
	if now.Sub(t.windowStart) > window {
		t.errorCount = 0
		t.windowStart = now
	}

	t.errorCount++
	t.probeInflight = false

	if t.errorCount >= cbConfigInt(cfg, "errorThreshold", defaultCBErrorThreshold) {
		t.state = cbOpen
		t.openedAt = now
		t.halfOpenTimeout = cbConfigDuration(cfg, "halfOpenTimeout", defaultCBHalfOpenTimeout)
	}
}

// HandleResponse implements CircuitBreakerHook: a leaf's terminal response
// (after retries) counts as a success or a failure for that leaf's id. A
// gateway-exception response is treated as neither — it reflects a gateway
// defect, not a genuine upstream failure, so it must not trip the breaker.
func (cb *CircuitBreaker) HandleResponse(resp *Response, id string, cfg CBConfig) {
	if id == "" || resp == nil || resp.IsGatewayException() {
		return
	}
	if resp.IsOK() {
		cb.recordSuccess(id)
		return
	}
	cb.recordFailure(id, cfg)
}

// StateLabel returns "closed", "open", or "half_open" — used by the metrics
// registry to export per-target breaker state.
func (cb *CircuitBreaker) StateLabel(id string) string {
	cb.mu.RLock()
	t, ok := cb.breakers[id]
	cb.mu.RUnlock()
	if !ok {
		return "closed"
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case cbOpen:
		return "open"
	case cbHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreakerHook is consulted by the resolver once a leaf's terminal
// response is known. Stamping IsOpen onto children before a strategy
// runs is a separate, optional concern (StampOpenState) — callers that run
// an external circuit-breaker service can skip it and stamp IsOpen
// themselves.
type CircuitBreakerHook interface {
	HandleResponse(resp *Response, id string, cfg CBConfig)
}

// StampOpenState marks each child whose id currently trips cb's breaker as
// IsOpen, so the resolver's CB-filtering step can exclude it.
// It is a plain helper, not part of the
// CircuitBreakerHook interface, since a caller with its own breaker service
// may stamp targets by other means before calling ExecuteRequest.
func (cb *CircuitBreaker) StampOpenState(targets []*Target) {
	for _, t := range targets {
		if t.ID != "" {
			t.IsOpen = cb.IsOpen(t.ID)
		}
	}
}
