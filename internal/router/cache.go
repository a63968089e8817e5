package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// CacheService is the subset of internal/cache.Cache the engine depends on
// — kept as its own interface so the router package never imports the
// proxy's cache package directly, only whatever concrete cache the caller
// wires in (internal/cache.ExactCache, internal/cache.MemoryCache, or a
// test double).
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

const defaultCacheTTL = 5 * time.Minute

// buildCacheKey derives a deterministic cache key from the leaf's resolved
// URL and the outbound request body, so two identical requests against the
// same target hash to the same key regardless of header ordering.
func buildCacheKey(target *Target, url string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(target.Provider))
	h.Write([]byte("|"))
	h.Write([]byte(url))
	h.Write([]byte("|"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// cacheLookup consults the cache for target's leaf request, when caching is
// enabled (Target.Cache.Mode == "simple" is the only mode the default
// implementation understands — other modes are reserved for semantic-cache
// products plugged in via a different CacheService).
func (e *Engine) cacheLookup(ctx context.Context, target *Target, url string, body []byte) (cached []byte, status, key string) {
	if e.Cache == nil || target.Cache == nil || target.Cache.Mode != "simple" {
		return nil, "DISABLED", ""
	}
	key = buildCacheKey(target, url, body)
	if val, ok := e.Cache.Get(ctx, key); ok {
		return val, "HIT", key
	}
	return nil, "MISS", key
}

func (e *Engine) cacheTTL(target *Target) time.Duration {
	if target.Cache != nil && target.Cache.MaxAge > 0 {
		return target.Cache.MaxAge
	}
	return defaultCacheTTL
}
