package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_CacheLookup_DisabledWhenNoCacheConfig(t *testing.T) {
	e := NewEngine(StaticProviderRegistry{}, WithCache(newMemCache()))
	target := &Target{Provider: "openai"}
	_, status, _ := e.cacheLookup(context.Background(), target, "https://x", []byte(`{}`))
	assert.Equal(t, "DISABLED", status)
}

func TestEngine_CacheLookup_MissThenHit(t *testing.T) {
	cache := newMemCache()
	e := NewEngine(StaticProviderRegistry{}, WithCache(cache))
	target := &Target{Provider: "openai", Cache: &CacheConfig{Mode: "simple"}}

	_, status, key := e.cacheLookup(context.Background(), target, "https://x", []byte(`{}`))
	assert.Equal(t, "MISS", status)
	require.NotEmpty(t, key)

	require.NoError(t, cache.Set(context.Background(), key, []byte(`{"cached":true}`), 0))

	cached, status, _ := e.cacheLookup(context.Background(), target, "https://x", []byte(`{}`))
	assert.Equal(t, "HIT", status)
	assert.JSONEq(t, `{"cached":true}`, string(cached))
}

func TestEngine_CacheLookup_OnlySimpleModeCaches(t *testing.T) {
	e := NewEngine(StaticProviderRegistry{}, WithCache(newMemCache()))
	target := &Target{Provider: "openai", Cache: &CacheConfig{Mode: "semantic"}}
	_, status, _ := e.cacheLookup(context.Background(), target, "https://x", []byte(`{}`))
	assert.Equal(t, "DISABLED", status, "only \"simple\" cache mode is understood by the default cache path")
}

func TestEngine_CacheTTL_DefaultsAndOverrides(t *testing.T) {
	e := NewEngine(StaticProviderRegistry{})
	assert.Equal(t, defaultCacheTTL, e.cacheTTL(&Target{}))

	custom := &Target{Cache: &CacheConfig{MaxAge: 90}}
	assert.Equal(t, custom.Cache.MaxAge, e.cacheTTL(custom))
}
