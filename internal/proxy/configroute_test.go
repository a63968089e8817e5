package proxy

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nulpointcorp/ai-gateway/internal/providers"
	"github.com/valyala/fasthttp"
)

func TestIsConfigRouted(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		want    bool
	}{
		{"no headers", map[string]string{}, false},
		{"provider header", map[string]string{"x-portkey-provider": "openai"}, true},
		{"config header", map[string]string{"x-portkey-config": `{"provider":"openai"}`}, true},
		{"unrelated header", map[string]string{"x-request-id": "abc"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isConfigRouted(tc.headers); got != tc.want {
				t.Errorf("isConfigRouted(%v) = %v, want %v", tc.headers, got, tc.want)
			}
		})
	}
}

func TestCollectHeaders_LowercasesKeys(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set("X-Portkey-Provider", "openai")
	ctx.Request.Header.Set("Authorization", "Bearer sk-test")

	headers := collectHeaders(ctx)

	if headers["x-portkey-provider"] != "openai" {
		t.Errorf("expected lowercase key lookup to find provider header, got %v", headers)
	}
	if headers["authorization"] != "Bearer sk-test" {
		t.Errorf("expected lowercase key lookup to find authorization header, got %v", headers)
	}
}

func TestDispatchChat_ConfigRouted_Success(t *testing.T) {
	gw := NewGateway(context.Background(), map[string]providers.Provider{
		"openai": okProvider("openai"),
	}, nil)

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set("x-portkey-provider", "openai")
	ctx.Request.Header.Set("authorization", "Bearer sk-test")
	ctx.Request.SetBody([]byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],"requestId":"req-1"}`))
	ctx.SetUserValue("request_id", "req-1")

	gw.dispatchChat(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d: %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}

	var out struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(ctx.Response.Body(), &out); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if out.Content != "hello from openai" {
		t.Errorf("expected content from the openai provider, got %q", out.Content)
	}
}

func TestDispatchChat_ConfigRouted_UnknownProvider(t *testing.T) {
	gw := NewGateway(context.Background(), map[string]providers.Provider{
		"openai": okProvider("openai"),
	}, nil)

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set("x-portkey-provider", "made-up-provider")
	ctx.Request.SetBody([]byte(`{"model":"gpt-4o","messages":[]}`))

	gw.dispatchChat(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusInternalServerError {
		t.Fatalf("expected 500 for an unconfigured provider, got %d: %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}
	if ctx.Response.Header.Peek("x-portkey-gateway-exception") == nil {
		t.Errorf("expected the gateway-exception header on an unconfigured-provider failure")
	}
}

// embeddingProvider is a funcProvider that additionally implements
// providers.EmbeddingProvider, the optional interface SDKProviderAdapter
// checks for via type assertion on the "embed" endpoint.
type embeddingProvider struct {
	*funcProvider
	embedFn func(context.Context, *providers.EmbeddingRequest) (*providers.EmbeddingResponse, error)
}

func (e *embeddingProvider) Embed(ctx context.Context, req *providers.EmbeddingRequest) (*providers.EmbeddingResponse, error) {
	return e.embedFn(ctx, req)
}

func okEmbeddingProvider(name string) *embeddingProvider {
	return &embeddingProvider{
		funcProvider: okProvider(name),
		embedFn: func(_ context.Context, req *providers.EmbeddingRequest) (*providers.EmbeddingResponse, error) {
			data := make([]providers.EmbeddingData, len(req.Input))
			for i := range req.Input {
				data[i] = providers.EmbeddingData{Index: i, Embedding: []float32{0.1, 0.2, 0.3}}
			}
			return &providers.EmbeddingResponse{
				Model: req.Model,
				Data:  data,
				Usage: providers.Usage{InputTokens: 3},
			}, nil
		},
	}
}

func TestDispatchEmbeddings_ConfigRouted(t *testing.T) {
	gw := NewGateway(context.Background(), map[string]providers.Provider{
		"openai": okEmbeddingProvider("openai"),
	}, nil)

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set("x-portkey-provider", "openai")
	ctx.Request.SetBody([]byte(`{"model":"text-embedding-3-small","input":["hello"]}`))

	gw.dispatchEmbeddings(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d: %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}
}
