package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/sjson"

	"github.com/nulpointcorp/ai-gateway/internal/providers"
)

// ProviderAdapter bridges one upstream provider into the pipeline. Deep
// provider-specific request/response transformation lives with the
// providers themselves — adapters here either delegate to an existing
// providers.Provider SDK client (chat/embeddings) or perform a literal
// reverse-proxy passthrough (proxy/uploadFile endpoints).
type ProviderAdapter interface {
	Name() string

	// ResolveURL computes the outbound request URL for rc.
	ResolveURL(rc *RequestContext) (string, error)

	// HasCustomRequestHandler reports whether this adapter already owns
	// the whole outbound exchange (true for SDK-backed providers, whose
	// Request method performs transform+fetch+parse together) — when
	// true, the processor skips its own TransformRequest pass.
	HasCustomRequestHandler() bool

	// TransformRequest populates rc.TransformedBody/TransformedHeaders
	// from rc.OriginalBody/Target when the adapter has no custom handler.
	TransformRequest(rc *RequestContext) error

	// BuildRequestHandler returns the RequestHandler the retry engine will
	// invoke, one or more times, for this leaf.
	BuildRequestHandler(rc *RequestContext) (RequestHandler, error)

	// TransformResponse maps the raw upstream Response into the
	// gateway's outward Response, optionally also returning the response
	// parsed as JSON (mapped and original) when parseJSON is true — the
	// body is only parsed when synchronous after-hooks will consume it.
	TransformResponse(rc *RequestContext, resp *Response, parseJSON bool) (mapped *Response, mappedJSON, originalJSON map[string]any, err error)
}

// ProviderRegistry resolves a provider name to its adapter.
type ProviderRegistry interface {
	Get(name string) (ProviderAdapter, bool)
}

// StaticProviderRegistry is a plain map-backed ProviderRegistry.
type StaticProviderRegistry map[string]ProviderAdapter

func (r StaticProviderRegistry) Get(name string) (ProviderAdapter, bool) {
	a, ok := r[name]
	return a, ok
}

// SDKProviderAdapter wraps an existing providers.Provider (and, where
// available, providers.EmbeddingProvider) so the chat/completions/embeddings
// endpoints run through the same pipeline as tree-routed targets.
type SDKProviderAdapter struct {
	provider providers.Provider
}

func NewSDKProviderAdapter(p providers.Provider) *SDKProviderAdapter {
	return &SDKProviderAdapter{provider: p}
}

func (a *SDKProviderAdapter) Name() string { return a.provider.Name() }

func (a *SDKProviderAdapter) ResolveURL(rc *RequestContext) (string, error) {
	return fmt.Sprintf("sdk://%s/%s", a.provider.Name(), rc.Endpoint), nil
}

func (a *SDKProviderAdapter) HasCustomRequestHandler() bool { return true }

func (a *SDKProviderAdapter) TransformRequest(rc *RequestContext) error { return nil }

func (a *SDKProviderAdapter) BuildRequestHandler(rc *RequestContext) (RequestHandler, error) {
	return func(ctx context.Context) (*Response, error) {
		switch rc.Endpoint {
		case "embed":
			return a.fetchEmbedding(ctx, rc)
		default:
			return a.fetchChat(ctx, rc)
		}
	}, nil
}

func (a *SDKProviderAdapter) fetchChat(ctx context.Context, rc *RequestContext) (*Response, error) {
	body := mergeOverrideParams(rc.OriginalBody, rc.Target.OverrideParams)
	var req providers.ProxyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("sdk adapter: decoding chat request: %w", err)
	}

	resp, err := a.provider.Request(ctx, &req)
	if err != nil {
		if sc, ok := err.(providers.StatusCoder); ok {
			return statusErrorResponse(sc.HTTPStatus(), err.Error()), nil
		}
		return nil, err
	}
	if resp.Stream != nil {
		// A streaming reply can't be carried as a byte-bodied Response; the
		// pipeline's Retry/Cache/After-Hook stages all assume a fully
		// buffered body. Streaming requests stay on the direct dispatch
		// path in internal/proxy and never reach this adapter.
		return nil, fmt.Errorf("sdk adapter: streaming responses are not supported through the routed pipeline")
	}
	body, err = json.Marshal(struct {
		ID      string          `json:"id"`
		Model   string          `json:"model"`
		Content string          `json:"content"`
		Usage   providers.Usage `json:"usage"`
	}{resp.ID, resp.Model, resp.Content, resp.Usage})
	if err != nil {
		return nil, fmt.Errorf("sdk adapter: encoding chat response: %w", err)
	}
	return &Response{Status: http.StatusOK, Headers: map[string]string{"content-type": "application/json", ServedProviderHeader: a.Name()}, Body: body}, nil
}

func (a *SDKProviderAdapter) fetchEmbedding(ctx context.Context, rc *RequestContext) (*Response, error) {
	embedder, ok := a.provider.(providers.EmbeddingProvider)
	if !ok {
		return nil, fmt.Errorf("sdk adapter: provider %q does not support embeddings", a.provider.Name())
	}
	var req providers.EmbeddingRequest
	if err := json.Unmarshal(rc.OriginalBody, &req); err != nil {
		return nil, fmt.Errorf("sdk adapter: decoding embedding request: %w", err)
	}
	resp, err := embedder.Embed(ctx, &req)
	if err != nil {
		if sc, ok := err.(providers.StatusCoder); ok {
			return statusErrorResponse(sc.HTTPStatus(), err.Error()), nil
		}
		return nil, err
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("sdk adapter: encoding embedding response: %w", err)
	}
	return &Response{Status: http.StatusOK, Headers: map[string]string{"content-type": "application/json", ServedProviderHeader: a.Name()}, Body: body}, nil
}

// statusErrorResponse shapes a provider SDK error that carries its own HTTP
// status (rate limit, auth failure, bad request) into a normal leaf
// Response instead of a Go error. Only errors with no status — a dropped
// connection, a DNS failure, a context deadline — should take the transport
// failure path in retry.go and be synthesized into a gateway exception;
// an upstream 4xx/5xx is a real response the fallback/retry strategies
// need to see and reason about.
func statusErrorResponse(status int, msg string) *Response {
	body, _ := json.Marshal(map[string]any{"status": "failure", "message": msg})
	return &Response{Status: status, Headers: map[string]string{"content-type": "application/json"}, Body: body}
}

// ServedProviderHeader carries the name of the adapter that actually served
// a leaf response, so a caller that only sees the terminal Response (e.g.
// the flat fallback dispatch in internal/proxy) can recover which provider
// won without threading an extra return value through the engine.
const ServedProviderHeader = "x-router-served-provider"

// mergeOverrideParams lays the target's override_params over the raw JSON
// request body, key by key. Override keys keep their user-authored casing
// (they sit under the camelCase exclusion list), so they address the same
// body fields the client would have set.
func mergeOverrideParams(body []byte, overrides map[string]any) []byte {
	if len(overrides) == 0 {
		return body
	}
	out := body
	if len(out) == 0 {
		out = []byte(`{}`)
	}
	for k, v := range overrides {
		if merged, err := sjson.SetBytes(out, k, v); err == nil {
			out = merged
		}
	}
	return out
}

func (a *SDKProviderAdapter) TransformResponse(rc *RequestContext, resp *Response, parseJSON bool) (*Response, map[string]any, map[string]any, error) {
	if !parseJSON {
		return resp, nil, nil, nil
	}
	var parsed map[string]any
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return resp, nil, nil, nil // best-effort: non-JSON body, pass through unparsed
	}
	return resp, parsed, parsed, nil
}

// HTTPProviderAdapter performs a literal reverse-proxy HTTP call — used for
// the "proxy" endpoint (raw audio/file upload passthrough) and
// for any OpenAI-compatible custom-host target that doesn't have an SDK
// client registered.
type HTTPProviderAdapter struct {
	name                  string
	client                *http.Client
	customHeadersToIgnore []string
}

func NewHTTPProviderAdapter(name string, client *http.Client, customHeadersToIgnore []string) *HTTPProviderAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProviderAdapter{name: name, client: client, customHeadersToIgnore: customHeadersToIgnore}
}

func (a *HTTPProviderAdapter) Name() string { return a.name }

func (a *HTTPProviderAdapter) ResolveURL(rc *RequestContext) (string, error) {
	host := rc.Target.CustomHost
	if host == "" {
		return "", &GatewayError{Message: fmt.Sprintf("provider %q: no customHost configured for proxy passthrough", a.name)}
	}
	return host, nil
}

func (a *HTTPProviderAdapter) HasCustomRequestHandler() bool { return false }

func (a *HTTPProviderAdapter) TransformRequest(rc *RequestContext) error {
	providerMapped := map[string]string{}
	if rc.Target.APIKey != "" {
		providerMapped["authorization"] = "Bearer " + rc.Target.APIKey
	}

	rc.TransformedHeaders = BuildFinalHeaders(rc.OriginalHeaders, providerMapped, rc.Target.ForwardHeaders, rc.Endpoint, rc.Method, a.customHeadersToIgnore)

	clientCT := rc.OriginalHeaders["content-type"]
	_, _, shouldJSON := ShouldProcessRequestBody(providerMapped["content-type"], clientCT, rc.Endpoint)
	if shouldJSON {
		rc.TransformedBody = mergeOverrideParams(rc.OriginalBody, rc.Target.OverrideParams)
	} else {
		rc.TransformedBody = rc.OriginalBody // multipart/audio bytes pass through unmodified
	}
	return nil
}

func (a *HTTPProviderAdapter) BuildRequestHandler(rc *RequestContext) (RequestHandler, error) {
	return func(ctx context.Context) (*Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, rc.Method, rc.RequestURL, bytes.NewReader(rc.TransformedBody))
		if err != nil {
			return nil, fmt.Errorf("proxy adapter: building request: %w", err)
		}
		for k, v := range rc.TransformedHeaders {
			httpReq.Header.Set(k, v)
		}

		httpResp, err := a.client.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("proxy adapter: fetch: %w", err)
		}
		defer httpResp.Body.Close()

		body, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return nil, fmt.Errorf("proxy adapter: reading response: %w", err)
		}

		headers := make(map[string]string, len(httpResp.Header))
		for k := range httpResp.Header {
			headers[k] = httpResp.Header.Get(k)
		}
		return &Response{Status: httpResp.StatusCode, Headers: headers, Body: body}, nil
	}, nil
}

func (a *HTTPProviderAdapter) TransformResponse(rc *RequestContext, resp *Response, parseJSON bool) (*Response, map[string]any, map[string]any, error) {
	if !parseJSON {
		return resp, nil, nil, nil
	}
	var parsed map[string]any
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return resp, nil, nil, nil
	}
	return resp, parsed, parsed, nil
}
