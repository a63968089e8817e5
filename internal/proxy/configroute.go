package proxy

import (
	"strings"
	"time"

	"github.com/nulpointcorp/ai-gateway/internal/router"
	"github.com/valyala/fasthttp"
)

// isConfigRouted reports whether the request carries one of the headers
// that select header-driven routing instead of the
// static model→provider dispatch: an explicit `x-portkey-config` tree, or a
// flat `x-portkey-provider` override.
func isConfigRouted(headers map[string]string) bool {
	return headers["x-portkey-config"] != "" || headers["x-portkey-provider"] != ""
}

// collectHeaders copies every client header into a lowercase-keyed map, the
// shape the Config Builder and Header Processor operate on.
func collectHeaders(ctx *fasthttp.RequestCtx) map[string]string {
	headers := make(map[string]string, 16)
	ctx.Request.Header.VisitAll(func(k, v []byte) {
		headers[strings.ToLower(string(k))] = string(v)
	})
	return headers
}

// dispatchConfigRoutedWithHeaders is the HTTP front-end entry point
// that exercises the full engine: it builds a root Target from request
// headers and invokes ExecuteRequest, instead of the static
// dispatchChat/dispatchEmbeddings path that resolves a provider purely
// from the model name. Reached whenever the client sends an `x-portkey-*`
// routing header. Callers that already collected the header map (to decide
// whether to route this way) pass it in directly rather than re-visiting
// the header set.
//
// Streaming is not supported on this path: the SDK provider adapters reject
// a streaming reply (see provideradapter.go), so a request that sets
// `"stream": true` while also using x-portkey headers ends in a 502
// gateway-exception response.
func (g *Gateway) dispatchConfigRoutedWithHeaders(ctx *fasthttp.RequestCtx, endpoint string, headers map[string]string) {
	start := time.Now()
	root := router.BuildConfig(headers)

	engine := g.newRouterEngine()
	resp := engine.ExecuteRequest(g.baseCtx, root, ctx.PostBody(), headers, endpoint, "POST")

	for k, v := range resp.Headers {
		ctx.Response.Header.Set(k, v)
	}
	ctx.SetStatusCode(resp.Status)
	ctx.SetBody(resp.Body)

	if g.metrics != nil {
		provider := resp.Headers[router.ServedProviderHeader]
		if provider == "" {
			provider = root.Provider
		}
		g.metrics.RecordRequest(provider, resp.Status, time.Since(start).Milliseconds())
	}
}
