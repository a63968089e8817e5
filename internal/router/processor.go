package router

import (
	"context"
	"encoding/json"
	"strings"
)

// TryPost implements the Request Processor: the ordered
// per-leaf pipeline. Every phase that produces a terminal Response logs and
// returns immediately; TryPost itself never returns a Go error — failures
// are always shaped into a Response before returning.
func (e *Engine) TryPost(ctx context.Context, target *Target, body []byte, headers map[string]string, endpoint, method, jsonPath string) *Response {
	log := NewLogObject(jsonPath)
	log.RequestHeaders = headers

	emit := func(resp *Response) *Response {
		log.Response = resp
		if log.emitOnce() {
			e.Logs.Emit(log)
			if e.Metrics != nil {
				e.Metrics.ObserveJSONPathDepth(strings.Count(jsonPath, ".targets["))
			}
		}
		return resp
	}

	adapter, ok := e.Providers.Get(target.Provider)
	if !ok {
		return emit(e.errorShaper.ShapeError(&GatewayError{Message: "no provider adapter configured for \"" + target.Provider + "\""}))
	}

	rc := &RequestContext{
		Ctx:             ctx,
		Endpoint:        endpoint,
		Method:          method,
		Target:          target,
		OriginalHeaders: headers,
		OriginalBody:    body,
		RetryConfig:     effectiveRetryConfig(target.Retry),
		RequestTimeout:  target.RequestTimeout,
		JSONPath:        jsonPath,
	}

	url, err := adapter.ResolveURL(rc)
	if err != nil {
		return emit(e.errorShaper.ShapeError(err))
	}
	rc.RequestURL = url
	log.RequestURL = url

	requestParams := map[string]any{}
	_ = json.Unmarshal(body, &requestParams)

	span := e.Hooks.CreateSpan(requestParams)
	log.HookSpanID = span.ID
	defer e.Hooks.TeardownSpan(span)

	hookResult, hookErr := e.Hooks.BeforeRequestHookHandler(ctx, span, target.BeforeRequestHooks, requestParams)
	if hookErr != nil {
		// Before-request hook errors are swallowed: logged by the hooks
		// manager itself, the request proceeds.
		hookResult = &HookResult{ShouldDeny: false}
	}
	if hookResult.ShouldDeny {
		if e.Metrics != nil {
			e.Metrics.RecordHookDenial("before_request")
		}
		return emit(e.errorShaper.ShapeHooksDenied(hookResult.Results))
	}
	if hookResult.Transformed && span.RequestJSON != nil {
		if transformed, err := json.Marshal(span.RequestJSON); err == nil {
			rc.OriginalBody = transformed
		}
	}

	if !adapter.HasCustomRequestHandler() {
		if err := adapter.TransformRequest(rc); err != nil {
			return emit(e.errorShaper.ShapeError(err))
		}
	}

	cached, cacheStatus, cacheKey := e.cacheLookup(ctx, target, url, rc.OriginalBody)
	log.CacheStatus = cacheStatus
	log.CacheKey = cacheKey
	if cached != nil {
		resp := &Response{Status: 200, Headers: map[string]string{"content-type": "application/json"}, Body: cached}
		mapped, _, _, _ := adapter.TransformResponse(rc, resp, false)
		return emit(mapped)
	}

	if validationResp := e.Validator.Validate(ctx, rc); validationResp != nil {
		return emit(validationResp)
	}

	result := e.runAfterRequestHookLoop(ctx, rc, adapter, span, 0, log)
	log.RetryAttempt = result.RetryCount

	if result.MappedResponse.IsOK() && !rc.Streaming && e.Cache != nil && cacheKey != "" {
		cacheBody := result.MappedResponse.Body
		go e.Cache.Set(context.WithoutCancel(ctx), cacheKey, cacheBody, e.cacheTTL(target))
	}

	return emit(result.MappedResponse)
}

func effectiveRetryConfig(r *RetryConfig) RetryConfig {
	if r == nil {
		return RetryConfig{Attempts: 0}
	}
	return *r
}
