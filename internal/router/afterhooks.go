package router

import "context"

// afterHookResult is what the After-Request Hook Loop returns to the
// Request Processor.
type afterHookResult struct {
	MappedResponse *Response
	RetryCount     int
}

// runAfterRequestHookLoop invokes the retry engine, runs the
// provider's response handler and after-request hooks, then decides whether
// the retry budget allows another pass.
func (e *Engine) runAfterRequestHookLoop(
	ctx context.Context,
	rc *RequestContext,
	adapter ProviderAdapter,
	span *HookSpan,
	attemptsAlreadyMade int,
	log *LogObject,
) afterHookResult {
	handler, err := adapter.BuildRequestHandler(rc)
	if err != nil {
		return afterHookResult{MappedResponse: e.errorShaper.ShapeError(err), RetryCount: -1}
	}

	resp, attempt, _, skip := e.Retry.RetryRequest(
		ctx, handler,
		rc.RetryConfig.Attempts, rc.RetryConfig.OnStatusCodes,
		rc.RequestTimeout, rc.RetryConfig.UseRetryAfterHeader,
		rc.Streaming,
	)

	parseJSON := e.Hooks.AreSyncHooksAvailable(rc.Target.AfterRequestHooks)
	mappedResponse, mappedJSON, _, err := adapter.TransformResponse(rc, resp, parseJSON)
	if err != nil {
		mappedResponse = e.errorShaper.ShapeError(err)
	}

	arhResponse, hookErr := e.Hooks.AfterRequestHookHandler(ctx, span, rc.Target.AfterRequestHooks, mappedResponse, mappedJSON, attemptsAlreadyMade)
	if hookErr != nil {
		// Unlike before-request hooks, after-request hook errors propagate.
		arhResponse = e.errorShaper.ShapeError(hookErr)
	}

	remaining := rc.RetryConfig.Attempts - attempt - attemptsAlreadyMade
	retriable := containsInt(rc.RetryConfig.OnStatusCodes, arhResponse.Status)

	if remaining > 0 && !skip && retriable {
		e.emitIntermediateLog(log, rc, arhResponse, attempt+attemptsAlreadyMade)
		return e.runAfterRequestHookLoop(ctx, rc, adapter, span, attempt+1+attemptsAlreadyMade, log)
	}

	retryCount := attempt + attemptsAlreadyMade
	if retriable || skip {
		retryCount = -1
	}
	return afterHookResult{MappedResponse: arhResponse, RetryCount: retryCount}
}

// emitIntermediateLog logs one non-terminal retry attempt, distinct from
// the single terminal LogObject emission owned by TryPost: at most one
// record per intermediate retry attempt, followed by exactly one terminal
// emission.
func (e *Engine) emitIntermediateLog(terminal *LogObject, rc *RequestContext, resp *Response, attempt int) {
	intermediate := &LogObject{
		JSONPath:       terminal.JSONPath,
		HookSpanID:     terminal.HookSpanID,
		RequestHeaders: terminal.RequestHeaders,
		RequestURL:     terminal.RequestURL,
		CacheStatus:    terminal.CacheStatus,
		RetryAttempt:   attempt,
		Response:       resp,
	}
	intermediate.emitOnce()
	e.Logs.Emit(intermediate)
}
