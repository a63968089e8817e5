package router

import (
	"context"

	"github.com/google/uuid"
)

// HooksManager runs before/after-request guardrails and mutators against a
// HookSpan. The guardrail evaluation DSL itself is out of scope (Non-goal);
// this interface is what the rest of the engine depends on, so a real
// guardrail product can be plugged in without touching the resolver or
// processor.
type HooksManager interface {
	CreateSpan(requestParams map[string]any) *HookSpan
	TeardownSpan(span *HookSpan)

	// BeforeRequestHookHandler evaluates hooks against the request. A
	// returned error is swallowed by the caller (logged, request proceeds)
	// — hook evaluation failures never block a request.
	BeforeRequestHookHandler(ctx context.Context, span *HookSpan, hooks []HookObject, params map[string]any) (*HookResult, error)

	// AfterRequestHookHandler evaluates hooks against a response. Unlike
	// before-hooks, an error here propagates and is shaped into a
	// GatewayError response by the caller.
	AfterRequestHookHandler(ctx context.Context, span *HookSpan, hooks []HookObject, resp *Response, respJSON map[string]any, attemptsAlreadyMade int) (*Response, error)

	// AreSyncHooksAvailable reports whether any of the given hooks require
	// a synchronous (blocking) evaluation — used by the response
	// transformer to decide whether to parse the body into JSON even for
	// streaming responses.
	AreSyncHooksAvailable(hooks []HookObject) bool
}

// NoopHooksManager is the default HooksManager: it never denies, never
// transforms, and never requires synchronous evaluation. It keeps the
// pipeline runnable end-to-end without a guardrail product configured.
type NoopHooksManager struct{}

func NewNoopHooksManager() *NoopHooksManager { return &NoopHooksManager{} }

func (NoopHooksManager) CreateSpan(requestParams map[string]any) *HookSpan {
	return &HookSpan{ID: uuid.NewString(), RequestJSON: requestParams}
}

func (NoopHooksManager) TeardownSpan(span *HookSpan) {}

func (NoopHooksManager) BeforeRequestHookHandler(ctx context.Context, span *HookSpan, hooks []HookObject, params map[string]any) (*HookResult, error) {
	return &HookResult{ShouldDeny: false}, nil
}

func (NoopHooksManager) AfterRequestHookHandler(ctx context.Context, span *HookSpan, hooks []HookObject, resp *Response, respJSON map[string]any, attemptsAlreadyMade int) (*Response, error) {
	return resp, nil
}

func (NoopHooksManager) AreSyncHooksAvailable(hooks []HookObject) bool { return false }
