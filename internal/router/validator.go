package router

import "context"

// Validator performs pre-request validation (e.g. virtual-key budget
// checks) ahead of the main fetch. A non-nil Response is
// terminal: the processor emits it and returns without ever reaching the
// upstream.
type Validator interface {
	Validate(ctx context.Context, rc *RequestContext) *Response
}

// NoopValidator always allows the request through.
type NoopValidator struct{}

func (NoopValidator) Validate(ctx context.Context, rc *RequestContext) *Response { return nil }
