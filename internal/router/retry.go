package router

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// RequestHandler performs one upstream attempt and returns the response it
// got (even a non-2xx one) or a transport-level error (connection refused,
// DNS failure, context deadline). It must never panic on a non-2xx status —
// that's a normal retry candidate, not a Go error.
type RequestHandler func(ctx context.Context) (*Response, error)

// RetryEngine executes handler up to attempts+1 times total (the initial
// attempt plus up to `attempts` retries), retrying only on
// retriableStatusCodes and honoring Retry-After when useRetryAfterHeader is
// set. It returns no Go error: upstream/application failures come back as a
// Response with their status, and a transport failure comes back as a
// synthesized 502 gateway-exception Response.
//
// skip reports whether the caller should NOT attempt any further retries
// regardless of remaining budget (e.g. a streaming response already
// committed to the client, or a transport failure that isn't worth
// repeating).
type RetryEngine interface {
	RetryRequest(
		ctx context.Context,
		handler RequestHandler,
		attempts int,
		retriableStatusCodes []int,
		timeout time.Duration,
		useRetryAfterHeader bool,
		streaming bool,
	) (resp *Response, attempt int, createdAt time.Time, skip bool)
}

// DefaultRetryEngine drives a RequestHandler through its retry budget,
// independent of any fixed provider list.
type DefaultRetryEngine struct{}

func NewDefaultRetryEngine() *DefaultRetryEngine { return &DefaultRetryEngine{} }

func (DefaultRetryEngine) RetryRequest(
	ctx context.Context,
	handler RequestHandler,
	attempts int,
	retriableStatusCodes []int,
	timeout time.Duration,
	useRetryAfterHeader bool,
	streaming bool,
) (*Response, int, time.Time, bool) {
	createdAt := time.Now()

	for attempt := 0; ; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		resp, err := handler(attemptCtx)
		if cancel != nil {
			cancel()
		}

		if err != nil {
			// Transport-level failure: synthesize a 502 and never retry it.
			// A dead connection is a non-retriable protocol error, not a
			// status worth another attempt.
			return &Response{
				Status: http.StatusBadGateway,
				Headers: map[string]string{
					GatewayExceptionHeader: "true",
					"content-type":         "application/json",
				},
				Body: []byte(fmt.Sprintf(`{"status":"failure","message":%q}`, err.Error())),
			}, attempt, createdAt, true
		}

		if streaming {
			return resp, attempt, createdAt, true
		}

		if !containsInt(retriableStatusCodes, resp.Status) {
			return resp, attempt, createdAt, false
		}

		if attempt >= attempts {
			return resp, attempt, createdAt, false
		}

		if useRetryAfterHeader {
			if wait, ok := parseRetryAfter(resp.Headers); ok {
				select {
				case <-ctx.Done():
					return resp, attempt, createdAt, true
				case <-time.After(wait):
				}
			}
		}
	}
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// parseRetryAfter reads a Retry-After header value, which per RFC 7231 is
// either a number of seconds or an HTTP-date.
func parseRetryAfter(headers map[string]string) (time.Duration, bool) {
	raw := headers["retry-after"]
	if raw == "" {
		raw = headers["Retry-After"]
	}
	if raw == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(raw); err == nil {
		d := time.Until(t)
		if d < 0 {
			return 0, false
		}
		return d, true
	}
	return 0, false
}
