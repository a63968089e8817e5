package router

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Response is the engine's transport-agnostic HTTP response shape, produced
// either by a provider adapter's upstream fetch or synthesized by the Error
// Shaper / cache layer.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// IsGatewayException reports whether this response was synthesized by the
// gateway itself (as opposed to a genuine upstream reply), per the sentinel
// header convention shared with fallback/strategy shouldStop logic.
func (r *Response) IsGatewayException() bool {
	if r == nil {
		return false
	}
	return r.Headers[GatewayExceptionHeader] == "true"
}

// IsOK reports whether the response is in the 2xx range.
func (r *Response) IsOK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// RequestContext carries everything the per-leaf pipeline needs to
// process a single target, threaded from the Config Builder down to the
// provider adapter and back.
type RequestContext struct {
	Ctx context.Context

	Endpoint string // "chatComplete", "complete", "embed", "proxy", ...
	Method   string

	Target *Target // resolved leaf, with inherited fields already applied

	OriginalHeaders map[string]string
	OriginalBody    []byte

	TransformedHeaders map[string]string
	TransformedBody    []byte

	RequestURL string
	Streaming  bool

	RetryConfig    RetryConfig
	RequestTimeout time.Duration

	JSONPath string
}

// HookSpan is the correlation handle a HooksManager implementation uses to
// tie a before-request hook evaluation to the matching after-request
// evaluation for the same logical request.
type HookSpan struct {
	ID            string
	RequestJSON   map[string]any
	IsTransformed bool
}

// HookResult is returned by BeforeRequestHookHandler.
type HookResult struct {
	ShouldDeny  bool
	Results     []map[string]any
	Transformed bool
}

// LogObject accumulates the observability fields for one leaf dispatch and
// is emitted exactly once, at the point the leaf's terminal response is
// known: exactly one terminal response is ever produced, and it is logged
// exactly once.
type LogObject struct {
	mu sync.Mutex

	JSONPath        string
	HookSpanID      string
	RequestHeaders  map[string]string
	RequestURL      string
	CacheStatus     string
	CacheKey        string
	RetryAttempt    int
	ExecutionTimeMs int64
	Response        *Response

	emitted bool
	start   time.Time
}

// NewLogObject starts a LogObject for the leaf identified by jsonPath.
func NewLogObject(jsonPath string) *LogObject {
	return &LogObject{JSONPath: jsonPath, start: time.Now()}
}

// LogSink receives a finished LogObject. NewEngine defaults to a no-op
// sink; callers that want the observability data to go anywhere (stdout,
// ClickHouse) must supply one explicitly via WithLogSink — see
// internal/proxy's logging adapter, which projects each LogObject through
// ToRequestLog into the ambient internal/logger.Logger. Tests typically use
// an in-memory LogSinkFunc.
type LogSink interface {
	Emit(*LogObject)
}

// emitOnce marks the log as finished and computes its execution time; the
// caller is responsible for passing it to a LogSink. Returns false if this
// LogObject was already emitted, so a second emit of the same LogObject
// never double-logs a response.
func (l *LogObject) emitOnce() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.emitted {
		return false
	}
	l.emitted = true
	l.ExecutionTimeMs = time.Since(l.start).Milliseconds()
	return true
}

// LogSinkFunc adapts a plain function to LogSink.
type LogSinkFunc func(*LogObject)

func (f LogSinkFunc) Emit(lo *LogObject) { f(lo) }

// RequestLogRow mirrors logger.RequestLog's shape without the router
// package importing internal/logger, so the routing core has no
// dependency on a specific logging backend — callers that do import
// internal/logger (internal/proxy's emitRouterLog) convert this into the
// real RequestLog with a one-line field copy.
type RequestLogRow struct {
	ID           uuid.UUID
	Provider     string
	Model        string
	InputTokens  uint32
	OutputTokens uint32
	LatencyMs    uint16
	Status       uint16
	Cached       bool
	CreatedAt    time.Time
	JSONPath     string
	CacheStatus  string
	HookSpanID   string
}

// ToRequestLog projects a finished LogObject into the row shape
// internal/logger.RequestLog expects, best-effort parsing the leaf
// response body for the model/usage fields the provider adapters embed.
// A response this couldn't parse (a raw
// passthrough body, a non-2xx error shape) still yields a row with the
// fields the pipeline itself tracked.
func (l *LogObject) ToRequestLog() RequestLogRow {
	row := RequestLogRow{
		ID:          uuid.New(),
		LatencyMs:   uint16(clampInt64(l.ExecutionTimeMs)),
		CreatedAt:   l.start,
		JSONPath:    l.JSONPath,
		CacheStatus: l.CacheStatus,
		HookSpanID:  l.HookSpanID,
		Cached:      l.CacheStatus == "HIT",
	}
	if l.Response != nil {
		row.Status = uint16(clampInt64(int64(l.Response.Status)))
		row.Provider = l.Response.Headers[ServedProviderHeader]

		var parsed struct {
			Model string `json:"model"`
			Usage struct {
				InputTokens  int `json:"InputTokens"`
				OutputTokens int `json:"OutputTokens"`
			} `json:"usage"`
		}
		if jsonUnmarshalBestEffort(l.Response.Body, &parsed) {
			row.Model = parsed.Model
			row.InputTokens = uint32(parsed.Usage.InputTokens)
			row.OutputTokens = uint32(parsed.Usage.OutputTokens)
		}
	}
	return row
}

func jsonUnmarshalBestEffort(body []byte, v any) bool {
	return json.Unmarshal(body, v) == nil
}

func clampInt64(v int64) int64 {
	if v < 0 {
		return 0
	}
	if v > 65535 {
		return 65535
	}
	return v
}
