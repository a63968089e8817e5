// Package logger implements a non-blocking, batched request logger.
//
// Log entries are written to an internal buffered channel and flushed in
// batches by a background goroutine — so logging never blocks the proxy hot
// path. If the channel fills up (> 10 000 entries), new entries are dropped
// and counted in DroppedLogs.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
)

type RequestLog struct {
	ID           uuid.UUID
	Provider     string
	Model        string
	InputTokens  uint32
	OutputTokens uint32
	LatencyMs    uint16
	Status       uint16
	Cached       bool
	CreatedAt    time.Time

	// JSONPath, CacheStatus and HookSpanID are populated by tree-routed
	// requests (internal/router.LogObject.ToRequestLog) and left zero-value
	// for the flat model→provider dispatch path, which has no target tree
	// position, cache-status string, or hook span to report.
	JSONPath    string
	CacheStatus string
	HookSpanID  string
}

// Sink receives a flushed batch of request logs, e.g. for durable storage
// in an analytics warehouse. Implementations must not block the caller for
// long: the flush loop is the only goroutine driving writes, so a slow or
// stuck sink delays every subsequent flush.
type Sink interface {
	WriteBatch(ctx context.Context, batch []RequestLog) error
}

type Logger struct {
	ch        chan RequestLog
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	droppedLogs int64

	baseCtx context.Context
	log     *slog.Logger
	sink    Sink
}

func New(ctx context.Context, slogger *slog.Logger) (*Logger, error) {
	return newLogger(ctx, slogger, nil)
}

// NewWithSink is New plus a durable Sink (e.g. ClickHouse) that receives the
// same batches the flush loop would otherwise only emit via slog. The sink
// write runs alongside the slog emission, not instead of it — request
// metadata remains visible in stdout/JSON logs even when the sink is down.
func NewWithSink(ctx context.Context, slogger *slog.Logger, sink Sink) (*Logger, error) {
	return newLogger(ctx, slogger, sink)
}

func newLogger(ctx context.Context, slogger *slog.Logger, sink Sink) (*Logger, error) {
	if ctx == nil {
		return nil, fmt.Errorf("logger: context must not be nil")
	}
	if slogger == nil {
		slogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	l := &Logger{
		ch:      make(chan RequestLog, channelBuffer),
		done:    make(chan struct{}),
		baseCtx: ctx,
		log:     slogger,
		sink:    sink,
	}

	l.wg.Add(1)
	go l.run()

	return l, nil
}

func (l *Logger) Log(entry RequestLog) {
	select {
	case l.ch <- entry:
	default:
		atomic.AddInt64(&l.droppedLogs, 1)
	}
}

func (l *Logger) DroppedLogs() int64 {
	return atomic.LoadInt64(&l.droppedLogs)
}

func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
	return nil
}

func (l *Logger) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]RequestLog, 0, batchSize)

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		for _, e := range batch {
			l.log.InfoContext(ctx, "request",
				slog.String("id", e.ID.String()),
				slog.String("provider", e.Provider),
				slog.String("model", e.Model),
				slog.Uint64("input_tokens", uint64(e.InputTokens)),
				slog.Uint64("output_tokens", uint64(e.OutputTokens)),
				slog.Uint64("latency_ms", uint64(e.LatencyMs)),
				slog.Uint64("status", uint64(e.Status)),
				slog.Bool("cached", e.Cached),
				slog.Time("created_at", normalizeTime(e.CreatedAt)),
				slog.String("json_path", e.JSONPath),
				slog.String("cache_status", e.CacheStatus),
				slog.String("hook_span_id", e.HookSpanID),
			)
		}
		if l.sink != nil {
			if err := l.sink.WriteBatch(ctx, batch); err != nil {
				l.log.WarnContext(ctx, "log_sink_write_failed",
					slog.String("error", err.Error()),
					slog.Int("batch_size", len(batch)),
				)
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-l.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush(l.baseCtx)
			}

		case <-ticker.C:
			flush(l.baseCtx)

		case <-l.done:
			for {
				select {
				case entry := <-l.ch:
					batch = append(batch, entry)
					if len(batch) >= batchSize {
						flush(l.baseCtx)
					}
				default:
					flush(l.baseCtx)
					return
				}
			}
		}
	}
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
