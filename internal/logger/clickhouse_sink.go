package logger

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// ClickHouseSink is the analytics sink behind CLICKHOUSE_ENABLED. It
// batches RequestLog rows into a single native-protocol insert per flush,
// using clickhouse-go/v2's driver.Batch API.
type ClickHouseSink struct {
	conn  clickhouse.Conn
	table string
}

// ClickHouseSinkConfig names the connection the sink dials.
type ClickHouseSinkConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// NewClickHouseSink opens a connection and pings it once before returning,
// so misconfiguration surfaces at startup rather than on the first dropped
// batch.
func NewClickHouseSink(ctx context.Context, cfg ClickHouseSinkConfig) (*ClickHouseSink, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("logger: clickhouse addr must not be empty")
	}
	table := cfg.Table
	if table == "" {
		table = "request_logs"
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("logger: clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("logger: clickhouse ping: %w", err)
	}

	return &ClickHouseSink{conn: conn, table: table}, nil
}

// Schema is the DDL the sink assumes exists. It is not executed
// automatically — migrations are the operator's concern — but is exposed
// so a bootstrap script can reference a single source of truth.
func (s *ClickHouseSink) Schema() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id UUID,
	provider LowCardinality(String),
	model String,
	input_tokens UInt32,
	output_tokens UInt32,
	latency_ms UInt16,
	status UInt16,
	cached UInt8,
	created_at DateTime,
	json_path String,
	cache_status LowCardinality(String),
	hook_span_id String
) ENGINE = MergeTree ORDER BY (created_at, id)`, s.table)
}

// WriteBatch implements Sink by appending every row to a single
// PrepareBatch/Send round trip, per clickhouse-go/v2's batch-insert
// convention.
func (s *ClickHouseSink) WriteBatch(ctx context.Context, batch []RequestLog) error {
	if len(batch) == 0 {
		return nil
	}

	chBatch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", s.table))
	if err != nil {
		return fmt.Errorf("logger: clickhouse prepare batch: %w", err)
	}

	for _, e := range batch {
		cached := uint8(0)
		if e.Cached {
			cached = 1
		}
		if err := chBatch.Append(
			e.ID,
			e.Provider,
			e.Model,
			e.InputTokens,
			e.OutputTokens,
			e.LatencyMs,
			e.Status,
			cached,
			normalizeTime(e.CreatedAt),
			e.JSONPath,
			e.CacheStatus,
			e.HookSpanID,
		); err != nil {
			return fmt.Errorf("logger: clickhouse append row: %w", err)
		}
	}

	if err := chBatch.Send(); err != nil {
		return fmt.Errorf("logger: clickhouse send batch: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
