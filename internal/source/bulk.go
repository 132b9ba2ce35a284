package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veildata-systems/veilpipe/internal/config"
	"github.com/veildata-systems/veilpipe/internal/metrics"
)

// BulkExtractor reads finite record sets from a source table incrementally,
// using a monotonically increasing BIGINT watermark column (sequence number
// or epoch-millis modification stamp) as the cursor.
type BulkExtractor struct {
	cfg     config.SourceConfig
	filters *FilterRules
	pool    *pgxpool.Pool

	mu        sync.Mutex
	confirmed int64
}

// NewBulkExtractor creates the batch extraction adapter.
func NewBulkExtractor(cfg config.SourceConfig, filters *FilterRules) *BulkExtractor {
	if filters == nil {
		filters = &FilterRules{}
	}
	return &BulkExtractor{cfg: cfg, filters: filters}
}

// Initialize connects to the source database and positions at cursor.
// Bulk extraction has no retained-log window, so any cursor is resumable.
func (e *BulkExtractor) Initialize(ctx context.Context, cursor int64) error {
	poolCfg, err := pgxpool.ParseConfig(e.cfg.DSN)
	if err != nil {
		return fmt.Errorf("parse source dsn: %w", err)
	}
	poolCfg.MaxConns = 4
	poolCfg.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return &ConnectionError{Op: "connect", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return &ConnectionError{Op: "ping", Err: err}
	}

	e.pool = pool
	e.mu.Lock()
	e.confirmed = cursor
	e.mu.Unlock()
	return nil
}

// Poll extracts up to max rows past the confirmed watermark.
func (e *BulkExtractor) Poll(ctx context.Context, max int) ([]*RawRecord, int64, error) {
	if e.pool == nil {
		return nil, 0, errors.New("bulk extractor not initialized")
	}

	e.mu.Lock()
	from := e.confirmed
	e.mu.Unlock()

	table := pgx.Identifier{e.cfg.ExtractTable}.Sanitize()
	watermark := pgx.Identifier{e.cfg.WatermarkColumn}.Sanitize()
	query := fmt.Sprintf(
		"SELECT %s, to_jsonb(t) FROM %s t WHERE %s > $1 ORDER BY %s LIMIT $2",
		watermark, table, watermark, watermark,
	)

	rows, err := e.pool.Query(ctx, query, from, max)
	if err != nil {
		metrics.SourcePolls.WithLabelValues("error").Inc()
		return nil, from, &ConnectionError{Op: "extract", Err: err}
	}
	defer rows.Close()

	var records []*RawRecord
	last := from
	for rows.Next() {
		var (
			position int64
			rowData  []byte
		)
		if err := rows.Scan(&position, &rowData); err != nil {
			metrics.SourcePolls.WithLabelValues("error").Inc()
			return nil, from, fmt.Errorf("scan extracted row: %w", err)
		}
		last = position

		var data map[string]interface{}
		if err := json.Unmarshal(rowData, &data); err != nil {
			data = map[string]interface{}{"_raw": string(rowData), "_error": err.Error()}
		}

		record := e.filters.Apply(&RawRecord{
			Position:   position,
			Table:      e.cfg.ExtractTable,
			Operation:  "extract",
			Data:       data,
			OccurredAt: time.Now().UTC(),
		})
		if record == nil {
			metrics.SourceRecordsFiltered.Inc()
			continue
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		metrics.SourcePolls.WithLabelValues("error").Inc()
		return nil, from, &ConnectionError{Op: "extract", Err: err}
	}

	metrics.SourcePolls.WithLabelValues("ok").Inc()
	return records, last, nil
}

// Confirm advances the confirmed watermark. Positions never move backwards.
func (e *BulkExtractor) Confirm(ctx context.Context, position int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if position > e.confirmed {
		e.confirmed = position
	}
	return nil
}

// Position returns the confirmed watermark.
func (e *BulkExtractor) Position() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.confirmed
}

// Close releases the connection pool.
func (e *BulkExtractor) Close() error {
	if e.pool != nil {
		e.pool.Close()
	}
	return nil
}
