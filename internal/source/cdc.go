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

// ChangeFeed polls a change-log table populated by upstream triggers or a
// logical decoding consumer. Each row carries a monotonically increasing
// sequence number that serves as the replication cursor.
//
// Expected schema:
//
//	CREATE TABLE change_log (
//	    seq         BIGSERIAL PRIMARY KEY,
//	    table_name  TEXT        NOT NULL,
//	    operation   TEXT        NOT NULL,
//	    row_data    JSONB       NOT NULL,
//	    occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type ChangeFeed struct {
	cfg     config.SourceConfig
	filters *FilterRules
	pool    *pgxpool.Pool

	mu        sync.Mutex
	confirmed int64
}

// NewChangeFeed creates the CDC adapter. Call Initialize before polling.
func NewChangeFeed(cfg config.SourceConfig, filters *FilterRules) *ChangeFeed {
	if filters == nil {
		filters = &FilterRules{}
	}
	return &ChangeFeed{cfg: cfg, filters: filters}
}

// Initialize connects and verifies that cursor still exists in the change
// log. A cursor older than the retained log means the position is gone and
// a full resync is required.
func (f *ChangeFeed) Initialize(ctx context.Context, cursor int64) error {
	poolCfg, err := pgxpool.ParseConfig(f.cfg.DSN)
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

	var minSeq, maxSeq *int64
	query := fmt.Sprintf("SELECT MIN(seq), MAX(seq) FROM %s", pgx.Identifier{f.cfg.ChangeTable}.Sanitize())
	if err := pool.QueryRow(ctx, query).Scan(&minSeq, &maxSeq); err != nil {
		pool.Close()
		return &ConnectionError{Op: "verify position", Err: err}
	}

	// A non-empty log whose oldest retained entry is beyond cursor+1 has
	// discarded changes we never saw.
	if cursor > 0 && minSeq != nil && *minSeq > cursor+1 {
		pool.Close()
		return fmt.Errorf("cursor %d predates retained change log (oldest %d): %w", cursor, *minSeq, ErrSlotMissing)
	}

	f.pool = pool
	f.mu.Lock()
	f.confirmed = cursor
	f.mu.Unlock()
	return nil
}

// Poll returns up to max filtered changes after the confirmed cursor.
func (f *ChangeFeed) Poll(ctx context.Context, max int) ([]*RawRecord, int64, error) {
	if f.pool == nil {
		return nil, 0, errors.New("change feed not initialized")
	}

	f.mu.Lock()
	from := f.confirmed
	f.mu.Unlock()

	query := fmt.Sprintf(
		"SELECT seq, table_name, operation, row_data, occurred_at FROM %s WHERE seq > $1 ORDER BY seq LIMIT $2",
		pgx.Identifier{f.cfg.ChangeTable}.Sanitize(),
	)
	rows, err := f.pool.Query(ctx, query, from, max)
	if err != nil {
		metrics.SourcePolls.WithLabelValues("error").Inc()
		return nil, from, &ConnectionError{Op: "poll", Err: err}
	}
	defer rows.Close()

	var records []*RawRecord
	last := from
	for rows.Next() {
		var (
			seq        int64
			table, op  string
			rowData    []byte
			occurredAt time.Time
		)
		if err := rows.Scan(&seq, &table, &op, &rowData, &occurredAt); err != nil {
			metrics.SourcePolls.WithLabelValues("error").Inc()
			return nil, from, fmt.Errorf("scan change row: %w", err)
		}
		last = seq

		var data map[string]interface{}
		if err := json.Unmarshal(rowData, &data); err != nil {
			// Malformed row_data still advances the cursor; the record is
			// passed through with the raw text so the pipeline can
			// dead-letter it rather than the feed wedging on it.
			data = map[string]interface{}{"_raw": string(rowData), "_error": err.Error()}
		}

		record := f.filters.Apply(&RawRecord{
			Position:   seq,
			Table:      table,
			Operation:  op,
			Data:       data,
			OccurredAt: occurredAt,
		})
		if record == nil {
			metrics.SourceRecordsFiltered.Inc()
			continue
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		metrics.SourcePolls.WithLabelValues("error").Inc()
		return nil, from, &ConnectionError{Op: "poll", Err: err}
	}

	metrics.SourcePolls.WithLabelValues("ok").Inc()
	return records, last, nil
}

// Confirm advances the confirmed cursor. Positions never move backwards.
func (f *ChangeFeed) Confirm(ctx context.Context, position int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if position > f.confirmed {
		f.confirmed = position
	}
	return nil
}

// Position returns the confirmed cursor.
func (f *ChangeFeed) Position() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.confirmed
}

// Close releases the connection pool.
func (f *ChangeFeed) Close() error {
	if f.pool != nil {
		f.pool.Close()
	}
	return nil
}
