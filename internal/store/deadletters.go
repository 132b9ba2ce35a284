package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veildata-systems/veilpipe/internal/model"
)

// DeadLetterRepo persists dead-letter entries in the dead_letters table.
type DeadLetterRepo struct {
	pool *pgxpool.Pool
}

// Write inserts an entry. A conflicting id is overwritten: replays of a
// record that fails again produce a fresh entry under a new id, so a
// conflict only happens on redundant writes of the same entry.
func (r *DeadLetterRepo) Write(ctx context.Context, entry *model.DeadLetterEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead-letter entry: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO dead_letters (id, record_id, reason, created_at, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data
	`, entry.ID, entry.Envelope.ID, entry.Reason, entry.LastFailure, data)
	if err != nil {
		return fmt.Errorf("insert dead-letter entry: %w", err)
	}
	return nil
}

// List returns up to limit entries, oldest first.
func (r *DeadLetterRepo) List(ctx context.Context, limit int) ([]*model.DeadLetterEntry, error) {
	query := `SELECT data FROM dead_letters ORDER BY created_at`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	var entries []*model.DeadLetterEntry
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan dead-letter entry: %w", err)
		}
		var entry model.DeadLetterEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// Get returns the entry with the given id, or nil.
func (r *DeadLetterRepo) Get(ctx context.Context, id string) (*model.DeadLetterEntry, error) {
	var data []byte
	err := r.pool.QueryRow(ctx, `SELECT data FROM dead_letters WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query dead-letter entry: %w", err)
	}

	var entry model.DeadLetterEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parse dead-letter entry: %w", err)
	}
	return &entry, nil
}

// Remove deletes the entry with the given id.
func (r *DeadLetterRepo) Remove(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM dead_letters WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("remove dead-letter entry: %w", err)
	}
	return nil
}

// Purge deletes all entries.
func (r *DeadLetterRepo) Purge(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM dead_letters`)
	if err != nil {
		return 0, fmt.Errorf("purge dead letters: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close is a no-op: the shared pool is owned by Postgres.
func (r *DeadLetterRepo) Close() error { return nil }
