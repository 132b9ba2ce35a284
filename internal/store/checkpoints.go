package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veildata-systems/veilpipe/internal/model"
)

// CheckpointRepo persists checkpoints in the checkpoints table. The full
// checkpoint is stored as JSONB; position and created_at are promoted to
// columns for querying and pruning.
type CheckpointRepo struct {
	pool       *pgxpool.Pool
	maxHistory int
}

// Save inserts the checkpoint and prunes history beyond maxHistory.
func (r *CheckpointRepo) Save(ctx context.Context, cp *model.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin checkpoint save: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO checkpoints (id, position, created_at, data)
		VALUES ($1, $2, $3, $4)
	`, cp.ID, cp.Position, cp.Timestamp, data)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}

	_, err = tx.Exec(ctx, `
		DELETE FROM checkpoints
		WHERE id NOT IN (
			SELECT id FROM checkpoints ORDER BY created_at DESC LIMIT $1
		)
	`, r.maxHistory)
	if err != nil {
		return fmt.Errorf("prune checkpoint history: %w", err)
	}

	return tx.Commit(ctx)
}

// Latest returns the newest checkpoint, or nil if the table is empty.
func (r *CheckpointRepo) Latest(ctx context.Context) (*model.Checkpoint, error) {
	cps, err := r.List(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(cps) == 0 {
		return nil, nil
	}
	return cps[0], nil
}

// List returns up to limit checkpoints, newest first.
func (r *CheckpointRepo) List(ctx context.Context, limit int) ([]*model.Checkpoint, error) {
	if limit <= 0 {
		limit = r.maxHistory
	}

	rows, err := r.pool.Query(ctx, `
		SELECT data FROM checkpoints ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []*model.Checkpoint
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		var cp model.Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}
		checkpoints = append(checkpoints, &cp)
	}
	return checkpoints, rows.Err()
}
