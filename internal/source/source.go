// Package source implements the upstream adapters: a CDC change feed, a
// watermark-based bulk extractor and a synthetic generator for development.
//
// All adapters follow poll/process/confirm: Poll never advances the durable
// cursor, so repolling after a crash redelivers the same records until the
// caller Confirms downstream persistence.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrSlotMissing means the tracked position no longer exists upstream
// (truncated change log, dropped slot). Fatal: resuming requires a full
// resync, not a retry.
var ErrSlotMissing = errors.New("replication slot or tracked position no longer exists")

// ConnectionError wraps a transient upstream connectivity failure. Retryable.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("source connection failed during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// RawRecord is one upstream change or extracted row before normalization.
type RawRecord struct {
	Position   int64                  `json:"position"`
	Table      string                 `json:"table"`
	Operation  string                 `json:"operation"`
	Data       map[string]interface{} `json:"data"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Source is the upstream adapter contract.
type Source interface {
	// Initialize establishes or resumes the channel at cursor. It returns
	// ErrSlotMissing when the position is gone, or a *ConnectionError when
	// the upstream is unreachable.
	Initialize(ctx context.Context, cursor int64) error

	// Poll returns 0..max raw records after the confirmed cursor plus the
	// position of the last returned record. Idempotent under redelivery.
	Poll(ctx context.Context, max int) ([]*RawRecord, int64, error)

	// Confirm advances the confirmed cursor once records up to position have
	// been durably handed downstream.
	Confirm(ctx context.Context, position int64) error

	// Position returns the current confirmed cursor.
	Position() int64

	Close() error
}
