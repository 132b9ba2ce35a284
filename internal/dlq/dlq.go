// Package dlq stores dead-lettered envelopes for inspection and replay.
//
// Two backends are provided: a file backend for single-instance
// deployments and a JetStream backend for shared infrastructure. Both
// satisfy the Store interface the router writes through and the engine
// replays from.
package dlq

import (
	"context"

	"github.com/veildata-systems/veilpipe/internal/model"
)

// Store is the dead-letter persistence contract.
type Store interface {
	// Write persists a dead-letter entry.
	Write(ctx context.Context, entry *model.DeadLetterEntry) error

	// List returns up to limit entries, oldest first. limit <= 0 means
	// no limit.
	List(ctx context.Context, limit int) ([]*model.DeadLetterEntry, error)

	// Get returns the entry with the given id, or nil if absent.
	Get(ctx context.Context, id string) (*model.DeadLetterEntry, error)

	// Remove deletes the entry with the given id. Removing an absent
	// entry is not an error.
	Remove(ctx context.Context, id string) error

	// Purge deletes all entries and returns how many were removed.
	Purge(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}
