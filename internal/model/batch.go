package model

import (
	"time"

	"github.com/google/uuid"
)

// Batch is an ordered, bounded set of envelopes. It is immutable once handed
// to the executor: the scheduler copies the queued slice on formation.
type Batch struct {
	ID        string      `json:"id"`
	Envelopes []*Envelope `json:"envelopes"`
	FormedAt  time.Time   `json:"formed_at"`
}

// NewBatch copies envs into a new batch so later queue mutations cannot
// reach into a formed batch.
func NewBatch(envs []*Envelope) *Batch {
	copied := make([]*Envelope, len(envs))
	copy(copied, envs)
	return &Batch{
		ID:        uuid.New().String(),
		Envelopes: copied,
		FormedAt:  time.Now().UTC(),
	}
}

// Size returns the number of envelopes in the batch.
func (b *Batch) Size() int {
	if b == nil {
		return 0
	}
	return len(b.Envelopes)
}
