// Package sink persists fully processed envelopes downstream.
package sink

import (
	"context"

	"github.com/veildata-systems/veilpipe/internal/model"
)

// Sink receives envelopes that passed every pipeline stage. Persisting
// the same record id twice must overwrite, not duplicate: retries and
// replays make redelivery a normal event.
type Sink interface {
	Persist(ctx context.Context, envelopes []*model.Envelope) error
	Close(ctx context.Context) error
}
