// Package executor runs a batch through the record pipeline with bounded
// concurrency.
package executor

import (
	"context"
	"sync"

	"github.com/veildata-systems/veilpipe/internal/model"
)

// Processor handles one record attempt. Satisfied by *pipeline.Pipeline.
type Processor interface {
	Process(ctx context.Context, env *model.Envelope) *model.ProcessingResult
}

// Executor bounds in-flight records with a buffered-channel semaphore.
// A batch is closed only once every record has a terminal result or an
// explicit skip.
type Executor struct {
	processor Processor
	limit     int
}

// New creates an executor with the given concurrency limit.
func New(processor Processor, limit int) *Executor {
	if limit < 1 {
		limit = 1
	}
	return &Executor{processor: processor, limit: limit}
}

// Execute processes every envelope in the batch and returns one result per
// record, index-aligned with batch.Envelopes. At most the configured limit
// of records are in flight at any moment.
//
// Cancelling ctx stops admission: in-flight records finish (their pipeline
// run is detached from the cancellation, the per-record timeout still
// applies), not-yet-started records are reported as skipped.
func (e *Executor) Execute(ctx context.Context, batch *model.Batch) []*model.ProcessingResult {
	results := make([]*model.ProcessingResult, batch.Size())
	if batch.Size() == 0 {
		return results
	}

	sem := make(chan struct{}, e.limit)
	var wg sync.WaitGroup

	for i, env := range batch.Envelopes {
		if ctx.Err() != nil {
			results[i] = model.SkippedResult(env.ID)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[i] = model.SkippedResult(env.ID)
			continue
		}

		wg.Add(1)
		go func(i int, env *model.Envelope) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = e.processor.Process(context.WithoutCancel(ctx), env)
		}(i, env)
	}

	wg.Wait()
	return results
}
