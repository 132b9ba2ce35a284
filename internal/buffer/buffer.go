// Package buffer implements the ingestion buffer: a dedup-windowed queue
// with backpressure between the sources and the batch scheduler.
package buffer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/veildata-systems/veilpipe/internal/config"
	"github.com/veildata-systems/veilpipe/internal/metrics"
	"github.com/veildata-systems/veilpipe/internal/model"
)

var (
	// ErrDuplicate marks a record whose checksum was already seen inside the
	// dedup window. Non-fatal: the caller drops the record and moves on.
	ErrDuplicate = errors.New("duplicate record within dedup window")

	// ErrBackpressure tells bulk-mode callers to back off and resubmit later.
	ErrBackpressure = errors.New("buffer saturated")

	// ErrClosed is returned once the buffer has been closed for shutdown.
	ErrClosed = errors.New("buffer closed")
)

// Mode selects how Submit behaves under backpressure.
type Mode int

const (
	// ModeStream blocks the caller with a bounded timeout.
	ModeStream Mode = iota
	// ModeBulk rejects immediately with ErrBackpressure.
	ModeBulk
)

func (m Mode) String() string {
	if m == ModeBulk {
		return "bulk"
	}
	return "stream"
}

// Buffer owns the queued envelopes between submission and batch handoff.
// All mutation goes through its lock; the scheduler is the only consumer.
type Buffer struct {
	cfg  config.BufferConfig
	mode Mode

	mu      sync.Mutex
	queue   []*model.Envelope
	dedup   *dedupCache
	closed  bool
	spaceCh chan struct{}

	duplicates uint64

	// submitCh wakes the scheduler for an eager batch-formation check.
	submitCh chan struct{}
}

// New creates a buffer. cfg must already be validated.
func New(cfg config.BufferConfig, mode Mode) *Buffer {
	return &Buffer{
		cfg:      cfg,
		mode:     mode,
		queue:    make([]*model.Envelope, 0, cfg.Capacity),
		dedup:    newDedupCache(cfg.DedupWindow),
		spaceCh:  make(chan struct{}),
		submitCh: make(chan struct{}, 1),
	}
}

// Submit enqueues an envelope. Identical checksums inside the dedup window
// are rejected with ErrDuplicate, checked before the backpressure gate so a
// saturated queue still reports duplicates as duplicates. Past the
// backpressure threshold the call blocks with a bounded timeout (stream mode)
// or returns ErrBackpressure (bulk mode) - saturation is never silent.
func (b *Buffer) Submit(ctx context.Context, env *model.Envelope) error {
	return b.submit(ctx, env, true)
}

// Resubmit re-enters a retried or replayed envelope. It skips the dedup check
// (the checksum is unchanged and the retry must not be mistaken for a
// duplicate) and is gated on the hard capacity instead of the backpressure
// threshold, so new ingestion cannot starve the retry path.
func (b *Buffer) Resubmit(ctx context.Context, env *model.Envelope) error {
	return b.submit(ctx, env, false)
}

func (b *Buffer) submit(ctx context.Context, env *model.Envelope, dedupe bool) error {
	var timeout <-chan time.Time

	limit := b.cfg.BackpressureThreshold
	if !dedupe {
		limit = b.cfg.Capacity
	}

	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return ErrClosed
		}
		if dedupe && b.dedup.contains(env.Checksum, time.Now()) {
			b.duplicates++
			b.mu.Unlock()
			metrics.DuplicatesDropped.Inc()
			return ErrDuplicate
		}
		if len(b.queue) < limit {
			break // lock held
		}

		metrics.BackpressureActive.Set(1)
		if b.mode == ModeBulk {
			b.mu.Unlock()
			metrics.SubmitRejections.WithLabelValues(b.mode.String()).Inc()
			return ErrBackpressure
		}

		waitCh := b.spaceCh
		b.mu.Unlock()

		if timeout == nil {
			timer := time.NewTimer(b.cfg.SubmitTimeout)
			defer timer.Stop()
			timeout = timer.C
		}

		select {
		case <-waitCh:
		case <-timeout:
			metrics.SubmitRejections.WithLabelValues(b.mode.String()).Inc()
			return ErrBackpressure
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// The lock is held since the duplicate check above, so recording here
	// cannot race another submitter of the same checksum.
	if dedupe {
		b.dedup.observe(env.Checksum, time.Now())
	}

	env.EnqueuedAt = time.Now().UTC()
	b.queue = append(b.queue, env)
	depth := len(b.queue)
	b.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	if depth >= b.cfg.BackpressureThreshold {
		metrics.BackpressureActive.Set(1)
	}
	metrics.RecordsIngested.WithLabelValues(env.Source).Inc()

	// Eager batch-formation check; drop the signal if one is already pending.
	select {
	case b.submitCh <- struct{}{}:
	default:
	}

	return nil
}

// TakeBatch removes and returns up to max of the oldest queued envelopes.
func (b *Buffer) TakeBatch(max int) []*model.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) == 0 {
		return nil
	}

	n := max
	if n > len(b.queue) {
		n = len(b.queue)
	}

	taken := make([]*model.Envelope, n)
	copy(taken, b.queue[:n])
	remaining := copy(b.queue, b.queue[n:])
	for i := remaining; i < len(b.queue); i++ {
		b.queue[i] = nil
	}
	b.queue = b.queue[:remaining]

	metrics.QueueDepth.Set(float64(remaining))
	if remaining < b.cfg.BackpressureThreshold {
		metrics.BackpressureActive.Set(0)
	}
	if remaining < b.cfg.Capacity {
		// Wake everyone blocked on backpressure; each waiter re-checks
		// its own limit.
		close(b.spaceCh)
		b.spaceCh = make(chan struct{})
	}

	return taken
}

// Depth returns the current queue depth.
func (b *Buffer) Depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// BackpressureActive reports whether the queue is at or above the threshold.
func (b *Buffer) BackpressureActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue) >= b.cfg.BackpressureThreshold
}

// OldestAge returns how long the oldest queued envelope has been waiting,
// or zero if the queue is empty.
func (b *Buffer) OldestAge(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return 0
	}
	return now.Sub(b.queue[0].EnqueuedAt)
}

// Duplicates returns the number of records dropped by dedup.
func (b *Buffer) Duplicates() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.duplicates
}

// SubmitSignal fires after each successful submit so the scheduler can check
// batch formation eagerly instead of waiting for its ticker.
func (b *Buffer) SubmitSignal() <-chan struct{} {
	return b.submitCh
}

// Close rejects further submissions. Queued envelopes remain takeable so the
// scheduler can drain already-accepted work during shutdown.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.spaceCh)
	b.spaceCh = make(chan struct{})
}
