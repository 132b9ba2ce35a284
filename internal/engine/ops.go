package engine

import (
	"context"
	"fmt"

	"github.com/veildata-systems/veilpipe/common/logging"
	"github.com/veildata-systems/veilpipe/internal/metrics"
	"github.com/veildata-systems/veilpipe/internal/model"
	"github.com/veildata-systems/veilpipe/internal/monitor"
)

// Stats is the operator-facing view of pipeline state.
type Stats struct {
	Counters       model.Counters `json:"counters"`
	Window         monitor.Stats  `json:"window"`
	Position       int64          `json:"position"`
	PendingRetries int            `json:"pending_retries"`
	SourceHalted   bool           `json:"source_halted"`
}

// Pause suspends batch formation; ingestion and in-flight work continue.
func (e *Engine) Pause() {
	e.sched.Pause()
	e.log.Info("batch formation paused")
}

// Resume re-enables batch formation.
func (e *Engine) Resume() {
	e.sched.Resume()
	e.log.Info("batch formation resumed")
}

// Stats returns cumulative counters plus the rolling-window view.
func (e *Engine) Stats() Stats {
	counters := e.snapshotCounters()
	counters.Duplicates = e.buf.Duplicates()
	return Stats{
		Counters:       counters,
		Window:         e.mon.Snapshot(),
		Position:       e.cpMgr.Position(),
		PendingRetries: e.rtr.PendingRetries(),
		SourceHalted:   e.sourceHalted.Load(),
	}
}

// DeadLetters lists stored dead-letter entries.
func (e *Engine) DeadLetters(ctx context.Context, limit int) ([]*model.DeadLetterEntry, error) {
	return e.deps.DeadLetters.List(ctx, limit)
}

// ReplayDeadLetter resubmits one dead-letter entry with a reset retry
// budget and removes it from the store once accepted.
func (e *Engine) ReplayDeadLetter(ctx context.Context, id string) error {
	entry, err := e.deps.DeadLetters.Get(ctx, id)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("dead-letter entry %s not found", id)
	}
	return e.replay(ctx, entry)
}

// ReplayAllDeadLetters resubmits every stored entry. Returns how many
// were replayed; stops on the first buffer rejection so the rest stay
// stored.
func (e *Engine) ReplayAllDeadLetters(ctx context.Context) (int, error) {
	entries, err := e.deps.DeadLetters.List(ctx, 0)
	if err != nil {
		return 0, err
	}

	replayed := 0
	for _, entry := range entries {
		if err := e.replay(ctx, entry); err != nil {
			return replayed, fmt.Errorf("replay stopped at entry %s: %w", entry.ID, err)
		}
		replayed++
	}
	return replayed, nil
}

func (e *Engine) replay(ctx context.Context, entry *model.DeadLetterEntry) error {
	env := entry.Envelope.Clone()
	env.Retries = 0

	// Resubmit skips dedup: the payload checksum is unchanged and a replay
	// must not be mistaken for a duplicate.
	if err := e.buf.Resubmit(ctx, env); err != nil {
		return fmt.Errorf("resubmit replayed record: %w", err)
	}
	if err := e.deps.DeadLetters.Remove(ctx, entry.ID); err != nil {
		e.log.Warn("replayed entry not removed from dead-letter store",
			logging.RecordID(env.ID), logging.Error(err))
	}

	metrics.DeadLetterReplays.Inc()
	e.deps.Notifier.Audit(ctx, "dead_letter_replayed", map[string]interface{}{
		"entry_id":  entry.ID,
		"record_id": env.ID,
		"reason":    entry.Reason,
	})
	e.log.Info("dead-letter entry replayed",
		logging.RecordID(env.ID), logging.Reason(entry.Reason))
	return nil
}

// Checkpoints lists stored checkpoints, newest first.
func (e *Engine) Checkpoints(ctx context.Context, limit int) ([]*model.Checkpoint, error) {
	return e.cpMgr.List(ctx, limit)
}
