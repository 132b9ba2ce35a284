// Package engine wires the pipeline together: source polling,
// normalization, buffering, batch scheduling, bounded execution, retry
// routing, sink persistence and checkpointing.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veildata-systems/veilpipe/common/logging"
	"github.com/veildata-systems/veilpipe/internal/anonymize"
	"github.com/veildata-systems/veilpipe/internal/buffer"
	"github.com/veildata-systems/veilpipe/internal/checkpoint"
	"github.com/veildata-systems/veilpipe/internal/compliance"
	"github.com/veildata-systems/veilpipe/internal/config"
	"github.com/veildata-systems/veilpipe/internal/dlq"
	"github.com/veildata-systems/veilpipe/internal/executor"
	"github.com/veildata-systems/veilpipe/internal/metrics"
	"github.com/veildata-systems/veilpipe/internal/model"
	"github.com/veildata-systems/veilpipe/internal/monitor"
	"github.com/veildata-systems/veilpipe/internal/normalizer"
	"github.com/veildata-systems/veilpipe/internal/pipeline"
	"github.com/veildata-systems/veilpipe/internal/quality"
	"github.com/veildata-systems/veilpipe/internal/router"
	"github.com/veildata-systems/veilpipe/internal/scheduler"
	"github.com/veildata-systems/veilpipe/internal/sink"
	"github.com/veildata-systems/veilpipe/internal/source"
)

// Notifier publishes alerts and audit events. Satisfied by
// *notifier.Notifier.
type Notifier interface {
	Alert(ctx context.Context, severity, message string, fields map[string]interface{})
	Audit(ctx context.Context, action string, fields map[string]interface{})
}

// Deps are the externally constructed collaborators: everything that
// opens a connection or touches durable state is built by the caller so
// the engine itself stays testable with fakes.
type Deps struct {
	Source      source.Source
	DeadLetters dlq.Store
	Sink        sink.Sink
	Checkpoints checkpoint.Store
	Notifier    Notifier
}

// Engine owns the pipeline lifecycle. One engine drives one source.
type Engine struct {
	cfg  *config.Config
	deps Deps
	log  *logging.Logger

	buf   *buffer.Buffer
	sched *scheduler.Scheduler
	exec  *executor.Executor
	rtr   *router.Router
	cpMgr *checkpoint.Manager
	mon   *monitor.Monitor
	norm  *normalizer.Normalizer

	countersMu sync.Mutex
	counters   model.Counters

	pollCancel   context.CancelFunc
	wg           sync.WaitGroup
	started      atomic.Bool
	stopped      atomic.Bool
	sourceHalted atomic.Bool
}

// New assembles an engine from configuration and collaborators.
func New(cfg *config.Config, deps Deps, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Default()
	}
	log = log.With(logging.Component("engine"))

	mode := buffer.ModeStream
	if cfg.Source.Mode == "bulk" {
		mode = buffer.ModeBulk
	}
	buf := buffer.New(cfg.Buffer, mode)

	pipe := pipeline.New(
		anonymize.NewMasker("", nil, nil),
		&quality.CompletenessAssessor{},
		compliance.NewRuleValidator(),
		pipeline.Options{
			MinScore:      cfg.Quality.MinScore,
			Regulations:   cfg.Compliance.Regulations,
			RecordTimeout: cfg.Executor.RecordTimeout,
		},
	)

	e := &Engine{
		cfg:   cfg,
		deps:  deps,
		log:   log,
		buf:   buf,
		sched: scheduler.New(cfg.Scheduler, buf, log),
		exec:  executor.New(pipe, cfg.Executor.ConcurrencyLimit),
		rtr:   router.New(cfg.Retry, buf, deps.DeadLetters, deps.Notifier, log),
		cpMgr: checkpoint.NewManager(deps.Checkpoints, cfg.Checkpoint, log),
		norm:  normalizer.New(cfg.Source.Label, cfg.Source.SchemaTag),
	}
	e.mon = monitor.New(cfg.Monitor, deps.Notifier, func() (int, bool) {
		return buf.Depth(), buf.BackpressureActive()
	}, log)

	return e
}

// Start restores the last checkpoint, initializes the source at the
// restored cursor and launches the poll and process loops.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("engine already started")
	}

	cursor := e.cfg.Source.InitialPosition
	cp, err := e.cpMgr.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore checkpoint: %w", err)
	}
	if cp != nil {
		cursor = cp.Position
		e.countersMu.Lock()
		e.counters = cp.Counters
		e.countersMu.Unlock()
		e.log.Info("resuming from checkpoint",
			logging.CheckpointID(cp.ID), logging.Cursor(cp.Position))
	} else {
		e.log.Info("no checkpoint found, starting fresh", logging.Cursor(cursor))
	}

	if err := e.deps.Source.Initialize(ctx, cursor); err != nil {
		if errors.Is(err, source.ErrSlotMissing) {
			e.deps.Notifier.Alert(ctx, "critical", "tracked source position no longer exists, full resync required",
				map[string]interface{}{"cursor": cursor})
		}
		return fmt.Errorf("initialize source: %w", err)
	}

	e.cpMgr.Start()
	e.mon.Start()
	e.sched.Start()

	pollCtx, cancel := context.WithCancel(context.Background())
	e.pollCancel = cancel

	e.wg.Add(2)
	go e.pollLoop(pollCtx)
	go e.processLoop()

	e.deps.Notifier.Audit(ctx, "engine_started", map[string]interface{}{
		"source_mode": e.cfg.Source.Mode,
		"cursor":      cursor,
	})
	e.log.Info("engine started", logging.Source(e.cfg.Source.Label), "mode", e.cfg.Source.Mode)
	return nil
}

// pollLoop pulls raw records from the source, normalizes them and submits
// them to the buffer. The source cursor is confirmed only up to the last
// record actually accepted, so anything past a backpressure cutoff is
// redelivered on the next poll.
func (e *Engine) pollLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.Source.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("poll loop stopped")
			return
		case <-ticker.C:
		}

		if !e.pollOnce(ctx) {
			return
		}
	}
}

// pollOnce runs one poll cycle. Returns false when the loop must exit.
func (e *Engine) pollOnce(ctx context.Context) bool {
	records, lastPos, err := e.deps.Source.Poll(ctx, e.cfg.Source.MaxPollBatch)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		if errors.Is(err, source.ErrSlotMissing) {
			// Fatal for the source only: in-flight work keeps going, new
			// ingestion stops until an operator resyncs.
			e.sourceHalted.Store(true)
			e.deps.Notifier.Alert(ctx, "critical", "source position lost, ingestion halted",
				map[string]interface{}{"error": err.Error()})
			e.log.Error("source halted", logging.Error(err))
			return false
		}
		e.log.Warn("source poll failed", logging.Error(err))
		return true
	}
	if len(records) == 0 {
		// An empty poll still advances past filtered rows.
		if lastPos > e.deps.Source.Position() {
			e.confirm(ctx, lastPos)
		}
		return true
	}

	confirmed := int64(0)
	for i, record := range records {
		env, err := e.norm.Normalize(record)
		if err != nil {
			e.log.Warn("dropping unnormalizable record",
				logging.Cursor(record.Position), logging.Error(err))
			confirmed = record.Position
			continue
		}

		err = e.buf.Submit(ctx, env)
		switch {
		case err == nil, errors.Is(err, buffer.ErrDuplicate):
			confirmed = record.Position
		case errors.Is(err, buffer.ErrBackpressure):
			// Stop here; the unaccepted tail repolls after the queue drains.
			e.log.Warn("buffer saturated, deferring remainder of poll batch",
				"accepted", i, "deferred", len(records)-i)
			e.confirmUpTo(ctx, confirmed)
			return true
		case errors.Is(err, buffer.ErrClosed):
			return false
		default:
			if ctx.Err() != nil {
				return false
			}
			e.log.Warn("submit failed", logging.RecordID(env.ID), logging.Error(err))
			confirmed = record.Position
		}
	}

	// Everything accepted; filtered rows at the tail are covered by lastPos.
	if lastPos > confirmed {
		confirmed = lastPos
	}
	e.confirmUpTo(ctx, confirmed)
	return true
}

func (e *Engine) confirmUpTo(ctx context.Context, position int64) {
	if position > 0 {
		e.confirm(ctx, position)
	}
}

func (e *Engine) confirm(ctx context.Context, position int64) {
	if err := e.deps.Source.Confirm(ctx, position); err != nil {
		e.log.Warn("source confirm failed", logging.Cursor(position), logging.Error(err))
	}
}

// processLoop consumes formed batches until the scheduler closes the
// channel on drain.
func (e *Engine) processLoop() {
	defer e.wg.Done()

	for batch := range e.sched.Batches() {
		e.processBatch(batch)
	}
	e.log.Info("process loop stopped")
}

func (e *Engine) processBatch(batch *model.Batch) {
	ctx := context.Background()
	results := e.exec.Execute(ctx, batch)

	var persist []*model.Envelope
	var originals []*model.Envelope
	var persistResults []*model.ProcessingResult

	for i, res := range results {
		env := batch.Envelopes[i]
		e.mon.Record(res)

		switch {
		case res.Skipped:
			metrics.RecordsProcessed.WithLabelValues("skipped").Inc()
			e.bumpCounters(func(c *model.Counters) { c.Skipped++ })
		case res.Success:
			// The sink receives the transformed payload on a copy; the queued
			// envelope keeps its raw payload so a sink retry reprocesses the
			// original, not an already-anonymized one.
			persist = append(persist, env.WithPayload(res.Output))
			originals = append(originals, env)
			persistResults = append(persistResults, res)
		default:
			metrics.RecordsProcessed.WithLabelValues("failure").Inc()
			e.bumpCounters(func(c *model.Counters) {
				c.Processed++
				c.Failed++
				if res.Retryable && env.Retries < e.cfg.Retry.MaxRetries {
					c.Retried++
				} else {
					c.DeadLettered++
				}
			})
			e.rtr.Route(ctx, env, res)
		}
	}

	if len(persist) > 0 {
		e.flush(ctx, batch, persist, originals, persistResults)
	}

	e.deps.Notifier.Audit(ctx, "batch_closed", map[string]interface{}{
		"batch_id":  batch.ID,
		"size":      batch.Size(),
		"persisted": len(persist),
	})
}

// flush persists successful records and, once durable, advances the
// checkpoint to the highest persisted position. A sink failure routes the
// original envelopes back through retry; nothing is checkpointed.
func (e *Engine) flush(ctx context.Context, batch *model.Batch, persist, originals []*model.Envelope, results []*model.ProcessingResult) {
	if err := e.deps.Sink.Persist(ctx, persist); err != nil {
		e.log.Error("sink flush failed, rerouting batch successes",
			logging.BatchID(batch.ID), logging.Error(err))
		for i, env := range originals {
			res := model.FailureResult(env.ID, "sink_failure", true, results[i].Elapsed)
			res.FailureDetail = err.Error()
			e.bumpCounters(func(c *model.Counters) {
				c.Processed++
				c.Failed++
				if env.Retries < e.cfg.Retry.MaxRetries {
					c.Retried++
				} else {
					c.DeadLettered++
				}
			})
			metrics.RecordsProcessed.WithLabelValues("failure").Inc()
			e.rtr.Route(ctx, env, res)
		}
		return
	}

	var maxPos int64
	for _, env := range persist {
		metrics.RecordsProcessed.WithLabelValues("success").Inc()
		e.rtr.Forget(env.ID)
		if env.Position > maxPos {
			maxPos = env.Position
		}
	}
	e.bumpCounters(func(c *model.Counters) {
		c.Processed += uint64(len(persist))
		c.Succeeded += uint64(len(persist))
		c.Duplicates = e.buf.Duplicates()
	})

	if maxPos > 0 {
		e.cpMgr.Advance(maxPos, e.snapshotCounters(), map[string]string{
			"source_mode":  e.cfg.Source.Mode,
			"source_label": e.cfg.Source.Label,
			"batch_id":     batch.ID,
			"batch_size":   strconv.Itoa(batch.Size()),
		})
	}
}

func (e *Engine) bumpCounters(fn func(c *model.Counters)) {
	e.countersMu.Lock()
	fn(&e.counters)
	e.countersMu.Unlock()
}

func (e *Engine) snapshotCounters() model.Counters {
	e.countersMu.Lock()
	defer e.countersMu.Unlock()
	return e.counters
}

// Stop drains the pipeline: ingestion stops, accepted records are flushed
// through final batches, pending retries are cancelled and reported, a
// final checkpoint is written.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.started.Load() || !e.stopped.CompareAndSwap(false, true) {
		return nil
	}
	e.log.Info("engine stopping")

	if e.pollCancel != nil {
		e.pollCancel()
	}
	e.buf.Close()
	e.sched.Stop()

	// processLoop exits once the scheduler closes its channel.
	e.wg.Wait()

	e.rtr.Stop()
	e.mon.Stop()
	e.cpMgr.Stop(ctx)

	if err := e.deps.Source.Close(); err != nil {
		e.log.Warn("source close failed", logging.Error(err))
	}

	e.deps.Notifier.Audit(ctx, "engine_stopped", map[string]interface{}{
		"position": e.cpMgr.Position(),
	})
	e.log.Info("engine stopped", logging.Cursor(e.cpMgr.Position()))
	return nil
}
