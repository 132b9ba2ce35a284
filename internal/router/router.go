package router

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/veildata-systems/veilpipe/common/logging"
	"github.com/veildata-systems/veilpipe/internal/buffer"
	"github.com/veildata-systems/veilpipe/internal/config"
	"github.com/veildata-systems/veilpipe/internal/metrics"
	"github.com/veildata-systems/veilpipe/internal/model"
)

// Resubmitter re-enters a record into the ingestion buffer. Satisfied by
// *buffer.Buffer.
type Resubmitter interface {
	Resubmit(ctx context.Context, env *model.Envelope) error
}

// DeadLetterWriter persists terminally failed records. Satisfied by the dlq
// backends.
type DeadLetterWriter interface {
	Write(ctx context.Context, entry *model.DeadLetterEntry) error
}

// Alerter receives alertable events. Fire-and-forget; implementations must
// never block.
type Alerter interface {
	Alert(ctx context.Context, severity, message string, fields map[string]interface{})
}

// Router applies retry-with-backoff to retryable failures and routes
// exhausted or non-retryable records to the dead-letter store.
//
// A given record's retries are strictly sequential: the next attempt is
// scheduled only after the previous one resolved, so no id ever has two
// attempts in flight.
type Router struct {
	cfg         config.RetryConfig
	resubmit    Resubmitter
	deadLetters DeadLetterWriter
	alerts      Alerter
	log         *logging.Logger

	mu      sync.Mutex
	history map[string][]model.RetryAttempt
	timers  map[string]*time.Timer
	closed  bool
}

// New creates a router. alerts may be nil.
func New(cfg config.RetryConfig, resubmit Resubmitter, deadLetters DeadLetterWriter, alerts Alerter, log *logging.Logger) *Router {
	if log == nil {
		log = logging.Default()
	}
	return &Router{
		cfg:         cfg,
		resubmit:    resubmit,
		deadLetters: deadLetters,
		alerts:      alerts,
		log:         log.With(logging.Component("router")),
		history:     make(map[string][]model.RetryAttempt),
		timers:      make(map[string]*time.Timer),
	}
}

// Backoff returns the delay before the attempt following retryCount
// completed retries: initial * multiplier^retryCount, capped at max.
// Non-decreasing across attempts by construction (multiplier >= 1).
func (r *Router) Backoff(retryCount int) time.Duration {
	delay := time.Duration(float64(r.cfg.InitialDelay) * math.Pow(r.cfg.BackoffMultiplier, float64(retryCount)))
	if delay > r.cfg.MaxDelay || delay <= 0 {
		return r.cfg.MaxDelay
	}
	return delay
}

// Route handles one failed processing result: schedule a retry if the
// failure is retryable and budget remains, otherwise dead-letter the record.
func (r *Router) Route(ctx context.Context, env *model.Envelope, res *model.ProcessingResult) {
	if res.Retryable && env.Retries < r.cfg.MaxRetries {
		r.scheduleRetry(env, res)
		return
	}
	r.Exhaust(ctx, env, res.FailureReason, res.FailureDetail)
}

// Forget drops retry bookkeeping for a record that reached a successful
// terminal outcome.
func (r *Router) Forget(recordID string) {
	r.mu.Lock()
	delete(r.history, recordID)
	r.mu.Unlock()
}

// History returns a copy of the retry attempts recorded for a record.
func (r *Router) History(recordID string) []model.RetryAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	attempts := r.history[recordID]
	out := make([]model.RetryAttempt, len(attempts))
	copy(out, attempts)
	return out
}

func (r *Router) scheduleRetry(env *model.Envelope, res *model.ProcessingResult) {
	delay := r.Backoff(env.Retries)
	attempt := env.Retries + 1

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.log.Info("retry dropped, router stopped", logging.RecordID(env.ID))
		return
	}
	r.history[env.ID] = append(r.history[env.ID], model.RetryAttempt{
		Attempt: attempt,
		At:      time.Now().UTC(),
		Reason:  res.FailureReason,
		Delay:   delay,
	})

	retryEnv := env.Clone()
	retryEnv.Retries = attempt

	timer := time.AfterFunc(delay, func() {
		r.mu.Lock()
		delete(r.timers, env.ID)
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return
		}
		r.deliver(retryEnv)
	})
	r.timers[env.ID] = timer
	r.mu.Unlock()

	metrics.RetriesScheduled.Inc()
	r.log.Debug("retry scheduled",
		logging.RecordID(env.ID),
		logging.Attempt(attempt),
		logging.Reason(res.FailureReason),
	)
}

// deliver re-enters the buffer. Retries go through the same queue as new
// records, so fairness is preserved; a full or closed buffer must still end
// in a terminal outcome.
func (r *Router) deliver(env *model.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := r.resubmit.Resubmit(ctx, env)
	if err == nil {
		return
	}
	if errors.Is(err, buffer.ErrClosed) {
		// Shutdown raced the retry; explicit skip, not a silent loss.
		r.log.Info("retry skipped on shutdown", logging.RecordID(env.ID), logging.Attempt(env.Retries))
		r.Forget(env.ID)
		return
	}
	r.log.Warn("retry resubmission failed, dead-lettering", logging.RecordID(env.ID), logging.Error(err))
	r.Exhaust(ctx, env, "resubmit_failed", err.Error())
}

// Exhaust appends the record with its full retry history to the dead-letter
// store, removes it from the pipeline and emits an alertable event.
func (r *Router) Exhaust(ctx context.Context, env *model.Envelope, reason, detail string) {
	r.mu.Lock()
	attempts := r.history[env.ID]
	delete(r.history, env.ID)
	r.mu.Unlock()

	entry := model.NewDeadLetterEntry(env, reason, detail, attempts)
	if err := r.deadLetters.Write(ctx, entry); err != nil {
		// The store is append-only and durable; failure to write is loud.
		r.log.Error("dead-letter write failed",
			logging.RecordID(env.ID),
			logging.Reason(reason),
			logging.Error(err),
		)
	}

	metrics.DeadLetters.WithLabelValues(reason).Inc()
	r.log.Warn("record dead-lettered",
		logging.RecordID(env.ID),
		logging.Reason(reason),
		logging.Attempt(env.Retries),
	)

	if r.alerts != nil {
		r.alerts.Alert(ctx, "warning", "record dead-lettered", map[string]interface{}{
			"record_id": env.ID,
			"reason":    reason,
			"attempts":  env.Retries,
		})
	}
}

// Stop cancels pending retry timers. Records with a pending retry are
// reported as skipped on shutdown.
func (r *Router) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for id, timer := range r.timers {
		timer.Stop()
		r.log.Info("pending retry skipped on shutdown", logging.RecordID(id))
		delete(r.timers, id)
	}
}

// PendingRetries returns the number of scheduled, not yet delivered retries.
func (r *Router) PendingRetries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}
