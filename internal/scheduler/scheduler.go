// Package scheduler forms batches from the ingestion buffer on a
// size-or-age trigger, whichever fires first.
package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/veildata-systems/veilpipe/common/logging"
	"github.com/veildata-systems/veilpipe/internal/buffer"
	"github.com/veildata-systems/veilpipe/internal/config"
	"github.com/veildata-systems/veilpipe/internal/metrics"
	"github.com/veildata-systems/veilpipe/internal/model"
)

// Scheduler owns the formation loop. Formation runs on a periodic timer and
// eagerly after every submit; formed batches are handed to the consumer over
// Batches() and are immutable from then on.
type Scheduler struct {
	cfg config.SchedulerConfig
	buf *buffer.Buffer
	log *logging.Logger

	batches chan *model.Batch
	stopCh  chan struct{}
	wg      sync.WaitGroup
	paused  atomic.Bool
	started atomic.Bool
}

// New creates a scheduler over the buffer.
func New(cfg config.SchedulerConfig, buf *buffer.Buffer, log *logging.Logger) *Scheduler {
	if log == nil {
		log = logging.Default()
	}
	return &Scheduler{
		cfg:     cfg,
		buf:     buf,
		log:     log.With(logging.Component("scheduler")),
		batches: make(chan *model.Batch),
		stopCh:  make(chan struct{}),
	}
}

// Batches returns the channel of formed batches. Closed after Stop once the
// buffer has been drained.
func (s *Scheduler) Batches() <-chan *model.Batch {
	return s.batches
}

// Start launches the formation loop.
func (s *Scheduler) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(1)
	go s.run()
}

// Pause suspends batch formation; queued records keep accumulating.
func (s *Scheduler) Pause() { s.paused.Store(true) }

// Resume re-enables batch formation.
func (s *Scheduler) Resume() { s.paused.Store(false) }

// Stop drains the buffer into final batches, closes the batch channel and
// returns once the loop exits.
func (s *Scheduler) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	defer close(s.batches)

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.formReady(false)
		case <-s.buf.SubmitSignal():
			s.formReady(false)
		case <-s.stopCh:
			// Drain: everything already accepted still gets processed.
			s.formReady(true)
			s.log.Info("scheduler stopped")
			return
		}
	}
}

// formReady forms as many batches as the triggers allow. With drain set,
// age and size triggers are ignored and the whole queue is flushed.
func (s *Scheduler) formReady(drain bool) {
	if s.paused.Load() && !drain {
		return
	}

	for {
		depth := s.buf.Depth()
		if depth == 0 {
			return
		}

		var trigger string
		switch {
		case depth >= s.cfg.BatchSize:
			trigger = "size"
		case s.buf.OldestAge(time.Now()) >= s.cfg.MaxWait:
			trigger = "age"
		case drain:
			trigger = "drain"
		default:
			return
		}

		envs := s.buf.TakeBatch(s.cfg.BatchSize)
		if len(envs) == 0 {
			return
		}

		batch := model.NewBatch(envs)
		metrics.BatchesFormed.WithLabelValues(trigger).Inc()
		metrics.BatchSize.Observe(float64(batch.Size()))
		s.log.Debug("batch formed",
			logging.BatchID(batch.ID),
			"size", batch.Size(),
			"trigger", trigger,
		)

		// The consumer reads until the channel closes, so the handoff
		// always completes, including during the drain pass.
		s.batches <- batch
	}
}
