// Package checkpoint persists progress markers so the pipeline can resume
// after a crash without reprocessing committed work.
package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/veildata-systems/veilpipe/common/logging"
	"github.com/veildata-systems/veilpipe/internal/config"
	"github.com/veildata-systems/veilpipe/internal/metrics"
	"github.com/veildata-systems/veilpipe/internal/model"
)

// Store is the durable backend contract: atomic replace of the latest
// checkpoint plus a bounded history.
type Store interface {
	// Save atomically replaces the latest checkpoint and appends to history.
	Save(ctx context.Context, cp *model.Checkpoint) error

	// Latest returns the newest valid checkpoint, or nil if none exists.
	Latest(ctx context.Context) (*model.Checkpoint, error)

	// List returns up to limit checkpoints, newest first.
	List(ctx context.Context, limit int) ([]*model.Checkpoint, error)
}

// Manager tracks the furthest durably processed position and writes
// checkpoints asynchronously: Advance never blocks record processing, the
// writer goroutine coalesces to the newest position.
//
// Positions are strictly monotonic; a stale Advance is ignored.
type Manager struct {
	store Store
	cfg   config.CheckpointConfig
	log   *logging.Logger

	mu       sync.Mutex
	position int64
	saved    int64
	counters model.Counters
	resume   map[string]string

	saveCh  chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewManager creates a manager over the given store.
func NewManager(store Store, cfg config.CheckpointConfig, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Default()
	}
	return &Manager{
		store:  store,
		cfg:    cfg,
		log:    log.With(logging.Component("checkpoint")),
		saveCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
}

// Restore loads the latest checkpoint, or returns nil when starting fresh.
func (m *Manager) Restore(ctx context.Context) (*model.Checkpoint, error) {
	cp, err := m.store.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, nil
	}

	m.mu.Lock()
	m.position = cp.Position
	m.saved = cp.Position
	m.counters = cp.Counters
	m.resume = cp.ResumeState
	m.mu.Unlock()

	metrics.CheckpointPosition.Set(float64(cp.Position))
	return cp, nil
}

// Start launches the background writer.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run()
}

// Advance records that work up to position is durably processed. Called
// after each flushed batch; fire-and-forget.
func (m *Manager) Advance(position int64, counters model.Counters, resume map[string]string) {
	m.mu.Lock()
	if position > m.position {
		m.position = position
	}
	m.counters = counters
	if resume != nil {
		m.resume = resume
	}
	m.mu.Unlock()

	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

// Position returns the current in-memory position (may be ahead of the last
// persisted checkpoint).
func (m *Manager) Position() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

// List exposes stored checkpoints for operational tooling.
func (m *Manager) List(ctx context.Context, limit int) ([]*model.Checkpoint, error) {
	return m.store.List(ctx, limit)
}

// Flush writes a checkpoint synchronously if the position advanced.
// Used on shutdown.
func (m *Manager) Flush(ctx context.Context) error {
	return m.save(ctx)
}

// Stop flushes and halts the writer.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if started {
		close(m.stopCh)
		m.wg.Wait()
	}
	if err := m.save(ctx); err != nil {
		m.log.Error("final checkpoint flush failed", logging.Error(err))
	}
}

func (m *Manager) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.saveCh:
		case <-ticker.C:
		case <-m.stopCh:
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := m.save(ctx); err != nil {
			m.log.Error("checkpoint write failed", logging.Error(err))
		}
		cancel()
	}
}

// save persists the current position when it advanced past the last saved
// one. Monotonicity is enforced here: equal or older positions are skipped.
func (m *Manager) save(ctx context.Context) error {
	m.mu.Lock()
	if m.position <= m.saved {
		m.mu.Unlock()
		return nil
	}
	cp := model.NewCheckpoint(m.position, m.counters, m.resume)
	m.mu.Unlock()

	if err := m.store.Save(ctx, cp); err != nil {
		return err
	}

	m.mu.Lock()
	if cp.Position > m.saved {
		m.saved = cp.Position
	}
	m.mu.Unlock()

	metrics.CheckpointsWritten.Inc()
	metrics.CheckpointPosition.Set(float64(cp.Position))
	m.log.Debug("checkpoint written", logging.CheckpointID(cp.ID), logging.Cursor(cp.Position))
	return nil
}
