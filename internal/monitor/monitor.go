// Package monitor computes rolling-window pipeline health statistics and
// raises alerts when thresholds are crossed.
package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/veildata-systems/veilpipe/common/logging"
	"github.com/veildata-systems/veilpipe/internal/config"
	"github.com/veildata-systems/veilpipe/internal/model"
)

// Alerter receives threshold-crossing notifications.
type Alerter interface {
	Alert(ctx context.Context, severity, message string, fields map[string]interface{})
}

// QueueProbe reports current buffer state.
type QueueProbe func() (depth int, backpressure bool)

// Stats is a point-in-time view over the rolling window.
type Stats struct {
	WindowStart  time.Time     `json:"window_start"`
	Throughput   float64       `json:"throughput_per_sec"`
	AvgLatency   time.Duration `json:"avg_latency"`
	P95Latency   time.Duration `json:"p95_latency"`
	ErrorRate    float64       `json:"error_rate"`
	Processed    int           `json:"processed"`
	Failed       int           `json:"failed"`
	QueueDepth   int           `json:"queue_depth"`
	Backpressure bool          `json:"backpressure"`
}

type sample struct {
	at      time.Time
	elapsed time.Duration
	failed  bool
}

// Monitor keeps per-record samples inside a sliding window and checks
// error rate and latency against configured thresholds. Each threshold
// alerts once per crossing, not once per check.
type Monitor struct {
	cfg     config.MonitorConfig
	alerter Alerter
	probe   QueueProbe
	log     *logging.Logger

	mu      sync.Mutex
	samples []sample

	errorRateHigh bool
	latencyHigh   bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Monitor. alerter may be nil (crossings are then only
// logged); probe may be nil when no buffer is attached.
func New(cfg config.MonitorConfig, alerter Alerter, probe QueueProbe, log *logging.Logger) *Monitor {
	if log == nil {
		log = logging.Default()
	}
	return &Monitor{
		cfg:     cfg,
		alerter: alerter,
		probe:   probe,
		log:     log.With(logging.Component("monitor")),
		stopCh:  make(chan struct{}),
	}
}

// Record adds one processing outcome to the window. Skipped results are
// not outcomes and are ignored.
func (m *Monitor) Record(res *model.ProcessingResult) {
	if res.Skipped {
		return
	}

	m.mu.Lock()
	m.samples = append(m.samples, sample{
		at:      time.Now(),
		elapsed: res.Elapsed,
		failed:  !res.Success,
	})
	m.evictLocked(time.Now())
	m.mu.Unlock()
}

// Snapshot computes stats over the current window.
func (m *Monitor) Snapshot() Stats {
	now := time.Now()

	m.mu.Lock()
	m.evictLocked(now)
	samples := make([]sample, len(m.samples))
	copy(samples, m.samples)
	m.mu.Unlock()

	stats := Stats{WindowStart: now.Add(-m.cfg.Window)}
	if m.probe != nil {
		stats.QueueDepth, stats.Backpressure = m.probe()
	}
	if len(samples) == 0 {
		return stats
	}

	var total time.Duration
	latencies := make([]time.Duration, 0, len(samples))
	for _, s := range samples {
		total += s.elapsed
		latencies = append(latencies, s.elapsed)
		if s.failed {
			stats.Failed++
		}
	}
	stats.Processed = len(samples)
	stats.Throughput = float64(len(samples)) / m.cfg.Window.Seconds()
	stats.AvgLatency = total / time.Duration(len(samples))
	stats.ErrorRate = float64(stats.Failed) / float64(len(samples))

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	idx := (len(latencies) * 95) / 100
	if idx >= len(latencies) {
		idx = len(latencies) - 1
	}
	stats.P95Latency = latencies[idx]

	return stats
}

// Start launches the periodic threshold evaluation loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop halts the evaluation loop.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) run() {
	defer m.wg.Done()

	interval := m.cfg.Window / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.evaluate()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) evaluate() {
	stats := m.Snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if m.cfg.MaxErrorRate > 0 {
		crossed := stats.Processed > 0 && stats.ErrorRate > m.cfg.MaxErrorRate
		if crossed && !m.errorRateHigh {
			m.log.Warn("error rate above threshold",
				"error_rate", stats.ErrorRate, "threshold", m.cfg.MaxErrorRate)
			if m.alerter != nil {
				m.alerter.Alert(ctx, "warning", "error rate above threshold", map[string]interface{}{
					"error_rate": stats.ErrorRate,
					"threshold":  m.cfg.MaxErrorRate,
					"processed":  stats.Processed,
				})
			}
		} else if !crossed && m.errorRateHigh {
			m.log.Info("error rate back under threshold")
		}
		m.errorRateHigh = crossed
	}

	if m.cfg.MaxLatency > 0 {
		crossed := stats.P95Latency > m.cfg.MaxLatency
		if crossed && !m.latencyHigh {
			m.log.Warn("p95 latency above threshold",
				"p95_latency_ms", stats.P95Latency.Milliseconds(), "threshold_ms", m.cfg.MaxLatency.Milliseconds())
			if m.alerter != nil {
				m.alerter.Alert(ctx, "warning", "p95 latency above threshold", map[string]interface{}{
					"p95_latency_ms": stats.P95Latency.Milliseconds(),
					"threshold_ms":   m.cfg.MaxLatency.Milliseconds(),
				})
			}
		} else if !crossed && m.latencyHigh {
			m.log.Info("p95 latency back under threshold")
		}
		m.latencyHigh = crossed
	}
}

func (m *Monitor) evictLocked(now time.Time) {
	cutoff := now.Add(-m.cfg.Window)
	i := 0
	for i < len(m.samples) && m.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		m.samples = append(m.samples[:0], m.samples[i:]...)
	}
}
