package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veildata-systems/veilpipe/internal/config"
	"github.com/veildata-systems/veilpipe/internal/model"
)

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (f *fakeAlerter) Alert(ctx context.Context, severity, message string, fields map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, message)
}

func (f *fakeAlerter) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.alerts...)
}

func newTestMonitor(cfg config.MonitorConfig) (*Monitor, *fakeAlerter) {
	alerter := &fakeAlerter{}
	probe := func() (int, bool) { return 7, true }
	return New(cfg, alerter, probe, nil), alerter
}

func TestSnapshotComputesWindowStats(t *testing.T) {
	m, _ := newTestMonitor(config.MonitorConfig{Window: time.Minute})

	for i := 0; i < 8; i++ {
		m.Record(model.SuccessResult("r", nil, 10*time.Millisecond))
	}
	m.Record(model.FailureResult("r", "quality_below_threshold", false, 30*time.Millisecond))
	m.Record(model.FailureResult("r", "quality_below_threshold", false, 30*time.Millisecond))

	stats := m.Snapshot()
	assert.Equal(t, 10, stats.Processed)
	assert.Equal(t, 2, stats.Failed)
	assert.InDelta(t, 0.2, stats.ErrorRate, 1e-9)
	assert.Equal(t, 14*time.Millisecond, stats.AvgLatency)
	assert.Equal(t, 30*time.Millisecond, stats.P95Latency)
	assert.InDelta(t, 10.0/60.0, stats.Throughput, 1e-9)
	assert.Equal(t, 7, stats.QueueDepth)
	assert.True(t, stats.Backpressure)
}

func TestSnapshotEmptyWindow(t *testing.T) {
	m, _ := newTestMonitor(config.MonitorConfig{Window: time.Minute})

	stats := m.Snapshot()
	assert.Zero(t, stats.Processed)
	assert.Zero(t, stats.ErrorRate)
	assert.Zero(t, stats.P95Latency)
	assert.Equal(t, 7, stats.QueueDepth)
}

func TestRecordIgnoresSkipped(t *testing.T) {
	m, _ := newTestMonitor(config.MonitorConfig{Window: time.Minute})

	m.Record(model.SkippedResult("r-1"))
	m.Record(model.SuccessResult("r-2", nil, time.Millisecond))

	stats := m.Snapshot()
	assert.Equal(t, 1, stats.Processed)
}

func TestP95PicksUpperTail(t *testing.T) {
	m, _ := newTestMonitor(config.MonitorConfig{Window: time.Minute})

	for i := 1; i <= 20; i++ {
		m.Record(model.SuccessResult("r", nil, time.Duration(i)*time.Millisecond))
	}

	stats := m.Snapshot()
	assert.Equal(t, 20*time.Millisecond, stats.P95Latency)
}

func TestOldSamplesFallOutOfWindow(t *testing.T) {
	m, _ := newTestMonitor(config.MonitorConfig{Window: 30 * time.Millisecond})

	m.Record(model.FailureResult("r", "quality_below_threshold", false, time.Millisecond))
	require.Equal(t, 1, m.Snapshot().Processed)

	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, m.Snapshot().Processed)
}

func TestErrorRateAlertFiresOncePerCrossing(t *testing.T) {
	m, alerter := newTestMonitor(config.MonitorConfig{
		Window:       time.Minute,
		MaxErrorRate: 0.5,
	})

	m.Record(model.FailureResult("r", "quality_below_threshold", false, time.Millisecond))
	m.evaluate()
	m.evaluate()
	m.evaluate()

	require.Equal(t, []string{"error rate above threshold"}, alerter.messages())
}

func TestErrorRateAlertRearmsAfterRecovery(t *testing.T) {
	m, alerter := newTestMonitor(config.MonitorConfig{
		Window:       30 * time.Millisecond,
		MaxErrorRate: 0.5,
	})

	m.Record(model.FailureResult("r", "quality_below_threshold", false, time.Millisecond))
	m.evaluate()
	require.Len(t, alerter.messages(), 1)

	// The window drains, the threshold resets, a new crossing alerts again.
	time.Sleep(40 * time.Millisecond)
	m.evaluate()
	require.Len(t, alerter.messages(), 1)

	m.Record(model.FailureResult("r", "quality_below_threshold", false, time.Millisecond))
	m.evaluate()
	assert.Len(t, alerter.messages(), 2)
}

func TestLatencyAlert(t *testing.T) {
	m, alerter := newTestMonitor(config.MonitorConfig{
		Window:     time.Minute,
		MaxLatency: 20 * time.Millisecond,
	})

	m.Record(model.SuccessResult("r", nil, 50*time.Millisecond))
	m.evaluate()
	m.evaluate()

	require.Equal(t, []string{"p95 latency above threshold"}, alerter.messages())
}

func TestNilAlerterOnlyLogsCrossings(t *testing.T) {
	m := New(config.MonitorConfig{
		Window:       time.Minute,
		MaxErrorRate: 0.5,
		MaxLatency:   time.Millisecond,
	}, nil, nil, nil)

	m.Record(model.FailureResult("r", "quality_below_threshold", false, 50*time.Millisecond))
	m.evaluate()
	m.evaluate()
}

func TestStartStopEvaluationLoop(t *testing.T) {
	m, _ := newTestMonitor(config.MonitorConfig{Window: time.Minute})

	m.Start()
	m.Stop()
}
