package buffer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veildata-systems/veilpipe/internal/config"
	"github.com/veildata-systems/veilpipe/internal/model"
)

func testConfig() config.BufferConfig {
	return config.BufferConfig{
		Capacity:              100,
		BackpressureThreshold: 4,
		DedupWindow:           time.Minute,
		SubmitTimeout:         50 * time.Millisecond,
	}
}

func makeEnvelope(key string) *model.Envelope {
	return model.NewEnvelope("test", model.EventInsert,
		map[string]interface{}{"k": key}, "v1", model.PriorityNormal)
}

func TestSubmitAndTakeBatchPreservesOrder(t *testing.T) {
	b := New(testConfig(), ModeStream)

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, b.Submit(context.Background(), makeEnvelope(key)))
	}
	require.Equal(t, 3, b.Depth())

	taken := b.TakeBatch(10)
	require.Len(t, taken, 3)
	assert.Equal(t, "a", taken[0].Payload["k"])
	assert.Equal(t, "c", taken[2].Payload["k"])
	assert.Equal(t, 0, b.Depth())
}

func TestSubmitRejectsDuplicateWithinWindow(t *testing.T) {
	b := New(testConfig(), ModeStream)

	first := makeEnvelope("same")
	second := makeEnvelope("same")
	require.Equal(t, first.Checksum, second.Checksum)

	require.NoError(t, b.Submit(context.Background(), first))
	err := b.Submit(context.Background(), second)
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, 1, b.Depth())
	assert.Equal(t, uint64(1), b.Duplicates())
}

func TestDuplicateAllowedAfterWindowExpiry(t *testing.T) {
	cfg := testConfig()
	cfg.DedupWindow = 10 * time.Millisecond
	b := New(cfg, ModeStream)

	require.NoError(t, b.Submit(context.Background(), makeEnvelope("same")))
	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, b.Submit(context.Background(), makeEnvelope("same")))
}

func TestResubmitSkipsDedup(t *testing.T) {
	b := New(testConfig(), ModeStream)

	env := makeEnvelope("retry-me")
	require.NoError(t, b.Submit(context.Background(), env))
	b.TakeBatch(10)

	// A retry carries the same checksum and must not be dropped.
	retry := env.Clone()
	retry.Retries = 1
	assert.NoError(t, b.Resubmit(context.Background(), retry))
}

func TestBulkModeRejectsAtThreshold(t *testing.T) {
	b := New(testConfig(), ModeBulk)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Submit(context.Background(), makeEnvelope(string(rune('a'+i)))))
	}

	err := b.Submit(context.Background(), makeEnvelope("overflow"))
	assert.ErrorIs(t, err, ErrBackpressure)
	assert.True(t, b.BackpressureActive())
}

func TestStreamModeBlocksThenTimesOut(t *testing.T) {
	b := New(testConfig(), ModeStream)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Submit(context.Background(), makeEnvelope(string(rune('a'+i)))))
	}

	start := time.Now()
	err := b.Submit(context.Background(), makeEnvelope("blocked"))
	assert.ErrorIs(t, err, ErrBackpressure)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestStreamModeUnblocksWhenSpaceFrees(t *testing.T) {
	cfg := testConfig()
	cfg.SubmitTimeout = time.Second
	b := New(cfg, ModeStream)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Submit(context.Background(), makeEnvelope(string(rune('a'+i)))))
	}

	done := make(chan error, 1)
	go func() {
		done <- b.Submit(context.Background(), makeEnvelope("waiting"))
	}()

	time.Sleep(20 * time.Millisecond)
	b.TakeBatch(4)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked submit never woke after space freed")
	}
}

func TestDuplicateDetectedUnderSaturation(t *testing.T) {
	b := New(testConfig(), ModeBulk)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Submit(context.Background(), makeEnvelope(string(rune('a'+i)))))
	}
	require.True(t, b.BackpressureActive())

	// A duplicate of an accepted record is a duplicate, not backpressure.
	err := b.Submit(context.Background(), makeEnvelope("a"))
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, uint64(1), b.Duplicates())
}

func TestDuplicateDoesNotBlockInStreamMode(t *testing.T) {
	b := New(testConfig(), ModeStream)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Submit(context.Background(), makeEnvelope(string(rune('a'+i)))))
	}

	start := time.Now()
	err := b.Submit(context.Background(), makeEnvelope("a"))
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Less(t, time.Since(start), 50*time.Millisecond,
		"a duplicate must be rejected without waiting out the backpressure timeout")
}

func TestResubmitUsesHeadroomAboveThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 6
	b := New(cfg, ModeBulk)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Submit(context.Background(), makeEnvelope(string(rune('a'+i)))))
	}
	require.ErrorIs(t, b.Submit(context.Background(), makeEnvelope("new")), ErrBackpressure)

	// Retries fill the headroom between threshold and capacity.
	require.NoError(t, b.Resubmit(context.Background(), makeEnvelope("retry-1")))
	require.NoError(t, b.Resubmit(context.Background(), makeEnvelope("retry-2")))
	assert.Equal(t, 6, b.Depth())

	err := b.Resubmit(context.Background(), makeEnvelope("retry-3"))
	assert.ErrorIs(t, err, ErrBackpressure, "capacity is the hard bound for resubmission too")
}

func TestClosedBufferRejectsSubmitButDrains(t *testing.T) {
	b := New(testConfig(), ModeStream)
	require.NoError(t, b.Submit(context.Background(), makeEnvelope("queued")))

	b.Close()

	err := b.Submit(context.Background(), makeEnvelope("late"))
	assert.ErrorIs(t, err, ErrClosed)

	// Already accepted work stays takeable for the shutdown drain.
	assert.Len(t, b.TakeBatch(10), 1)
}

func TestOldestAge(t *testing.T) {
	b := New(testConfig(), ModeStream)
	assert.Equal(t, time.Duration(0), b.OldestAge(time.Now()))

	require.NoError(t, b.Submit(context.Background(), makeEnvelope("old")))
	time.Sleep(10 * time.Millisecond)
	assert.GreaterOrEqual(t, b.OldestAge(time.Now()), 10*time.Millisecond)
}
