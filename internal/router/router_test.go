package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veildata-systems/veilpipe/internal/buffer"
	"github.com/veildata-systems/veilpipe/internal/compliance"
	"github.com/veildata-systems/veilpipe/internal/config"
	"github.com/veildata-systems/veilpipe/internal/model"
	"github.com/veildata-systems/veilpipe/internal/quality"
	"github.com/veildata-systems/veilpipe/internal/source"
)

type fakeResubmitter struct {
	mu       sync.Mutex
	envs     []*model.Envelope
	err      error
	received chan *model.Envelope
}

func newFakeResubmitter() *fakeResubmitter {
	return &fakeResubmitter{received: make(chan *model.Envelope, 16)}
}

func (f *fakeResubmitter) Resubmit(ctx context.Context, env *model.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.envs = append(f.envs, env)
	f.received <- env
	return nil
}

type fakeDeadLetters struct {
	mu      sync.Mutex
	entries []*model.DeadLetterEntry
}

func (f *fakeDeadLetters) Write(ctx context.Context, entry *model.DeadLetterEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeDeadLetters) all() []*model.DeadLetterEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.DeadLetterEntry, len(f.entries))
	copy(out, f.entries)
	return out
}

func testRetryConfig() config.RetryConfig {
	return config.RetryConfig{
		MaxRetries:        3,
		InitialDelay:      time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          8 * time.Millisecond,
	}
}

func makeEnvelope(retries int) *model.Envelope {
	env := model.NewEnvelope("test", model.EventInsert,
		map[string]interface{}{"k": fmt.Sprintf("%d", time.Now().UnixNano())},
		"v1", model.PriorityNormal)
	env.Retries = retries
	return env
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	r := New(config.RetryConfig{
		MaxRetries:        10,
		InitialDelay:      100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          time.Second,
	}, newFakeResubmitter(), &fakeDeadLetters{}, nil, nil)

	assert.Equal(t, 100*time.Millisecond, r.Backoff(0))
	assert.Equal(t, 200*time.Millisecond, r.Backoff(1))
	assert.Equal(t, 400*time.Millisecond, r.Backoff(2))
	assert.Equal(t, 800*time.Millisecond, r.Backoff(3))
	assert.Equal(t, time.Second, r.Backoff(4))
	assert.Equal(t, time.Second, r.Backoff(20))

	// Non-decreasing across the whole range.
	prev := time.Duration(0)
	for i := 0; i < 30; i++ {
		d := r.Backoff(i)
		assert.GreaterOrEqual(t, d, prev, "backoff shrank at retry %d", i)
		prev = d
	}
}

func TestBackoffOverflowReturnsMaxDelay(t *testing.T) {
	r := New(config.RetryConfig{
		MaxRetries:        1000,
		InitialDelay:      time.Second,
		BackoffMultiplier: 10.0,
		MaxDelay:          time.Minute,
	}, newFakeResubmitter(), &fakeDeadLetters{}, nil, nil)

	assert.Equal(t, time.Minute, r.Backoff(500))
}

func TestRetryableFailureResubmitsWithIncrementedCount(t *testing.T) {
	resubmit := newFakeResubmitter()
	dl := &fakeDeadLetters{}
	r := New(testRetryConfig(), resubmit, dl, nil, nil)
	defer r.Stop()

	env := makeEnvelope(0)
	res := model.FailureResult(env.ID, "connectivity", true, 0)
	r.Route(context.Background(), env, res)

	select {
	case retried := <-resubmit.received:
		assert.Equal(t, env.ID, retried.ID)
		assert.Equal(t, 1, retried.Retries)
	case <-time.After(time.Second):
		t.Fatal("retry never delivered")
	}
	assert.Empty(t, dl.all())
}

func TestNonRetryableFailureDeadLettersImmediately(t *testing.T) {
	resubmit := newFakeResubmitter()
	dl := &fakeDeadLetters{}
	r := New(testRetryConfig(), resubmit, dl, nil, nil)
	defer r.Stop()

	env := makeEnvelope(0)
	res := model.FailureResult(env.ID, "compliance_violation", false, 0)
	res.FailureDetail = "consent marker missing"
	r.Route(context.Background(), env, res)

	entries := dl.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "compliance_violation", entries[0].Reason)
	assert.Equal(t, "consent marker missing", entries[0].Error)
	assert.Equal(t, env.ID, entries[0].Envelope.ID)
	assert.Empty(t, entries[0].Attempts, "no retries should be recorded")
	assert.Equal(t, 0, r.PendingRetries())
}

func TestExhaustedBudgetDeadLettersWithFullHistory(t *testing.T) {
	resubmit := newFakeResubmitter()
	dl := &fakeDeadLetters{}
	r := New(testRetryConfig(), resubmit, dl, nil, nil)
	defer r.Stop()

	env := makeEnvelope(0)

	// Drive the record through its full retry budget.
	for attempt := 0; attempt < 3; attempt++ {
		res := model.FailureResult(env.ID, "connectivity", true, 0)
		r.Route(context.Background(), env, res)
		select {
		case retried := <-resubmit.received:
			env = retried
		case <-time.After(time.Second):
			t.Fatalf("retry %d never delivered", attempt+1)
		}
	}
	require.Equal(t, 3, env.Retries)

	// The fourth failure exceeds the budget.
	res := model.FailureResult(env.ID, "connectivity", true, 0)
	r.Route(context.Background(), env, res)

	entries := dl.all()
	require.Len(t, entries, 1, "record must be dead-lettered exactly once")
	assert.Len(t, entries[0].Attempts, 3)
	assert.Equal(t, 1, entries[0].Attempts[0].Attempt)
	assert.Equal(t, 3, entries[0].Attempts[2].Attempt)
}

func TestResubmitOnClosedBufferSkipsQuietly(t *testing.T) {
	resubmit := newFakeResubmitter()
	resubmit.err = buffer.ErrClosed
	dl := &fakeDeadLetters{}
	r := New(testRetryConfig(), resubmit, dl, nil, nil)
	defer r.Stop()

	env := makeEnvelope(0)
	r.Route(context.Background(), env, model.FailureResult(env.ID, "connectivity", true, 0))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, dl.all(), "shutdown race must not dead-letter")
	assert.Empty(t, r.History(env.ID))
}

func TestStopCancelsPendingRetries(t *testing.T) {
	resubmit := newFakeResubmitter()
	r := New(config.RetryConfig{
		MaxRetries:        3,
		InitialDelay:      time.Hour,
		BackoffMultiplier: 2.0,
		MaxDelay:          2 * time.Hour,
	}, resubmit, &fakeDeadLetters{}, nil, nil)

	env := makeEnvelope(0)
	r.Route(context.Background(), env, model.FailureResult(env.ID, "connectivity", true, 0))
	require.Equal(t, 1, r.PendingRetries())

	r.Stop()
	assert.Equal(t, 0, r.PendingRetries())
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"duplicate", buffer.ErrDuplicate, ClassDuplicate},
		{"slot missing", source.ErrSlotMissing, ClassFatal},
		{"wrapped slot missing", fmt.Errorf("init: %w", source.ErrSlotMissing), ClassFatal},
		{"connection", &source.ConnectionError{Op: "poll", Err: errors.New("refused")}, ClassRetryable},
		{"compliance", &compliance.ViolationError{}, ClassNonRetryable},
		{"quality transient", &quality.ThresholdError{Transient: true}, ClassRetryable},
		{"quality permanent", &quality.ThresholdError{}, ClassNonRetryable},
		{"deadline", context.DeadlineExceeded, ClassRetryable},
		{"backpressure", buffer.ErrBackpressure, ClassRetryable},
		{"unknown", errors.New("mystery"), ClassNonRetryable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "duplicate", FailureReason(buffer.ErrDuplicate))
	assert.Equal(t, "slot_missing", FailureReason(source.ErrSlotMissing))
	assert.Equal(t, "compliance_violation", FailureReason(&compliance.ViolationError{}))
	assert.Equal(t, "quality_below_threshold", FailureReason(&quality.ThresholdError{}))
	assert.Equal(t, "connectivity", FailureReason(&source.ConnectionError{Op: "poll", Err: errors.New("x")}))
	assert.Equal(t, "timeout", FailureReason(context.DeadlineExceeded))
	assert.Equal(t, "processing_error", FailureReason(errors.New("mystery")))
}
