package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veildata-systems/veilpipe/internal/config"
	"github.com/veildata-systems/veilpipe/internal/model"
)

func testCheckpointConfig() config.CheckpointConfig {
	return config.CheckpointConfig{
		Interval:   10 * time.Millisecond,
		MaxHistory: 5,
	}
}

func newFileManager(t *testing.T) (*Manager, *FileStore) {
	t.Helper()
	store, err := NewFileStore(t.TempDir(), 5)
	require.NoError(t, err)
	return NewManager(store, testCheckpointConfig(), nil), store
}

func TestRestoreWithoutCheckpointStartsFresh(t *testing.T) {
	m, _ := newFileManager(t)

	cp, err := m.Restore(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cp)
	assert.Equal(t, int64(0), m.Position())
}

func TestAdvanceAndFlushPersists(t *testing.T) {
	m, store := newFileManager(t)

	m.Advance(42, model.Counters{Processed: 10, Succeeded: 9, Failed: 1}, map[string]string{"source_mode": "cdc"})
	require.NoError(t, m.Flush(context.Background()))

	cp, err := store.Latest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, int64(42), cp.Position)
	assert.Equal(t, uint64(10), cp.Counters.Processed)
	assert.Equal(t, "cdc", cp.ResumeState["source_mode"])
}

func TestStaleAdvanceIsIgnored(t *testing.T) {
	m, store := newFileManager(t)

	m.Advance(100, model.Counters{}, nil)
	require.NoError(t, m.Flush(context.Background()))

	// A lower position must never move the checkpoint backwards.
	m.Advance(50, model.Counters{}, nil)
	require.NoError(t, m.Flush(context.Background()))

	cp, err := store.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100), cp.Position)
	assert.Equal(t, int64(100), m.Position())
}

func TestFlushSkipsWhenNothingAdvanced(t *testing.T) {
	m, store := newFileManager(t)

	m.Advance(10, model.Counters{}, nil)
	require.NoError(t, m.Flush(context.Background()))
	first, err := store.Latest(context.Background())
	require.NoError(t, err)

	// Same position again: no new checkpoint.
	require.NoError(t, m.Flush(context.Background()))
	second, err := store.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestRestoreResumesAfterRestart(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, 5)
	require.NoError(t, err)

	m1 := NewManager(store, testCheckpointConfig(), nil)
	m1.Advance(250, model.Counters{Processed: 250, Succeeded: 240, DeadLettered: 10}, nil)
	require.NoError(t, m1.Flush(context.Background()))

	// A new manager over the same backing path sees the prior progress.
	store2, err := NewFileStore(dir, 5)
	require.NoError(t, err)
	m2 := NewManager(store2, testCheckpointConfig(), nil)

	cp, err := m2.Restore(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, int64(250), cp.Position)
	assert.Equal(t, uint64(240), cp.Counters.Succeeded)
	assert.Equal(t, int64(250), m2.Position())
}

func TestBackgroundWriterCoalesces(t *testing.T) {
	m, store := newFileManager(t)
	m.Start()

	for pos := int64(1); pos <= 50; pos++ {
		m.Advance(pos, model.Counters{Processed: uint64(pos)}, nil)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		cp, err := store.Latest(context.Background())
		require.NoError(t, err)
		if cp != nil && cp.Position == 50 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	m.Stop(context.Background())

	cp, err := store.Latest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, int64(50), cp.Position, "writer must end at the newest position")
}

func TestStopWritesFinalCheckpoint(t *testing.T) {
	m, store := newFileManager(t)
	m.Start()

	m.Advance(7, model.Counters{}, nil)
	m.Stop(context.Background())

	cp, err := store.Latest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, int64(7), cp.Position)
}
