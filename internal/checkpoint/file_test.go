package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veildata-systems/veilpipe/internal/model"
)

func TestFileStoreSaveAndLatest(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), 3)
	require.NoError(t, err)

	cp := model.NewCheckpoint(11, model.Counters{Processed: 5}, nil)
	require.NoError(t, store.Save(context.Background(), cp))

	got, err := store.Latest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cp.ID, got.ID)
	assert.Equal(t, int64(11), got.Position)
}

func TestFileStoreLatestReplacedAtomically(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, 3)
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), model.NewCheckpoint(1, model.Counters{}, nil)))
	require.NoError(t, store.Save(context.Background(), model.NewCheckpoint(2, model.Counters{}, nil)))

	got, err := store.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Position)

	// No temp file left behind after the rename.
	_, err = os.Stat(filepath.Join(dir, ".latest.json.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileStoreHistoryPruned(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), 3)
	require.NoError(t, err)

	for pos := int64(1); pos <= 6; pos++ {
		require.NoError(t, store.Save(context.Background(), model.NewCheckpoint(pos, model.Counters{}, nil)))
	}

	list, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	// Newest first, oldest pruned.
	assert.Equal(t, int64(6), list[0].Position)
	assert.Equal(t, int64(4), list[2].Position)
}

func TestFileStoreCorruptLatestIsAnError(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, 3)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "latest.json"), []byte("{not json"), 0o644))

	_, err = store.Latest(context.Background())
	assert.Error(t, err)
}
