package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/veildata-systems/veilpipe/internal/model"
)

// setupTestStore starts a PostgreSQL testcontainer and opens a migrated store.
func setupTestStore(t *testing.T) *Postgres {
	if testing.Short() {
		t.Skip("skipping container-backed store test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("veilpipe_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pg, err := Open(ctx, connStr, nil)
	require.NoError(t, err, "open store and run migrations")
	t.Cleanup(pg.Close)

	return pg
}

func testEntry(recordID, reason string) *model.DeadLetterEntry {
	env := model.NewEnvelope("test-db", model.EventInsert,
		map[string]interface{}{"customer_id": recordID}, "v1", model.PriorityNormal)
	env.ID = recordID
	return model.NewDeadLetterEntry(env, reason, "assertion failed", nil)
}

func TestCheckpointRepoRoundTrip(t *testing.T) {
	pg := setupTestStore(t)
	repo := pg.Checkpoints(10)
	ctx := context.Background()

	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest, "empty store has no checkpoint")

	cp := model.NewCheckpoint(100, model.Counters{Processed: 10, Succeeded: 9, Failed: 1},
		map[string]string{"source_mode": "cdc"})
	require.NoError(t, repo.Save(ctx, cp))

	latest, err = repo.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, cp.ID, latest.ID)
	assert.Equal(t, int64(100), latest.Position)
	assert.Equal(t, uint64(9), latest.Counters.Succeeded)
	assert.Equal(t, "cdc", latest.ResumeState["source_mode"])
}

func TestCheckpointRepoListNewestFirst(t *testing.T) {
	pg := setupTestStore(t)
	repo := pg.Checkpoints(10)
	ctx := context.Background()

	for _, pos := range []int64{10, 20, 30} {
		require.NoError(t, repo.Save(ctx, model.NewCheckpoint(pos, model.Counters{}, nil)))
		time.Sleep(10 * time.Millisecond) // distinct created_at ordering
	}

	list, err := repo.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(30), list[0].Position)
	assert.Equal(t, int64(20), list[1].Position)
}

func TestCheckpointRepoPrunesHistory(t *testing.T) {
	pg := setupTestStore(t)
	repo := pg.Checkpoints(2)
	ctx := context.Background()

	for _, pos := range []int64{1, 2, 3, 4} {
		require.NoError(t, repo.Save(ctx, model.NewCheckpoint(pos, model.Counters{}, nil)))
		time.Sleep(10 * time.Millisecond)
	}

	list, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2, "history is capped at max_history")
	assert.Equal(t, int64(4), list[0].Position)
	assert.Equal(t, int64(3), list[1].Position)
}

func TestDeadLetterRepoRoundTrip(t *testing.T) {
	pg := setupTestStore(t)
	repo := pg.DeadLetters()
	ctx := context.Background()

	first := testEntry("r-1", "compliance_violation")
	second := testEntry("r-2", "quality_below_threshold")
	require.NoError(t, repo.Write(ctx, first))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, repo.Write(ctx, second))

	list, err := repo.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID, "listing is oldest first")

	got, err := repo.Get(ctx, second.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "quality_below_threshold", got.Reason)
	assert.Equal(t, "r-2", got.Envelope.ID)

	missing, err := repo.Get(ctx, "no-such-id")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDeadLetterRepoWriteIsIdempotent(t *testing.T) {
	pg := setupTestStore(t)
	repo := pg.DeadLetters()
	ctx := context.Background()

	entry := testEntry("r-1", "compliance_violation")
	require.NoError(t, repo.Write(ctx, entry))

	entry.Reason = "sink_failure"
	require.NoError(t, repo.Write(ctx, entry), "rewriting the same id updates in place")

	list, err := repo.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "sink_failure", list[0].Reason)
}

func TestDeadLetterRepoRemoveAndPurge(t *testing.T) {
	pg := setupTestStore(t)
	repo := pg.DeadLetters()
	ctx := context.Background()

	entries := []*model.DeadLetterEntry{
		testEntry("r-1", "compliance_violation"),
		testEntry("r-2", "compliance_violation"),
		testEntry("r-3", "anonymization_failed"),
	}
	for _, e := range entries {
		require.NoError(t, repo.Write(ctx, e))
	}

	require.NoError(t, repo.Remove(ctx, entries[0].ID))
	require.NoError(t, repo.Remove(ctx, entries[0].ID), "removing an absent entry is not an error")

	purged, err := repo.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, purged)

	list, err := repo.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}
