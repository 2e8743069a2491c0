package badgerdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/places-scraper/internal/job"
)

func newTestStore(t *testing.T) *StateStore {
	t.Helper()
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func TestStateStoreJobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.SaveJob(ctx, job.Record{
			ID:        id,
			Status:    job.StatusQueued,
			Queries:   []string{"coffee " + id},
			CreatedAt: time.Now().UTC(),
		}))
	}
	require.NoError(t, store.SaveJob(ctx, job.Record{ID: "b", Status: job.StatusFailed, Queries: []string{"coffee b"}}))
	require.NoError(t, store.DeleteJob(ctx, "c"))

	loaded, err := store.LoadJobs(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	byID := map[string]job.Record{}
	for _, rec := range loaded {
		byID[rec.ID] = rec
	}
	assert.Equal(t, job.StatusQueued, byID["a"].Status)
	assert.Equal(t, job.StatusFailed, byID["b"].Status)
}

func TestStateStoreLastJobID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.LastJobID(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, store.SetLastJobID(ctx, "job-7"))
	id, err = store.LastJobID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-7", id)

	require.NoError(t, store.SetLastJobID(ctx, ""))
	id, err = store.LastJobID(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestNewRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}
