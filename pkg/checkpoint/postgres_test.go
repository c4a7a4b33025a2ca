package checkpoint_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/growthlab/askatlas/pkg/checkpoint"
	"github.com/growthlab/askatlas/test/util"
)

func skipWithoutDocker(t *testing.T) {
	t.Helper()
	if os.Getenv("TEST_DATABASE_URL") == "" && os.Getenv("ENABLE_TESTCONTAINERS") == "" {
		t.Skip("set TEST_DATABASE_URL or ENABLE_TESTCONTAINERS to run database integration tests")
	}
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	skipWithoutDocker(t)
	store := checkpoint.NewPostgresStore(util.SetupTestPool(t))
	ctx := context.Background()

	// Unknown thread reads as nil.
	got, err := store.Get(ctx, "never-written")
	require.NoError(t, err)
	assert.Nil(t, got)

	ref, err := store.Put(ctx, checkpoint.Checkpoint{
		ThreadID: "thread-1",
		State:    json.RawMessage(`{"queries_executed": 2}`),
	}, checkpoint.Metadata{Source: "loop", Step: 1})
	require.NoError(t, err)

	got, err = store.Get(ctx, "thread-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ref.CheckpointID, got.ID)
	assert.JSONEq(t, `{"queries_executed": 2}`, string(got.State))

	tuple, err := store.GetTuple(ctx, "thread-1")
	require.NoError(t, err)
	require.NotNil(t, tuple)
	assert.Equal(t, "loop", tuple.Metadata.Source)
	assert.Equal(t, 1, tuple.Metadata.Step)
}

func TestPostgresStoreListNewestFirst(t *testing.T) {
	skipWithoutDocker(t)
	store := checkpoint.NewPostgresStore(util.SetupTestPool(t))
	ctx := context.Background()

	var lastID string
	for step := 1; step <= 3; step++ {
		ref, err := store.Put(ctx, checkpoint.Checkpoint{
			ThreadID: "thread-1",
			State:    json.RawMessage(`{}`),
		}, checkpoint.Metadata{Source: "loop", Step: step})
		require.NoError(t, err)
		lastID = ref.CheckpointID
	}

	tuples, err := store.List(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, tuples, 3)
	assert.Equal(t, lastID, tuples[0].Checkpoint.ID)
	assert.Equal(t, 3, tuples[0].Metadata.Step)
}

func TestPostgresStoreThreadIsolation(t *testing.T) {
	skipWithoutDocker(t)
	store := checkpoint.NewPostgresStore(util.SetupTestPool(t))
	ctx := context.Background()

	_, err := store.Put(ctx, checkpoint.Checkpoint{ThreadID: "a", State: json.RawMessage(`{"turn": "a"}`)}, checkpoint.Metadata{})
	require.NoError(t, err)
	_, err = store.Put(ctx, checkpoint.Checkpoint{ThreadID: "b", State: json.RawMessage(`{"turn": "b"}`)}, checkpoint.Metadata{})
	require.NoError(t, err)

	a, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"turn": "a"}`, string(a.State))

	tuples, err := store.List(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, tuples, 1)
}
