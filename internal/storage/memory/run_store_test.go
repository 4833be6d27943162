package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-session-manager/internal/store"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	runs := NewRunStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	first, second := uuid.New(), uuid.New()

	require.NoError(t, runs.StartRun(ctx, first, "web", "alpha", base))
	require.NoError(t, runs.StartRun(ctx, second, "web", "alpha", base.Add(time.Minute)))
	require.NoError(t, runs.StartRun(ctx, uuid.New(), "file", "alpha", base))
	require.NoError(t, runs.AddProgress(ctx, first, 3, 1, 100))
	msg := "boom"
	require.NoError(t, runs.CompleteRun(ctx, first, base.Add(time.Second), store.RunError, &msg))

	got, err := runs.GetRun(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, store.RunError, got.Status)
	assert.Equal(t, int64(3), got.Items)
	assert.Equal(t, int64(100), got.Bytes)
	require.NotNil(t, got.FinishedAt)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "boom", *got.ErrorMessage)

	list, err := runs.ListRuns(ctx, "web", "alpha", 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID, "newest first")

	list, err = runs.ListRuns(ctx, "web", "alpha", 10, 5)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = runs.GetRun(ctx, uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, runs.AddProgress(ctx, uuid.New(), 1, 0, 0), store.ErrNotFound)
}
