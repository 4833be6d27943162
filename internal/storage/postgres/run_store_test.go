package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-session-manager/internal/store"
)

func TestRunStoreWrites(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewRunStore(mock)
	require.NoError(t, err)

	ctx := context.Background()
	runID := uuid.New()
	start := time.Unix(1700000000, 0).UTC()
	end := start.Add(time.Minute)
	msg := "aborted: operator"

	mock.ExpectExec("INSERT INTO session_runs").
		WithArgs(runID, "web", "alpha", start, store.RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE session_runs").
		WithArgs(int64(2), int64(1), int64(512), runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE session_runs").
		WithArgs(end, store.RunError, pgxmock.AnyArg(), runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, runs.StartRun(ctx, runID, "web", "alpha", start))
	require.NoError(t, runs.AddProgress(ctx, runID, 2, 1, 512))
	require.NoError(t, runs.CompleteRun(ctx, runID, end, store.RunError, &msg))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreAddProgressUnknownRun(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewRunStore(mock)
	require.NoError(t, err)

	runID := uuid.New()
	mock.ExpectExec("UPDATE session_runs").
		WithArgs(int64(1), int64(0), int64(0), runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.ErrorIs(t, runs.AddProgress(context.Background(), runID, 1, 0, 0), store.ErrNotFound)
}

func TestRunStoreGetRunMapsNoRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewRunStore(mock)
	require.NoError(t, err)

	runID := uuid.New()
	mock.ExpectQuery("SELECT id, kind, session").
		WithArgs(runID).
		WillReturnError(pgx.ErrNoRows)

	_, err = runs.GetRun(context.Background(), runID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestNewRunStoreRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewRunStore(nil)
	require.Error(t, err)
}
