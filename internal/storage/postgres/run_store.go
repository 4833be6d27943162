package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/crawl-session-manager/internal/store"
)

// RunStore implements store.RunRepository using Postgres.
type RunStore struct {
	pool querier
}

// NewRunStore wraps an existing pool.
func NewRunStore(pool querier) (*RunStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// StartRun inserts a running row; replays keep the earliest start time.
func (s *RunStore) StartRun(ctx context.Context, runID uuid.UUID, kind, name string, startedAt time.Time) error {
	query := `
		INSERT INTO session_runs (id, kind, session, started_at, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET started_at = LEAST(session_runs.started_at, EXCLUDED.started_at);
	`
	if _, err := s.pool.Exec(ctx, query, runID, kind, name, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("failed to upsert run start: %w", err)
	}
	return nil
}

// AddProgress applies counter deltas to a run.
func (s *RunStore) AddProgress(ctx context.Context, runID uuid.UUID, items, failed, bytes int64) error {
	query := `
		UPDATE session_runs
		SET items = items + $1, failed = failed + $2, bytes = bytes + $3
		WHERE id = $4;
	`
	tag, err := s.pool.Exec(ctx, query, items, failed, bytes, runID)
	if err != nil {
		return fmt.Errorf("failed to add run progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CompleteRun marks a run as finished with a status and optional error message.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE session_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;
	`
	if _, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, runID); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `
		SELECT id, kind, session, started_at, finished_at, status, error_message, items, failed, bytes
		FROM session_runs
		WHERE id = $1;
	`
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves one session's runs, newest first.
func (s *RunStore) ListRuns(ctx context.Context, kind, name string, limit, offset int) ([]store.Run, error) {
	query := `
		SELECT id, kind, session, started_at, finished_at, status, error_message, items, failed, bytes
		FROM session_runs
		WHERE kind = $1 AND session = $2
		ORDER BY started_at DESC
		LIMIT $3 OFFSET $4;
	`
	rows, err := s.pool.Query(ctx, query, kind, name, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]store.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var run store.Run
	err := row.Scan(
		&run.ID,
		&run.Kind,
		&run.Session,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.ErrorMessage,
		&run.Items,
		&run.Failed,
		&run.Bytes,
	)
	return run, err
}
