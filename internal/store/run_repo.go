package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the session_runs status column.
type RunStatus string

// Run statuses persisted in session_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run models one row of run history.
type Run struct {
	// ID is the run identifier shared with the runner.
	ID uuid.UUID
	// Kind is the collector kind of the owning session (web/file).
	Kind string
	// Session is the owning session name.
	Session string
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt *time.Time
	// Status is running/success/error.
	Status RunStatus
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
	// Items, Failed and Bytes accumulate reported progress.
	Items  int64
	Failed int64
	Bytes  int64
}

// RunRepository persists run history fed by the progress hub.
type RunRepository interface {
	// StartRun inserts (or idempotently updates) a running row.
	StartRun(ctx context.Context, runID uuid.UUID, kind, session string, startedAt time.Time) error
	// AddProgress applies counter deltas to a run.
	AddProgress(ctx context.Context, runID uuid.UUID, items, failed, bytes int64) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs of one session, newest first.
	ListRuns(ctx context.Context, kind, session string, limit, offset int) ([]Run, error)
}
