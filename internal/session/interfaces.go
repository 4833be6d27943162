package session

import (
	"context"
	"io"
	"time"
)

// DefinitionStore persists session definitions keyed by name.
// Implementations return copies; mutating a returned Definition never affects stored state.
type DefinitionStore interface {
	Put(ctx context.Context, name string, def Definition) error
	Get(ctx context.Context, name string) (Definition, error)
	Remove(ctx context.Context, name string) error
	// Names lists stored names in insertion order.
	Names(ctx context.Context) ([]string, error)
}

// Registry tracks live sessions and their status.
type Registry interface {
	List(keywords string, offset, limit int) []Session
	Get(name string) (Session, error)
	// UpsertIdle registers name as Idle when absent and leaves existing entries untouched.
	UpsertIdle(name string) Status
	// Begin atomically moves a non-busy session to Running and records its cancel handle.
	Begin(name, runID string, cancel context.CancelCauseFunc) (Status, error)
	// Progress adds counter deltas to the live status of the given run.
	Progress(name, runID string, delta Counters) error
	// RequestAbort moves a Running session to Aborting and fires its cancel handle.
	RequestAbort(name, reason string) (bool, error)
	// SetStatus records the terminal status of the given run and drops its cancel handle.
	SetStatus(name, runID string, status Status) error
	Remove(name string) (Session, error)
	// Reinstate puts back a session removed by Remove.
	Reinstate(s Session)
}

// Progress is handed to executors so they can report work and observe cancellation.
type Progress interface {
	// Checkpoint returns an error wrapping ErrAborted once the run should stop.
	Checkpoint() error
	Report(delta Counters)
}

// Executor performs the crawl described by a task.
type Executor interface {
	Execute(ctx context.Context, task Task, progress Progress) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes lifecycle notifications to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
