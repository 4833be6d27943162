// Package session defines the core types shared by the crawl session subsystems.
package session

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies the collector implementation a session is bound to.
type Kind string

// Supported collector kinds.
const (
	KindWeb  Kind = "web"
	KindFile Kind = "file"
)

// ParseKind converts a raw path/config value into a Kind.
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindWeb:
		return KindWeb, nil
	case KindFile:
		return KindFile, nil
	default:
		return "", fmt.Errorf("%w: unknown crawl kind %q", ErrNotFound, raw)
	}
}

// State represents the lifecycle state of a session.
type State string

// Session states.
const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateAborting  State = "aborting"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Busy reports whether a run is in flight.
func (s State) Busy() bool {
	return s == StateRunning || s == StateAborting
}

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Counters tracks run progress.
type Counters struct {
	Items  int64 `json:"items"`
	Failed int64 `json:"failed"`
	Bytes  int64 `json:"bytes"`
}

// Add returns the sum of c and delta.
func (c Counters) Add(delta Counters) Counters {
	return Counters{
		Items:  c.Items + delta.Items,
		Failed: c.Failed + delta.Failed,
		Bytes:  c.Bytes + delta.Bytes,
	}
}

// Status is the observable state of a session.
type Status struct {
	State       State      `json:"state"`
	RunID       string     `json:"run_id,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	AbortReason string     `json:"abort_reason,omitempty"`
	Error       string     `json:"error,omitempty"`
	Counters    Counters   `json:"counters"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Session is the externally visible view of a registered session.
type Session struct {
	Name   string `json:"name"`
	Kind   Kind   `json:"kind"`
	Status Status `json:"status"`
}

// Task is handed to an Executor for a single run.
type Task struct {
	Name       string
	Kind       Kind
	RunID      string
	Definition Definition
}

// RunRecord is the persisted history entry for one run.
type RunRecord struct {
	RunID      string     `json:"run_id"`
	Session    string     `json:"session"`
	Kind       Kind       `json:"kind"`
	State      State      `json:"state"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	Counters   Counters   `json:"counters"`
}

// ValidateName rejects names that are blank after trimming.
// Names are otherwise stored verbatim and compared case-sensitively.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: session name is required", ErrValidation)
	}
	return nil
}

// TimePtr returns a pointer to a copy of t.
func TimePtr(t time.Time) *time.Time {
	ts := t
	return &ts
}
