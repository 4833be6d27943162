package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the run milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageRunProgress Stage = "RUN_PROGRESS"
	StageRunAbort    Stage = "RUN_ABORT"
	StageRunDone     Stage = "RUN_DONE"
	StageRunError    Stage = "RUN_ERROR"
)

// Event captures a single step of session run progress.
type Event struct {
	// RunID uniquely identifies a run using the 16-byte UUID form.
	RunID [16]byte
	// Kind is the collector kind of the session (web/file).
	Kind string
	// Session is the session name.
	Session string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Items, Failed and Bytes carry counter deltas for RUN_PROGRESS.
	Items  int64
	Failed int64
	Bytes  int64
	// Dur is the run wall time on RUN_DONE/RUN_ERROR.
	Dur time.Duration
	// Note carries low-volume context (abort reason, error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Session == "" {
		return errors.New("session is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunAbort, StageRunDone, StageRunError:
	case StageRunProgress:
		if e.Items < 0 || e.Failed < 0 || e.Bytes < 0 {
			return errors.New("progress deltas must be >= 0")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
