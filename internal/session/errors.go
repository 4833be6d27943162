package session

import "errors"

var (
	// ErrNotFound is returned when a session or definition does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an operation is illegal for the current state.
	ErrConflict = errors.New("conflict")
	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrAborted is returned from a checkpoint once a run has been asked to stop.
	ErrAborted = errors.New("aborted")
)
