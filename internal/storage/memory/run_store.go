package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/crawl-session-manager/internal/store"
)

// RunStore provides an in-memory run history for development/testing.
type RunStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]store.Run
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[uuid.UUID]store.Run)}
}

// StartRun inserts a running row, keeping the earliest start time on replays.
func (s *RunStore) StartRun(_ context.Context, runID uuid.UUID, kind, name string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if ok {
		if startedAt.Before(run.StartedAt) {
			run.StartedAt = startedAt
			s.runs[runID] = run
		}
		return nil
	}
	s.runs[runID] = store.Run{
		ID:        runID,
		Kind:      kind,
		Session:   name,
		StartedAt: startedAt,
		Status:    store.RunRunning,
	}
	return nil
}

// AddProgress applies counter deltas.
func (s *RunStore) AddProgress(_ context.Context, runID uuid.UUID, items, failed, bytes int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.Items += items
	run.Failed += failed
	run.Bytes += bytes
	s.runs[runID] = run
	return nil
}

// CompleteRun marks the run as finished.
func (s *RunStore) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.Status = status
	run.FinishedAt = pointerTime(finishedAt)
	if errMsg != nil {
		msg := *errMsg
		run.ErrorMessage = &msg
	}
	s.runs[runID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns one session's runs, newest first.
func (s *RunStore) ListRuns(_ context.Context, kind, name string, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	matched := make([]store.Run, 0)
	for _, run := range s.runs {
		if run.Kind == kind && run.Session == name {
			matched = append(matched, run)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})
	if offset >= len(matched) {
		return []store.Run{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
