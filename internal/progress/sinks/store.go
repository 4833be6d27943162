package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-session-manager/internal/progress"
	"github.com/JakeFAU/crawl-session-manager/internal/store"
)

// StoreSink persists run history via a store.RunRepository. Progress deltas are
// collapsed per run within a batch to reduce write amplification.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards lifecycle events and collapsed deltas to the repository in
// batch order, so a run's start is written before its progress and completion.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	pending := make(map[uuid.UUID]*runDelta)
	var order []uuid.UUID

	flushRun := func(id uuid.UUID) error {
		d := pending[id]
		if d == nil || d.empty() {
			return nil
		}
		delete(pending, id)
		if err := s.repo.AddProgress(ctx, id, d.items, d.failed, d.bytes); err != nil {
			return fmt.Errorf("add run progress: %w", err)
		}
		return nil
	}

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.StartRun(ctx, runID, evt.Kind, evt.Session, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageRunProgress:
			d := pending[runID]
			if d == nil {
				d = &runDelta{}
				pending[runID] = d
				order = append(order, runID)
			}
			d.items += evt.Items
			d.failed += evt.Failed
			d.bytes += evt.Bytes
		case progress.StageRunDone, progress.StageRunError:
			if err := flushRun(runID); err != nil {
				return err
			}
			if err := s.complete(ctx, runID, evt); err != nil {
				return err
			}
		}
	}
	for _, id := range order {
		if err := flushRun(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) complete(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	status := store.RunSuccess
	var note *string
	if evt.Stage == progress.StageRunError {
		status = store.RunError
		if evt.Note != "" {
			msg := evt.Note
			note = &msg
		}
	}
	if err := s.repo.CompleteRun(ctx, runID, evt.TS, status, note); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type runDelta struct {
	items  int64
	failed int64
	bytes  int64
}

func (d *runDelta) empty() bool {
	return d.items == 0 && d.failed == 0 && d.bytes == 0
}
