// Package runner executes session runs asynchronously and reports their outcome.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-session-manager/internal/progress"
	"github.com/JakeFAU/crawl-session-manager/internal/session"
)

// Lifecycle notification event names.
const (
	EventStarted   = "run.started"
	EventCompleted = "run.completed"
	EventFailed    = "run.failed"
)

// Config controls Runner behavior.
type Config struct {
	Kind session.Kind
	// MaxRunTime bounds a single run; zero disables the limit.
	MaxRunTime time.Duration
	// SnapshotPrefix prefixes archived definition snapshots (default "snapshots").
	SnapshotPrefix string
	// Topic receives lifecycle notifications; empty disables publishing.
	Topic string
}

// Deps bundles the collaborators a Runner needs. Archive, Hasher, Publisher
// and Progress are optional.
type Deps struct {
	Registry  session.Registry
	Executor  session.Executor
	IDs       session.IDGenerator
	Clock     session.Clock
	Archive   session.BlobStore
	Hasher    session.Hasher
	Publisher session.Publisher
	Progress  progress.Emitter
	Logger    *zap.Logger
}

// Runner starts runs in background goroutines and reports each terminal
// status exactly once through the registry.
type Runner struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger

	baseCtx    context.Context
	baseCancel context.CancelCauseFunc
	wg         sync.WaitGroup
}

// New constructs a Runner.
func New(deps Deps, cfg Config) (*Runner, error) {
	if deps.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if deps.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if deps.IDs == nil || deps.Clock == nil {
		return nil, errors.New("id generator and clock are required")
	}
	if deps.Progress == nil {
		deps.Progress = progress.NopEmitter{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SnapshotPrefix == "" {
		cfg.SnapshotPrefix = "snapshots"
	}
	baseCtx, baseCancel := context.WithCancelCause(context.Background())
	return &Runner{
		deps:       deps,
		cfg:        cfg,
		logger:     logger.With(zap.String("kind", string(cfg.Kind))),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}, nil
}

// Start moves the session to Running and executes def in the background.
// It returns as soon as the run has been registered. Runs are detached from ctx.
func (r *Runner) Start(ctx context.Context, name string, def session.Definition) (session.Status, error) {
	if err := ctx.Err(); err != nil {
		return session.Status{}, fmt.Errorf("start run: %w", err)
	}
	if err := r.baseCtx.Err(); err != nil {
		return session.Status{}, fmt.Errorf("runner is shutting down: %w", session.ErrConflict)
	}
	runID, err := r.deps.IDs.NewID()
	if err != nil {
		return session.Status{}, fmt.Errorf("allocate run id: %w", err)
	}

	runCtx, cancel := context.WithCancelCause(r.baseCtx)
	stop := context.CancelFunc(func() {})
	if r.cfg.MaxRunTime > 0 {
		runCtx, stop = context.WithTimeoutCause(runCtx, r.cfg.MaxRunTime,
			fmt.Errorf("%w: run exceeded %s", session.ErrAborted, r.cfg.MaxRunTime))
	}

	status, err := r.deps.Registry.Begin(name, runID, cancel)
	if err != nil {
		stop()
		cancel(nil)
		return session.Status{}, err
	}

	task := session.Task{Name: name, Kind: r.cfg.Kind, RunID: runID, Definition: def.Clone()}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel(nil)
		defer stop()
		r.execute(runCtx, task, status)
	}()
	return status, nil
}

// Abort asks a Running session to stop. It returns false when nothing was running.
func (r *Runner) Abort(name, reason string) (bool, error) {
	ok, err := r.deps.Registry.RequestAbort(name, reason)
	if err != nil || !ok {
		return ok, err
	}
	if sess, err := r.deps.Registry.Get(name); err == nil {
		r.emit(name, sess.Status.RunID, progress.Event{Stage: progress.StageRunAbort, Note: reason})
		r.logger.Info("abort requested",
			zap.String("session", name),
			zap.String("run_id", sess.Status.RunID),
			zap.String("reason", reason),
		)
	}
	return true, nil
}

// Wait blocks until every started run has reported its terminal status.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Shutdown aborts in-flight runs and waits for them to finish or ctx to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.baseCancel(fmt.Errorf("%w: service shutting down", session.ErrAborted))
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("runner shutdown wait: %w", ctx.Err())
	}
}

func (r *Runner) execute(ctx context.Context, task session.Task, started session.Status) {
	logger := r.logger.With(zap.String("session", task.Name), zap.String("run_id", task.RunID))
	logger.Info("run started")
	r.emit(task.Name, task.RunID, progress.Event{Stage: progress.StageRunStart})
	r.archiveSnapshot(ctx, task, logger)
	r.publish(task, EventStarted, started, logger)

	tracker := &runProgress{ctx: ctx, runner: r, name: task.Name, runID: task.RunID, logger: logger}
	execErr := r.safeExecute(ctx, task, tracker)

	final := r.deriveFinalStatus(ctx, task.Name, started, execErr)
	if err := r.deps.Registry.SetStatus(task.Name, task.RunID, final); err != nil {
		logger.Error("final status update failed", zap.Error(err))
	}

	var startedAt time.Time
	if started.StartedAt != nil {
		startedAt = *started.StartedAt
	}
	dur := r.deps.Clock.Now().Sub(startedAt)
	if dur < 0 {
		dur = 0
	}
	if final.State == session.StateCompleted {
		r.emit(task.Name, task.RunID, progress.Event{Stage: progress.StageRunDone, Dur: dur})
		r.publish(task, EventCompleted, final, logger)
		logger.Info("run completed",
			zap.Int64("items", final.Counters.Items),
			zap.Int64("failed", final.Counters.Failed),
			zap.Duration("dur", dur),
		)
		return
	}
	r.emit(task.Name, task.RunID, progress.Event{Stage: progress.StageRunError, Dur: dur, Note: final.Error})
	r.publish(task, EventFailed, final, logger)
	logger.Warn("run failed", zap.String("error", final.Error), zap.Duration("dur", dur))
}

func (r *Runner) safeExecute(ctx context.Context, task session.Task, p session.Progress) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("executor panic: %v", rec)
		}
	}()
	return r.deps.Executor.Execute(ctx, task, p)
}

// deriveFinalStatus maps the executor result onto Completed or Failed.
// Work that finished despite an abort request still counts as Completed.
func (r *Runner) deriveFinalStatus(
	ctx context.Context,
	name string,
	started session.Status,
	execErr error,
) session.Status {
	final := started
	if sess, err := r.deps.Registry.Get(name); err == nil && sess.Status.RunID == started.RunID {
		final = sess.Status
	}
	final.FinishedAt = session.TimePtr(r.deps.Clock.Now())

	cause := context.Cause(ctx)
	switch {
	case execErr == nil:
		final.State = session.StateCompleted
		final.Error = ""
	case cause != nil && errors.Is(cause, session.ErrAborted):
		final.State = session.StateFailed
		final.Error = cause.Error()
	default:
		final.State = session.StateFailed
		final.Error = execErr.Error()
	}
	return final
}

func (r *Runner) archiveSnapshot(ctx context.Context, task session.Task, logger *zap.Logger) {
	if r.deps.Archive == nil {
		return
	}
	raw, err := json.Marshal(task.Definition)
	if err != nil {
		logger.Warn("snapshot encode failed", zap.Error(err))
		return
	}
	digest := ""
	if r.deps.Hasher != nil {
		if digest, err = r.deps.Hasher.Hash(raw); err != nil {
			logger.Warn("snapshot hash failed", zap.Error(err))
		}
	}
	path := r.snapshotPath(task, digest)
	uri, err := r.deps.Archive.PutObject(ctx, path, "application/json", bytes.NewReader(raw))
	if err != nil {
		logger.Warn("snapshot archive failed", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Debug("snapshot archived", zap.String("uri", uri))
}

func (r *Runner) snapshotPath(task session.Task, digest string) string {
	file := task.RunID
	if len(digest) >= 12 {
		file = fmt.Sprintf("%s-%s", task.RunID, digest[:12])
	}
	prefix := strings.Trim(r.cfg.SnapshotPrefix, "/")
	return fmt.Sprintf("%s/%s/%s/%s.json", prefix, r.cfg.Kind, url.PathEscape(task.Name), file)
}

func (r *Runner) publish(task session.Task, event string, status session.Status, logger *zap.Logger) {
	if r.cfg.Topic == "" || r.deps.Publisher == nil {
		return
	}
	payload := map[string]any{
		"event":     event,
		"kind":      string(r.cfg.Kind),
		"session":   task.Name,
		"run_id":    task.RunID,
		"state":     string(status.State),
		"counters":  status.Counters,
		"timestamp": r.deps.Clock.Now().Format(time.RFC3339),
	}
	if status.Error != "" {
		payload["error"] = status.Error
	}
	// Detached from the run context so aborted runs still notify.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := r.deps.Publisher.Publish(ctx, r.cfg.Topic, payload); err != nil {
		logger.Warn("lifecycle publish failed", zap.String("event", event), zap.Error(err))
	}
}

func (r *Runner) emit(name, runID string, evt progress.Event) {
	id, err := uuid.Parse(runID)
	if err != nil {
		return
	}
	evt.RunID = progress.UUIDToBytes(id)
	evt.Kind = string(r.cfg.Kind)
	evt.Session = name
	evt.TS = r.deps.Clock.Now()
	r.deps.Progress.Emit(evt)
}

// runProgress is the session.Progress handed to executors for one run.
type runProgress struct {
	ctx    context.Context
	runner *Runner
	name   string
	runID  string
	logger *zap.Logger
}

func (p *runProgress) Checkpoint() error {
	if p.ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(p.ctx)
	if errors.Is(cause, session.ErrAborted) {
		return fmt.Errorf("checkpoint: %w", cause)
	}
	return fmt.Errorf("checkpoint: %w: %w", session.ErrAborted, cause)
}

func (p *runProgress) Report(delta session.Counters) {
	if delta == (session.Counters{}) {
		return
	}
	if err := p.runner.deps.Registry.Progress(p.name, p.runID, delta); err != nil {
		p.logger.Debug("progress update rejected", zap.Error(err))
		return
	}
	p.runner.emit(p.name, p.runID, progress.Event{
		Stage:  progress.StageRunProgress,
		Items:  delta.Items,
		Failed: delta.Failed,
		Bytes:  delta.Bytes,
	})
}
