package runner

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-session-manager/internal/clock/system"
	"github.com/JakeFAU/crawl-session-manager/internal/hash/sha256"
	"github.com/JakeFAU/crawl-session-manager/internal/id/uuid"
	"github.com/JakeFAU/crawl-session-manager/internal/progress"
	pubmemory "github.com/JakeFAU/crawl-session-manager/internal/publisher/memory"
	"github.com/JakeFAU/crawl-session-manager/internal/session"
	"github.com/JakeFAU/crawl-session-manager/internal/storage/memory"
)

type funcExecutor func(ctx context.Context, task session.Task, p session.Progress) error

func (f funcExecutor) Execute(ctx context.Context, task session.Task, p session.Progress) error {
	return f(ctx, task, p)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) Stages() []progress.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]progress.Stage, len(e.events))
	for i, evt := range e.events {
		out[i] = evt.Stage
	}
	return out
}

type harness struct {
	runner    *Runner
	registry  *memory.Registry
	blobs     *memory.BlobStore
	publisher *pubmemory.Publisher
	emitter   *recordingEmitter
}

func newHarness(t *testing.T, exec session.Executor, cfg Config) *harness {
	t.Helper()
	cfg.Kind = session.KindWeb
	h := &harness{
		registry:  memory.NewRegistry(session.KindWeb, system.New()),
		blobs:     memory.NewBlobStore(),
		publisher: pubmemory.New(),
		emitter:   &recordingEmitter{},
	}
	r, err := New(Deps{
		Registry:  h.registry,
		Executor:  exec,
		IDs:       uuid.New(),
		Clock:     system.New(),
		Archive:   h.blobs,
		Hasher:    sha256.New(),
		Publisher: h.publisher,
		Progress:  h.emitter,
	}, cfg)
	require.NoError(t, err)
	h.runner = r
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return h
}

func (h *harness) status(t *testing.T, name string) session.Status {
	t.Helper()
	sess, err := h.registry.Get(name)
	require.NoError(t, err)
	return sess.Status
}

// blockingExecutor reports one item, then waits for release or an abort checkpoint.
func blockingExecutor(release <-chan struct{}, cooperative bool) funcExecutor {
	return func(ctx context.Context, _ session.Task, p session.Progress) error {
		p.Report(session.Counters{Items: 1, Bytes: 10})
		for {
			select {
			case <-release:
				return nil
			case <-time.After(5 * time.Millisecond):
				if !cooperative {
					continue
				}
				if err := p.Checkpoint(); err != nil {
					return err
				}
			}
		}
	}
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{}, Config{})
	require.Error(t, err)
}

func TestRunCompletes(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	h := newHarness(t, blockingExecutor(release, true), Config{Topic: "sessions"})
	h.registry.UpsertIdle("alpha")

	def := session.BindIndex(session.Definition{Collector: session.KindWeb, Settings: map[string]any{"k": "v"}}, "idx")
	status, err := h.runner.Start(context.Background(), "alpha", def)
	require.NoError(t, err)
	assert.Equal(t, session.StateRunning, status.State)
	require.NotEmpty(t, status.RunID)

	_, err = h.runner.Start(context.Background(), "alpha", def)
	require.ErrorIs(t, err, session.ErrConflict, "second run while running")

	close(release)
	h.runner.Wait()

	final := h.status(t, "alpha")
	assert.Equal(t, session.StateCompleted, final.State)
	assert.Equal(t, status.RunID, final.RunID)
	assert.Equal(t, int64(1), final.Counters.Items)
	require.NotNil(t, final.FinishedAt)
	assert.Empty(t, final.Error)

	assert.Equal(t, []progress.Stage{
		progress.StageRunStart, progress.StageRunProgress, progress.StageRunDone,
	}, h.emitter.Stages())

	msgs := h.publisher.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "sessions", msgs[0].Topic)
	assert.Equal(t, EventStarted, msgs[0].Payload.(map[string]any)["event"])
	assert.Equal(t, EventCompleted, msgs[1].Payload.(map[string]any)["event"])

	paths := h.blobs.Paths()
	require.Len(t, paths, 1)
	assert.True(t, strings.HasPrefix(paths[0], "snapshots/web/alpha/"+status.RunID+"-"), paths[0])
	raw, ok := h.blobs.Object(paths[0])
	require.True(t, ok)
	var archived session.Definition
	require.NoError(t, json.Unmarshal(raw, &archived))
	idx, _ := session.IndexOf(archived)
	assert.Equal(t, "idx", idx)

	_, err = h.runner.Start(context.Background(), "alpha", def)
	require.NoError(t, err, "completed sessions can run again")
}

func TestRunUnknownSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, blockingExecutor(nil, true), Config{})
	_, err := h.runner.Start(context.Background(), "missing", session.Definition{})
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestRunUsesSnapshot(t *testing.T) {
	t.Parallel()

	seen := make(chan session.Definition, 1)
	h := newHarness(t, funcExecutor(func(_ context.Context, task session.Task, _ session.Progress) error {
		time.Sleep(20 * time.Millisecond)
		seen <- task.Definition
		return nil
	}), Config{})
	h.registry.UpsertIdle("alpha")

	def := session.BindIndex(session.Definition{Settings: map[string]any{"depth": 1.0}}, "idx")
	_, err := h.runner.Start(context.Background(), "alpha", def)
	require.NoError(t, err)
	def.Settings["depth"] = 9.0

	got := <-seen
	assert.Equal(t, 1.0, got.Settings["depth"])
	h.runner.Wait()
}

func TestAbortCooperativeRunFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, blockingExecutor(make(chan struct{}), true), Config{})
	h.registry.UpsertIdle("alpha")

	ok, err := h.runner.Abort("alpha", "not running")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.runner.Start(context.Background(), "alpha", session.Definition{})
	require.NoError(t, err)

	ok, err = h.runner.Abort("alpha", "operator request")
	require.NoError(t, err)
	assert.True(t, ok)
	h.runner.Wait()

	final := h.status(t, "alpha")
	assert.Equal(t, session.StateFailed, final.State)
	assert.Equal(t, "operator request", final.AbortReason)
	assert.Contains(t, final.Error, "aborted: operator request")
	assert.Contains(t, h.emitter.Stages(), progress.StageRunAbort)
	assert.Contains(t, h.emitter.Stages(), progress.StageRunError)
}

func TestAbortAfterWorkFinishedCompletes(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	h := newHarness(t, blockingExecutor(release, false), Config{})
	h.registry.UpsertIdle("alpha")

	_, err := h.runner.Start(context.Background(), "alpha", session.Definition{})
	require.NoError(t, err)
	ok, err := h.runner.Abort("alpha", "late")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session.StateAborting, h.status(t, "alpha").State)

	close(release)
	h.runner.Wait()
	assert.Equal(t, session.StateCompleted, h.status(t, "alpha").State)
}

func TestExecutorErrorFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, funcExecutor(func(context.Context, session.Task, session.Progress) error {
		return errors.New("entry url unreachable")
	}), Config{Topic: "sessions"})
	h.registry.UpsertIdle("alpha")

	_, err := h.runner.Start(context.Background(), "alpha", session.Definition{})
	require.NoError(t, err)
	h.runner.Wait()

	final := h.status(t, "alpha")
	assert.Equal(t, session.StateFailed, final.State)
	assert.Equal(t, "entry url unreachable", final.Error)
	msgs := h.publisher.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, EventFailed, msgs[1].Payload.(map[string]any)["event"])
}

func TestExecutorPanicFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, funcExecutor(func(context.Context, session.Task, session.Progress) error {
		panic("boom")
	}), Config{})
	h.registry.UpsertIdle("alpha")

	_, err := h.runner.Start(context.Background(), "alpha", session.Definition{})
	require.NoError(t, err)
	h.runner.Wait()

	final := h.status(t, "alpha")
	assert.Equal(t, session.StateFailed, final.State)
	assert.Contains(t, final.Error, "executor panic: boom")
}

func TestMaxRunTimeAborts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, blockingExecutor(make(chan struct{}), true), Config{MaxRunTime: 30 * time.Millisecond})
	h.registry.UpsertIdle("alpha")

	_, err := h.runner.Start(context.Background(), "alpha", session.Definition{})
	require.NoError(t, err)
	h.runner.Wait()

	final := h.status(t, "alpha")
	assert.Equal(t, session.StateFailed, final.State)
	assert.Contains(t, final.Error, "exceeded")
}

func TestShutdownAbortsRuns(t *testing.T) {
	t.Parallel()

	h := newHarness(t, blockingExecutor(make(chan struct{}), true), Config{})
	h.registry.UpsertIdle("alpha")
	_, err := h.runner.Start(context.Background(), "alpha", session.Definition{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.runner.Shutdown(ctx))

	final := h.status(t, "alpha")
	assert.Equal(t, session.StateFailed, final.State)
	assert.Contains(t, final.Error, "shutting down")

	_, err = h.runner.Start(context.Background(), "alpha", session.Definition{})
	require.ErrorIs(t, err, session.ErrConflict)
}

func TestCheckpointWrapsAborted(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancelCause(context.Background())
	p := &runProgress{ctx: ctx}
	require.NoError(t, p.Checkpoint())
	cancel(errors.New("other"))
	require.ErrorIs(t, p.Checkpoint(), session.ErrAborted)
}
