// Package manager implements the session facade used by the transport layer.
package manager

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-session-manager/internal/session"
)

const (
	defaultListLimit = 20
	defaultMaxLimit  = 1000
)

// Runner starts and aborts session runs.
type Runner interface {
	Start(ctx context.Context, name string, def session.Definition) (session.Status, error)
	Abort(name, reason string) (bool, error)
}

// Config tunes list paging.
type Config struct {
	// DefaultLimit applies when List is called without a positive limit (default 20).
	DefaultLimit int
	// MaxLimit caps the page size (default 1000).
	MaxLimit int
}

// Manager coordinates the definition store, the registry and the runner for
// sessions of one collector kind. Mutating operations are serialized per name.
type Manager struct {
	kind     session.Kind
	defs     session.DefinitionStore
	registry session.Registry
	runner   Runner
	locks    *keyedMutex
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Manager.
func New(
	kind session.Kind,
	defs session.DefinitionStore,
	registry session.Registry,
	runner Runner,
	cfg Config,
	logger *zap.Logger,
) (*Manager, error) {
	if defs == nil || registry == nil || runner == nil {
		return nil, errors.New("definition store, registry and runner are required")
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = defaultListLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = defaultMaxLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		kind:     kind,
		defs:     defs,
		registry: registry,
		runner:   runner,
		locks:    newKeyedMutex(),
		cfg:      cfg,
		logger:   logger.With(zap.String("kind", string(kind))),
	}, nil
}

// Kind reports the collector kind handled by this manager.
func (m *Manager) Kind() session.Kind {
	return m.kind
}

// Restore registers every persisted definition as an Idle session.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	names, err := m.defs.Names(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore sessions: %w", err)
	}
	for _, name := range names {
		m.registry.UpsertIdle(name)
	}
	m.logger.Info("sessions restored", zap.Int("count", len(names)))
	return len(names), nil
}

// Upsert stores raw bound to index under name and registers the session.
// Runs already in flight keep the definition they started with.
func (m *Manager) Upsert(ctx context.Context, name string, raw session.Definition, index string) (session.Status, error) {
	if err := session.ValidateName(name); err != nil {
		return session.Status{}, err
	}
	if err := session.ValidateIndex(index); err != nil {
		return session.Status{}, err
	}
	unlock := m.locks.Lock(name)
	defer unlock()

	def := session.BindIndex(session.WithCollector(raw, m.kind), index)
	if err := m.defs.Put(ctx, name, def); err != nil {
		return session.Status{}, fmt.Errorf("store definition %q: %w", name, err)
	}
	status := m.registry.UpsertIdle(name)
	m.logger.Info("session upserted", zap.String("session", name), zap.String("index", index))
	return status, nil
}

// GetDefinition returns the index binding and the stored definition.
func (m *Manager) GetDefinition(ctx context.Context, name string) (string, session.Definition, error) {
	if err := session.ValidateName(name); err != nil {
		return "", session.Definition{}, err
	}
	unlock := m.locks.RLock(name)
	defer unlock()

	def, err := m.defs.Get(ctx, name)
	if err != nil {
		return "", session.Definition{}, err
	}
	index, _ := session.IndexOf(def)
	return index, def, nil
}

// Get returns the live view of a session. It waits only for a concurrent
// upsert/run/delete of the same name, never for in-flight runs.
func (m *Manager) Get(_ context.Context, name string) (session.Session, error) {
	unlock := m.locks.RLock(name)
	defer unlock()
	return m.registry.Get(name)
}

// Run starts a run of the stored definition and returns the Running status.
func (m *Manager) Run(ctx context.Context, name string) (session.Status, error) {
	if err := session.ValidateName(name); err != nil {
		return session.Status{}, err
	}
	unlock := m.locks.Lock(name)
	defer unlock()

	def, err := m.defs.Get(ctx, name)
	if err != nil {
		return session.Status{}, err
	}
	m.registry.UpsertIdle(name)
	status, err := m.runner.Start(ctx, name, def)
	if err != nil {
		return session.Status{}, err
	}
	m.logger.Info("session run requested", zap.String("session", name), zap.String("run_id", status.RunID))
	return status, nil
}

// Abort requests cancellation of a running session. It reports false, never
// an error, when the session is unknown or not Running.
func (m *Manager) Abort(_ context.Context, name, reason string) bool {
	unlock := m.locks.Lock(name)
	defer unlock()

	ok, err := m.runner.Abort(name, reason)
	if err != nil {
		m.logger.Debug("abort ignored", zap.String("session", name), zap.Error(err))
		return false
	}
	return ok
}

// Delete removes a session from the registry and the definition store.
// Busy sessions fail with ErrConflict and nothing is removed.
func (m *Manager) Delete(ctx context.Context, name string) error {
	if err := session.ValidateName(name); err != nil {
		return err
	}
	unlock := m.locks.Lock(name)
	defer unlock()

	removed, regErr := m.registry.Remove(name)
	registered := regErr == nil
	if regErr != nil && !errors.Is(regErr, session.ErrNotFound) {
		return regErr
	}

	if err := m.defs.Remove(ctx, name); err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound) && registered:
			// registry-only session; removing it is enough
		case errors.Is(err, session.ErrNotFound):
			return fmt.Errorf("session %q: %w", name, session.ErrNotFound)
		default:
			if registered {
				m.registry.Reinstate(removed)
			}
			return fmt.Errorf("delete definition %q: %w", name, err)
		}
	}
	m.logger.Info("session deleted", zap.String("session", name))
	return nil
}

// List returns sessions whose name contains keywords, in insertion order.
func (m *Manager) List(_ context.Context, keywords string, offset, limit int) []session.Session {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = m.cfg.DefaultLimit
	}
	if limit > m.cfg.MaxLimit {
		limit = m.cfg.MaxLimit
	}
	return m.registry.List(keywords, offset, limit)
}
