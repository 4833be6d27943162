package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/JakeFAU/crawl-session-manager/internal/session"
)

// DefaultListLimit applies when List is called without a positive limit.
const DefaultListLimit = 20

type registryEntry struct {
	status session.Status
	cancel context.CancelCauseFunc
}

// Registry is the authoritative in-process table of sessions and their live status.
type Registry struct {
	mu      sync.RWMutex
	kind    session.Kind
	clock   session.Clock
	entries map[string]*registryEntry
	order   []string

	// removedAt remembers the listing slot of removed sessions for Reinstate.
	removedAt map[string]int
}

// NewRegistry constructs a Registry for sessions of one kind.
func NewRegistry(kind session.Kind, clock session.Clock) *Registry {
	return &Registry{
		kind:      kind,
		clock:     clock,
		entries:   make(map[string]*registryEntry),
		removedAt: make(map[string]int),
	}
}

// List returns sessions whose name contains keywords, in insertion order.
// Offset counts matching sessions; an offset past the end yields an empty slice.
func (r *Registry) List(keywords string, offset, limit int) []session.Session {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]session.Session, 0, min(limit, len(r.order)))
	skipped := 0
	for _, name := range r.order {
		if keywords != "" && !strings.Contains(name, keywords) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, r.view(name))
		if len(out) == limit {
			break
		}
	}
	return out
}

// Get returns the session registered under name.
func (r *Registry) Get(name string) (session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.entries[name]; !ok {
		return session.Session{}, notRegistered(name)
	}
	return r.view(name), nil
}

// UpsertIdle registers name as Idle; existing entries keep their status.
func (r *Registry) UpsertIdle(name string) session.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		return e.status
	}
	e := &registryEntry{status: session.Status{State: session.StateIdle, UpdatedAt: r.clock.Now()}}
	r.entries[name] = e
	r.order = append(r.order, name)
	delete(r.removedAt, name)
	return e.status
}

// Begin moves a non-busy session to Running under runID.
func (r *Registry) Begin(name, runID string, cancel context.CancelCauseFunc) (session.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return session.Status{}, notRegistered(name)
	}
	if e.status.State.Busy() {
		return session.Status{}, fmt.Errorf("session %q is %s: %w", name, e.status.State, session.ErrConflict)
	}
	now := r.clock.Now()
	e.status = session.Status{
		State:     session.StateRunning,
		RunID:     runID,
		StartedAt: session.TimePtr(now),
		UpdatedAt: now,
	}
	e.cancel = cancel
	return e.status, nil
}

// Progress adds counter deltas to the live status of runID.
func (r *Registry) Progress(name, runID string, delta session.Counters) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.currentRun(name, runID)
	if err != nil {
		return err
	}
	if !e.status.State.Busy() {
		return fmt.Errorf("run %s of %q already finished: %w", runID, name, session.ErrConflict)
	}
	e.status.Counters = e.status.Counters.Add(delta)
	e.status.UpdatedAt = r.clock.Now()
	return nil
}

// RequestAbort moves a Running session to Aborting and fires its cancel handle.
// Sessions in any other state are left alone and false is returned.
func (r *Registry) RequestAbort(name, reason string) (bool, error) {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return false, notRegistered(name)
	}
	if e.status.State != session.StateRunning {
		r.mu.Unlock()
		return false, nil
	}
	e.status.State = session.StateAborting
	e.status.AbortReason = reason
	e.status.UpdatedAt = r.clock.Now()
	cancel := e.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel(fmt.Errorf("%w: %s", session.ErrAborted, reason))
	}
	return true, nil
}

// SetStatus records the status of runID. Stale run IDs are rejected with ErrConflict.
func (r *Registry) SetStatus(name, runID string, status session.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.currentRun(name, runID)
	if err != nil {
		return err
	}
	status.RunID = runID
	status.UpdatedAt = r.clock.Now()
	e.status = status
	if !status.State.Busy() {
		e.cancel = nil
	}
	return nil
}

// Remove unregisters a session that is not running.
func (r *Registry) Remove(name string) (session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return session.Session{}, notRegistered(name)
	}
	if e.status.State.Busy() {
		return session.Session{}, fmt.Errorf("session %q is %s: %w", name, e.status.State, session.ErrConflict)
	}
	removed := r.view(name)
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.removedAt[name] = i
			break
		}
	}
	r.order = removeName(r.order, name)
	return removed, nil
}

// Reinstate registers a previously removed session again at the listing slot
// it held when removed. Unknown slots append.
func (r *Registry) Reinstate(s session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[s.Name]; ok {
		return
	}
	r.entries[s.Name] = &registryEntry{status: s.Status}
	pos, ok := r.removedAt[s.Name]
	delete(r.removedAt, s.Name)
	if !ok || pos > len(r.order) {
		pos = len(r.order)
	}
	r.order = append(r.order, "")
	copy(r.order[pos+1:], r.order[pos:])
	r.order[pos] = s.Name
}

func (r *Registry) currentRun(name, runID string) (*registryEntry, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, notRegistered(name)
	}
	if e.status.RunID != runID {
		return nil, fmt.Errorf("run %s is not current for %q: %w", runID, name, session.ErrConflict)
	}
	return e, nil
}

func (r *Registry) view(name string) session.Session {
	return session.Session{Name: name, Kind: r.kind, Status: r.entries[name].status}
}

func notRegistered(name string) error {
	return fmt.Errorf("session %q: %w", name, session.ErrNotFound)
}
