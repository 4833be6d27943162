package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/crawl-session-manager/internal/session"
)

// DefinitionStore keeps session definitions in-memory for development/testing.
type DefinitionStore struct {
	mu    sync.RWMutex
	defs  map[string]session.Definition
	order []string
}

// NewDefinitionStore constructs a DefinitionStore.
func NewDefinitionStore() *DefinitionStore {
	return &DefinitionStore{defs: make(map[string]session.Definition)}
}

// Put replaces the definition stored under name.
func (s *DefinitionStore) Put(_ context.Context, name string, def session.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.defs[name]; !exists {
		s.order = append(s.order, name)
	}
	s.defs[name] = def.Clone()
	return nil
}

// Get returns a copy of the stored definition.
func (s *DefinitionStore) Get(_ context.Context, name string) (session.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[name]
	if !ok {
		return session.Definition{}, fmt.Errorf("definition %q: %w", name, session.ErrNotFound)
	}
	return def.Clone(), nil
}

// Remove deletes the definition stored under name.
func (s *DefinitionStore) Remove(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.defs[name]; !ok {
		return fmt.Errorf("definition %q: %w", name, session.ErrNotFound)
	}
	delete(s.defs, name)
	s.order = removeName(s.order, name)
	return nil
}

// Names lists stored names in insertion order.
func (s *DefinitionStore) Names(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out, nil
}

func removeName(order []string, name string) []string {
	for i, n := range order {
		if n == name {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}
