// Package index keeps the catalog of named indexes that sessions bind to.
package index

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-session-manager/internal/session"
)

const (
	defaultListLimit = 20
	maxListLimit     = 1000
	idNamespace      = "crawl-session-manager/index"
)

// Index is a catalog entry.
type Index struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NameIDer derives a deterministic identifier for a name.
type NameIDer interface {
	NameID(namespace, name string) string
}

// Catalog is an in-memory, insertion-ordered index catalog.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]*Index
	order   []string
	ids     NameIDer
	clock   session.Clock
	logger  *zap.Logger
}

// NewCatalog constructs an empty catalog.
func NewCatalog(ids NameIDer, clock session.Clock, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		entries: make(map[string]*Index),
		ids:     ids,
		clock:   clock,
		logger:  logger,
	}
}

// Create registers name, or touches it when it already exists. The returned
// ID is stable for a given name.
func (c *Catalog) Create(name string) (Index, error) {
	name = strings.TrimSpace(name)
	if err := session.ValidateIndex(name); err != nil {
		return Index{}, err
	}
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[name]; ok {
		existing.UpdatedAt = now
		return *existing, nil
	}
	entry := &Index{
		ID:        c.ids.NameID(idNamespace, name),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.entries[name] = entry
	c.order = append(c.order, name)
	c.logger.Info("index created", zap.String("index", name), zap.String("id", entry.ID))
	return *entry, nil
}

// Get returns the entry for name.
func (c *Catalog) Get(name string) (Index, error) {
	name = strings.TrimSpace(name)
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[name]
	if !ok {
		return Index{}, fmt.Errorf("index %q: %w", name, session.ErrNotFound)
	}
	return *entry, nil
}

// Delete removes name from the catalog.
func (c *Catalog) Delete(name string) error {
	name = strings.TrimSpace(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[name]; !ok {
		return fmt.Errorf("index %q: %w", name, session.ErrNotFound)
	}
	delete(c.entries, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.logger.Info("index deleted", zap.String("index", name))
	return nil
}

// List returns entries whose name contains keywords. offset counts matching
// entries; a non-positive limit means the default page size.
func (c *Catalog) List(keywords string, offset, limit int) []Index {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Index, 0, min(limit, len(c.order)))
	skipped := 0
	for _, name := range c.order {
		if !strings.Contains(name, keywords) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, *c.entries[name])
		if len(out) == limit {
			break
		}
	}
	return out
}
