// Package sqlite provides an embedded SQLite session definition store.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JakeFAU/crawl-session-manager/internal/session"
)

//go:embed schema.sql
var schemaSQL string

const defaultBusyTimeout = 5 * time.Second

// DefinitionStore persists definitions of one kind in a SQLite file.
type DefinitionStore struct {
	db          *sql.DB
	kind        session.Kind
	busyTimeout time.Duration
	enableWAL   bool
}

// Option configures a DefinitionStore.
type Option func(*DefinitionStore)

// WithBusyTimeout sets the SQLite busy timeout.
func WithBusyTimeout(timeout time.Duration) Option {
	return func(s *DefinitionStore) {
		if timeout >= 0 {
			s.busyTimeout = timeout
		}
	}
}

// WithWAL toggles write-ahead logging.
func WithWAL(enabled bool) Option {
	return func(s *DefinitionStore) {
		s.enableWAL = enabled
	}
}

// New opens (creating when needed) the database at path and applies the schema.
func New(ctx context.Context, path string, kind session.Kind, opts ...Option) (*DefinitionStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if kind == "" {
		return nil, errors.New("kind is required")
	}
	s := &DefinitionStore{
		kind:        kind,
		busyTimeout: defaultBusyTimeout,
		enableWAL:   true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s.db = db
	if err := s.initialize(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *DefinitionStore) initialize(ctx context.Context) error {
	if s.busyTimeout > 0 {
		ms := int(s.busyTimeout / time.Millisecond)
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", ms)); err != nil {
			return fmt.Errorf("failed to set busy_timeout: %w", err)
		}
	}
	if s.enableWAL {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("failed to enable wal: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Put upserts the definition; the row keeps its original sequence.
func (s *DefinitionStore) Put(ctx context.Context, name string, def session.Definition) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO session_definitions (kind, name, definition, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (kind, name) DO UPDATE
SET definition = excluded.definition, updated_at = excluded.updated_at`,
		string(s.kind), name, string(raw), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save definition: %w", err)
	}
	return nil
}

// Get loads the definition stored under name.
func (s *DefinitionStore) Get(ctx context.Context, name string) (session.Definition, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT definition FROM session_definitions WHERE kind = ? AND name = ?`,
		string(s.kind), name).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Definition{}, fmt.Errorf("definition %q: %w", name, session.ErrNotFound)
		}
		return session.Definition{}, fmt.Errorf("failed to load definition: %w", err)
	}
	var def session.Definition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return session.Definition{}, fmt.Errorf("failed to decode definition: %w", err)
	}
	return def, nil
}

// Remove deletes the definition stored under name.
func (s *DefinitionStore) Remove(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM session_definitions WHERE kind = ? AND name = ?`, string(s.kind), name)
	if err != nil {
		return fmt.Errorf("failed to delete definition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("definition %q: %w", name, session.ErrNotFound)
	}
	return nil
}

// Names lists stored names in insertion order.
func (s *DefinitionStore) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM session_definitions WHERE kind = ? ORDER BY seq`, string(s.kind))
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan definition row: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate definitions: %w", err)
	}
	return names, nil
}

// Close closes the database handle.
func (s *DefinitionStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
