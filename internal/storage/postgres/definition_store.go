package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/crawl-session-manager/internal/session"
)

// DefinitionStore persists session definitions of one kind as JSONB rows.
type DefinitionStore struct {
	pool  querier
	table string
	kind  session.Kind
}

// NewDefinitionStore wraps an existing pool. Table defaults to session_definitions.
func NewDefinitionStore(pool querier, table string, kind session.Kind) (*DefinitionStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = "session_definitions"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if kind == "" {
		return nil, errors.New("kind is required")
	}
	return &DefinitionStore{pool: pool, table: table, kind: kind}, nil
}

// Put upserts the definition, keeping the original insertion sequence.
func (s *DefinitionStore) Put(ctx context.Context, name string, def session.Definition) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (kind, name, definition)
VALUES ($1, $2, $3)
ON CONFLICT (kind, name) DO UPDATE
SET definition = EXCLUDED.definition, updated_at = now()`, s.table)
	if _, err := s.pool.Exec(ctx, query, string(s.kind), name, raw); err != nil {
		return fmt.Errorf("upsert definition: %w", err)
	}
	return nil
}

// Get loads the definition stored under name.
func (s *DefinitionStore) Get(ctx context.Context, name string) (session.Definition, error) {
	query := fmt.Sprintf(`SELECT definition FROM %s WHERE kind = $1 AND name = $2`, s.table)
	var raw []byte
	if err := s.pool.QueryRow(ctx, query, string(s.kind), name).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.Definition{}, fmt.Errorf("definition %q: %w", name, session.ErrNotFound)
		}
		return session.Definition{}, fmt.Errorf("get definition: %w", err)
	}
	var def session.Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return session.Definition{}, fmt.Errorf("decode definition: %w", err)
	}
	return def, nil
}

// Remove deletes the definition stored under name.
func (s *DefinitionStore) Remove(ctx context.Context, name string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE kind = $1 AND name = $2`, s.table)
	tag, err := s.pool.Exec(ctx, query, string(s.kind), name)
	if err != nil {
		return fmt.Errorf("delete definition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("definition %q: %w", name, session.ErrNotFound)
	}
	return nil
}

// Names lists stored names in insertion order.
func (s *DefinitionStore) Names(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT name FROM %s WHERE kind = $1 ORDER BY seq`, s.table)
	rows, err := s.pool.Query(ctx, query, string(s.kind))
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan definition row: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate definitions: %w", err)
	}
	return names, nil
}

// Close releases the underlying pool resources.
func (s *DefinitionStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
