// Package redis provides a Redis-backed session definition store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/crawl-session-manager/internal/session"
)

const defaultPrefix = "sessiond"

// DefinitionStore keeps definitions as JSON strings and their insertion order in a sorted set.
type DefinitionStore struct {
	client   *goredis.Client
	kind     session.Kind
	prefix   string
	addr     string
	db       int
	password string
}

// Option configures a DefinitionStore.
type Option func(*DefinitionStore)

// WithPassword sets the Redis password.
func WithPassword(password string) Option {
	return func(s *DefinitionStore) {
		s.password = password
	}
}

// WithDB selects the Redis database.
func WithDB(db int) Option {
	return func(s *DefinitionStore) {
		s.db = db
	}
}

// WithPrefix namespaces every key.
func WithPrefix(prefix string) Option {
	return func(s *DefinitionStore) {
		if strings.TrimSpace(prefix) != "" {
			s.prefix = strings.TrimSpace(prefix)
		}
	}
}

// WithClient reuses an existing client.
func WithClient(client *goredis.Client) Option {
	return func(s *DefinitionStore) {
		if client != nil {
			s.client = client
		}
	}
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, addr string, kind session.Kind, opts ...Option) (*DefinitionStore, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, errors.New("redis addr is required")
	}
	if kind == "" {
		return nil, errors.New("kind is required")
	}
	s := &DefinitionStore{
		kind:   kind,
		prefix: defaultPrefix,
		addr:   addr,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = goredis.NewClient(&goredis.Options{
			Addr:     s.addr,
			Password: s.password,
			DB:       s.db,
		})
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return s, nil
}

// Put overwrites the definition; new names are appended to the insertion order.
func (s *DefinitionStore) Put(ctx context.Context, name string, def session.Definition) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("allocate sequence: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.defKey(name), string(raw), 0)
	pipe.ZAddNX(ctx, s.namesKey(), goredis.Z{Score: float64(seq), Member: name})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save definition in redis: %w", err)
	}
	return nil
}

// Get loads the definition stored under name.
func (s *DefinitionStore) Get(ctx context.Context, name string) (session.Definition, error) {
	raw, err := s.client.Get(ctx, s.defKey(name)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return session.Definition{}, fmt.Errorf("definition %q: %w", name, session.ErrNotFound)
		}
		return session.Definition{}, fmt.Errorf("load definition from redis: %w", err)
	}
	var def session.Definition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return session.Definition{}, fmt.Errorf("decode definition: %w", err)
	}
	return def, nil
}

// Remove deletes the definition and its ordering entry.
func (s *DefinitionStore) Remove(ctx context.Context, name string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.defKey(name))
	pipe.ZRem(ctx, s.namesKey(), name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete definition in redis: %w", err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("definition %q: %w", name, session.ErrNotFound)
	}
	return nil
}

// Names lists stored names in insertion order.
func (s *DefinitionStore) Names(ctx context.Context) ([]string, error) {
	names, err := s.client.ZRange(ctx, s.namesKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list definitions in redis: %w", err)
	}
	return names, nil
}

// Close releases the client.
func (s *DefinitionStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *DefinitionStore) defKey(name string) string {
	return fmt.Sprintf("%s:%s:def:%s", s.prefix, s.kind, name)
}

func (s *DefinitionStore) namesKey() string {
	return fmt.Sprintf("%s:%s:names", s.prefix, s.kind)
}

func (s *DefinitionStore) seqKey() string {
	return fmt.Sprintf("%s:%s:seq", s.prefix, s.kind)
}
