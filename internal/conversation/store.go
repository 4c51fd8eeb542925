package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dshills/triage-mcp/pkg/types"
)

// ErrNotFound is returned when no conversation exists for a request
var ErrNotFound = errors.New("conversation not found")

// Store persists conversation state keyed by request id
type Store interface {
	Get(ctx context.Context, requestID string) (*types.ConversationState, error)
	Put(ctx context.Context, state *types.ConversationState, ttl time.Duration) error
	Delete(ctx context.Context, requestID string) error
}

// RedisClient is the subset of go-redis the store needs
type RedisClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisStore keeps each conversation as a JSON value with a TTL
type RedisStore struct {
	client RedisClient
	prefix string
}

// DefaultKeyPrefix namespaces conversation keys
const DefaultKeyPrefix = "triage:conversation:"

// NewRedisStore creates a store over client. An empty prefix uses
// DefaultKeyPrefix.
func NewRedisStore(client RedisClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(requestID string) string {
	return s.prefix + requestID
}

// Get loads the state for requestID
func (s *RedisStore) Get(ctx context.Context, requestID string) (*types.ConversationState, error) {
	raw, err := s.client.Get(ctx, s.key(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	var state types.ConversationState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	return &state, nil
}

// Put stores state, resetting its TTL
func (s *RedisStore) Put(ctx context.Context, state *types.ConversationState, ttl time.Duration) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode conversation: %w", err)
	}
	if err := s.client.Set(ctx, s.key(state.RequestID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store conversation: %w", err)
	}
	return nil
}

// Delete removes the state for requestID. Missing keys are not an error.
func (s *RedisStore) Delete(ctx context.Context, requestID string) error {
	if err := s.client.Del(ctx, s.key(requestID)).Err(); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// Ping checks connectivity
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

type memEntry struct {
	state   types.ConversationState
	expires time.Time
}

// MemoryStore keeps state in process memory
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memEntry), now: time.Now}
}

// Get returns a copy of the stored state
func (s *MemoryStore) Get(_ context.Context, requestID string) (*types.ConversationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		delete(s.entries, requestID)
		return nil, ErrNotFound
	}
	state := e.state
	state.Turns = append([]types.Turn(nil), e.state.Turns...)
	return &state, nil
}

// Put stores a copy of state
func (s *MemoryStore) Put(_ context.Context, state *types.ConversationState, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := memEntry{state: *state}
	e.state.Turns = append([]types.Turn(nil), state.Turns...)
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.entries[state.RequestID] = e
	return nil
}

// Delete removes the state for requestID
func (s *MemoryStore) Delete(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, requestID)
	return nil
}

// Len returns the number of live conversations
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RedisConfig locates the shared conversation store. When disabled the
// tracker keeps state in process memory.
type RedisConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Addr      string `koanf:"addr" validate:"required_if=Enabled true"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db" validate:"gte=0"`
	KeyPrefix string `koanf:"key_prefix"`
}

// OpenStore returns the store described by cfg and a close function
func OpenStore(ctx context.Context, cfg RedisConfig) (Store, func() error, error) {
	if !cfg.Enabled {
		return NewMemoryStore(), func() error { return nil }, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	store := NewRedisStore(client, cfg.KeyPrefix)
	if err := store.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return store, client.Close, nil
}
