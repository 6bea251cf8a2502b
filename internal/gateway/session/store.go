package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix is the namespace of every session key.
const KeyPrefix = "session:"

var ErrInvalidKey = errors.New("session key must start with " + KeyPrefix)

// Store is the session table of this gateway.
type Store interface {
	// Put creates or replaces a session. Replacing is how replication stays idempotent.
	Put(ctx context.Context, key, data string) error
	Delete(ctx context.Context, key string) error
	// All returns every live session keyed by session key.
	All(ctx context.Context) (map[string]string, error)
}

// Info is the record stored for a live client connection.
type Info struct {
	Transport   string    `json:"transport"`
	Remote      string    `json:"remote"`
	Server      string    `json:"server"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// NewKey returns a fresh session key.
func NewKey() string {
	return KeyPrefix + uuid.NewString()
}

// Encode serializes info for Put.
func (i Info) Encode() string {
	b, _ := json.Marshal(i)
	return string(b)
}

func ValidateKey(key string) error {
	if !strings.HasPrefix(key, KeyPrefix) || len(key) == len(KeyPrefix) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// RedisStore keeps sessions as plain string keys in Redis.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps client. A zero ttl stores sessions without expiry.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Put(ctx context.Context, key, data string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) All(ctx context.Context) (map[string]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}

	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}
	for i, v := range vals {
		// A key deleted between SCAN and MGET comes back as nil.
		if data, ok := v.(string); ok {
			out[keys[i]] = data
		}
	}
	return out, nil
}

// Ping checks the connection to Redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// MemoryStore is a process-local Store, used when no Redis is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]string)}
}

func (s *MemoryStore) Put(_ context.Context, key, data string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key] = data
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	return nil
}

func (s *MemoryStore) All(context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.sessions), nil
}
