package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// StateStore persists the last known quota state.
// Load returns nil, nil when nothing has been stored yet.
type StateStore interface {
	Load(ctx context.Context) (*QuotaState, error)
	Save(ctx context.Context, state *QuotaState) error
}

// RedisStore shares quota state between processes through Redis.
type RedisStore struct {
	redis *redis.Client
	key   string
}

// NewRedisStore creates a Redis backed state store.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient, key: RedisKeyQuotaState}
}

// Load reads the quota state from Redis.
func (s *RedisStore) Load(ctx context.Context) (*QuotaState, error) {
	data, err := s.redis.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get quota state: %w", err)
	}

	var state QuotaState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse quota state: %w", err)
	}
	return &state, nil
}

// Save writes the quota state to Redis. The key expires with the daily window.
func (s *RedisStore) Save(ctx context.Context, state *QuotaState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal quota state: %w", err)
	}
	if err := s.redis.Set(ctx, s.key, data, WindowDay.Length()).Err(); err != nil {
		return fmt.Errorf("store quota state in redis: %w", err)
	}
	return nil
}

// MemoryStore keeps quota state in process.
type MemoryStore struct {
	mu    sync.Mutex
	state *QuotaState
}

// NewMemoryStore creates an empty in-process state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the stored state.
func (s *MemoryStore) Load(_ context.Context) (*QuotaState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, nil
	}
	cp := *s.state
	return &cp, nil
}

// Save stores a copy of state.
func (s *MemoryStore) Save(_ context.Context, state *QuotaState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	s.state = &cp
	return nil
}

var (
	_ StateStore = (*RedisStore)(nil)
	_ StateStore = (*MemoryStore)(nil)
)
