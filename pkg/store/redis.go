package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default keyspace prefixes. Both are configurable so several gateways can
// share one redis instance.
const (
	DefaultHistoryPrefix = "h:"
	DefaultStatePrefix   = "s:"
)

// RedisHistory stores each session's history as a redis list under
// "<prefix><session_id>", entries in insertion order.
type RedisHistory struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisHistory wraps the given client. A zero ttl disables expiration.
func NewRedisHistory(rdb *redis.Client, prefix string, ttl time.Duration) *RedisHistory {
	if prefix == "" {
		prefix = DefaultHistoryPrefix
	}
	return &RedisHistory{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (h *RedisHistory) key(sessionID string) string {
	return h.prefix + sessionID
}

func (h *RedisHistory) Append(ctx context.Context, sessionID, entry string) error {
	key := h.key(sessionID)
	if err := h.rdb.RPush(ctx, key, entry).Err(); err != nil {
		return fmt.Errorf("history append: %w", err)
	}
	if h.ttl > 0 {
		if err := h.rdb.Expire(ctx, key, h.ttl).Err(); err != nil {
			return fmt.Errorf("history expire: %w", err)
		}
	}
	return nil
}

func (h *RedisHistory) Get(ctx context.Context, sessionID string) ([]string, error) {
	entries, err := h.rdb.LRange(ctx, h.key(sessionID), 0, -1).Result()
	if err == redis.Nil {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history get: %w", err)
	}
	return entries, nil
}

func (h *RedisHistory) Last(ctx context.Context, sessionID string, n int) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}
	entries, err := h.rdb.LRange(ctx, h.key(sessionID), int64(-n), -1).Result()
	if err == redis.Nil {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history last: %w", err)
	}
	return entries, nil
}

func (h *RedisHistory) Clear(ctx context.Context, sessionID string, keepLast int) error {
	key := h.key(sessionID)
	if keepLast <= 0 {
		if err := h.rdb.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("history clear: %w", err)
		}
		return nil
	}
	if err := h.rdb.LTrim(ctx, key, int64(-keepLast), -1).Err(); err != nil {
		return fmt.Errorf("history trim: %w", err)
	}
	return nil
}

// RedisState stores each session's state as one JSON blob under
// "<prefix><session_id>". Field operations read-modify-write the blob;
// per-session access is serialized upstream so this is not racy in
// practice.
type RedisState struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisState wraps the given client. A zero ttl disables expiration.
func NewRedisState(rdb *redis.Client, prefix string, ttl time.Duration) *RedisState {
	if prefix == "" {
		prefix = DefaultStatePrefix
	}
	return &RedisState{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *RedisState) key(sessionID string) string {
	return s.prefix + sessionID
}

func (s *RedisState) Get(ctx context.Context, sessionID string) (map[string]any, error) {
	data, err := s.rdb.Get(ctx, s.key(sessionID)).Bytes()
	if err == redis.Nil {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state get: %w", err)
	}
	var state map[string]any
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("state unmarshal: %w", err)
	}
	return state, nil
}

func (s *RedisState) Set(ctx context.Context, sessionID string, data map[string]any) error {
	blob, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("state marshal: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(sessionID), blob, s.ttl).Err(); err != nil {
		return fmt.Errorf("state set: %w", err)
	}
	return nil
}

func (s *RedisState) GetField(ctx context.Context, sessionID, key string) (any, error) {
	state, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return state[key], nil
}

func (s *RedisState) SetField(ctx context.Context, sessionID, key string, value any) error {
	state, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	state[key] = value
	return s.Set(ctx, sessionID, state)
}

func (s *RedisState) Clear(ctx context.Context, sessionID string) error {
	if err := s.rdb.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("state clear: %w", err)
	}
	return nil
}

func (s *RedisState) ClearAll(ctx context.Context) error {
	iter := s.rdb.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("state clear all: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("state scan: %w", err)
	}
	return nil
}
