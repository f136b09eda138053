// Package store provides optional external mirrors for session state. The
// in-process state.Store stays authoritative; mirrors exist for inspection
// and post-mortem debugging across restarts.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sweetpotato0/adaptiverag/state"
)

// RedisMirror writes session snapshots to Redis.
type RedisMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// DefaultRedisConfig returns the defaults for a local Redis.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "adaptiverag:session:",
		TTL:    24 * time.Hour,
	}
}

// NewRedisMirror creates a mirror backed by a Redis client.
func NewRedisMirror(config *RedisConfig) *RedisMirror {
	if config == nil {
		config = DefaultRedisConfig()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	return &RedisMirror{
		client: client,
		prefix: config.Prefix,
		ttl:    config.TTL,
	}
}

// Save writes a session snapshot under its ID and records the ID in a set.
func (m *RedisMirror) Save(ctx context.Context, snap state.Snapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("session snapshot has no ID")
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal session snapshot: %w", err)
	}

	key := m.sessionKey(snap.ID)
	if err := m.client.Set(ctx, key, raw, m.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session snapshot: %w", err)
	}
	if err := m.client.SAdd(ctx, m.setKey(), snap.ID).Err(); err != nil {
		return fmt.Errorf("failed to index session snapshot: %w", err)
	}
	return nil
}

// Load reads back a session snapshot by ID.
func (m *RedisMirror) Load(ctx context.Context, id string) (state.Snapshot, error) {
	raw, err := m.client.Get(ctx, m.sessionKey(id)).Result()
	if err != nil {
		if err == redis.Nil {
			return state.Snapshot{}, fmt.Errorf("session %s not found", id)
		}
		return state.Snapshot{}, fmt.Errorf("failed to load session snapshot: %w", err)
	}

	var snap state.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return state.Snapshot{}, fmt.Errorf("failed to decode session snapshot: %w", err)
	}
	return snap, nil
}

// List returns the IDs of all mirrored sessions.
func (m *RedisMirror) List(ctx context.Context) ([]string, error) {
	ids, err := m.client.SMembers(ctx, m.setKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list session snapshots: %w", err)
	}
	return ids, nil
}

// Delete removes a mirrored session.
func (m *RedisMirror) Delete(ctx context.Context, id string) error {
	if err := m.client.Del(ctx, m.sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session snapshot: %w", err)
	}
	if err := m.client.SRem(ctx, m.setKey(), id).Err(); err != nil {
		return fmt.Errorf("failed to update session index: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}

func (m *RedisMirror) sessionKey(id string) string {
	return m.prefix + id
}

func (m *RedisMirror) setKey() string {
	return m.prefix + "set"
}
