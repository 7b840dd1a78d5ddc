// Package session tracks short-lived per-customer interaction state in a
// fast ephemeral cache with a durable backing copy for rehydration.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/replyflow-ai/messaging-pipeline/internal/model"
)

// ErrCacheMiss indicates the cache holds no live entry for the key.
var ErrCacheMiss = errors.New("session cache miss")

const keyPrefix = "session:"

// RedisCache stores sessions in Redis with the session expiry as TTL.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisCache{rdb: rdb}, nil
}

// Get retrieves a cached session. ErrCacheMiss when absent or evicted.
func (c *RedisCache) Get(ctx context.Context, phone string) (*model.Session, error) {
	raw, err := c.rdb.Get(ctx, keyPrefix+phone).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	var sess model.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Set writes a session with TTL equal to its remaining lifetime.
func (c *RedisCache) Set(ctx context.Context, sess *model.Session) error {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, keyPrefix+sess.PhoneNumber, raw, ttl).Err()
}

// Delete removes a cached session.
func (c *RedisCache) Delete(ctx context.Context, phone string) error {
	return c.rdb.Del(ctx, keyPrefix+phone).Err()
}

// Ping reports cache liveness for readiness checks.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
