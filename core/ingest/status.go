package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"songmill/logger"
)

// StatusCache mirrors a run's current state so other processes (and the
// status endpoint) can observe in-flight ingestions.
type StatusCache interface {
	SetState(ctx context.Context, slug string, state State) error
	GetState(ctx context.Context, slug string) (State, error)
	Clear(ctx context.Context, slug string) error
}

// RedisStatusCache keeps run states in Redis with a TTL so crashed runs
// age out instead of looking stuck forever.
type RedisStatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStatusCache creates a cache over client. A zero ttl defaults
// to one hour.
func NewRedisStatusCache(client *redis.Client, ttl time.Duration) *RedisStatusCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisStatusCache{client: client, ttl: ttl}
}

func statusKey(slug string) string {
	return fmt.Sprintf("songmill:ingest:%s", slug)
}

// SetState records the current state for slug.
func (c *RedisStatusCache) SetState(ctx context.Context, slug string, state State) error {
	if err := c.client.Set(ctx, statusKey(slug), string(state), c.ttl).Err(); err != nil {
		logger.Warn("failed to mirror ingest state to redis",
			logger.String("slug", slug), logger.ErrorField(err))
		return err
	}
	return nil
}

// GetState returns the recorded state for slug, or "" when none.
func (c *RedisStatusCache) GetState(ctx context.Context, slug string) (State, error) {
	val, err := c.client.Get(ctx, statusKey(slug)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return State(val), nil
}

// Clear drops the recorded state for slug.
func (c *RedisStatusCache) Clear(ctx context.Context, slug string) error {
	return c.client.Del(ctx, statusKey(slug)).Err()
}
