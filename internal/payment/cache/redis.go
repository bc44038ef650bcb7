package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/frahmantamala/spotpay-billing/internal/payment"
)

const keyPrefix = "payments:status:%s"

// RedisStatusCache keeps terminal payment status views so status polling from
// captive portals does not hit the database. Cache errors degrade to misses.
type RedisStatusCache struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisStatusCache(client redis.Cmdable, ttl time.Duration, logger *slog.Logger) *RedisStatusCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisStatusCache{client: client, ttl: ttl, logger: logger}
}

func (c *RedisStatusCache) Get(ctx context.Context, key string) (*payment.StatusView, bool) {
	cached, err := c.client.Get(ctx, fmt.Sprintf(keyPrefix, key)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("status cache read failed", "key", key, "error", err)
		}
		return nil, false
	}

	var view payment.StatusView
	if err := json.Unmarshal([]byte(cached), &view); err != nil {
		c.logger.Warn("status cache entry unreadable", "key", key, "error", err)
		return nil, false
	}
	return &view, true
}

func (c *RedisStatusCache) Set(ctx context.Context, key string, view *payment.StatusView) {
	js, err := json.Marshal(view)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, fmt.Sprintf(keyPrefix, key), js, c.ttl).Err(); err != nil {
		c.logger.Warn("status cache write failed", "key", key, "error", err)
	}
}

// Connect opens a client and checks it answers.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return client, nil
}
