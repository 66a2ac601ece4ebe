// Package ratelimit throttles publishes per user.
// RedisLimiter shares fixed window counters between relay nodes, MemoryLimiter keeps
// token buckets in process.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "chat-relay:publish"

type RedisLimiter struct {
	client *redis.Client
	log    *slog.Logger
	prefix string
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter allows limit calls per key in every window.
func NewRedisLimiter(client *redis.Client, log *slog.Logger, prefix string, limit int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisLimiter{
		client: client,
		log:    log,
		prefix: prefix,
		limit:  int64(limit),
		window: window,
		now:    time.Now,
	}
}

// Allow counts one call for key. The counter key carries the window index,
// so a failed EXPIRE only leaks one key and never blocks the next window.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	counter := fmt.Sprintf("%s:%s:%d", l.prefix, key, l.now().UnixNano()/int64(l.window))
	count, err := l.client.Incr(ctx, counter).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, counter, l.window).Err(); err != nil {
			l.log.Warn("Failed to set rate limit expiry", "key", counter, "error", err)
		}
	}
	return count <= l.limit, nil
}
