package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to Redis using a URL of the form
// redis://[:password@]host:port[/db] and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	slog.Debug("NewRedisClient connected", "addr", opts.Addr, "db", opts.DB)
	return client, nil
}

// RedisIdempotencyGuard records seen message IDs in Redis with SET NX, so
// multiple bot instances share one delivery ledger.
type RedisIdempotencyGuard struct {
	client *redis.Client
	ttl    time.Duration
}

var _ IdempotencyGuard = (*RedisIdempotencyGuard)(nil)

// NewRedisIdempotencyGuard creates a Redis-backed guard with the given
// record TTL. A non-positive ttl falls back to DefaultIdempotencyTTL.
func NewRedisIdempotencyGuard(client *redis.Client, ttl time.Duration) *RedisIdempotencyGuard {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &RedisIdempotencyGuard{client: client, ttl: ttl}
}

// FirstDelivery atomically records messageID and reports whether this caller
// was the first to do so.
func (g *RedisIdempotencyGuard) FirstDelivery(ctx context.Context, messageID, userID string) (bool, error) {
	key := "uranai:msg:" + messageID
	ok, err := g.client.SetNX(ctx, key, userID, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

// RedisRateLimiter implements a fixed-window counter per user on Redis.
type RedisRateLimiter struct {
	client *redis.Client
	window time.Duration
	max    int
}

var _ RateLimiter = (*RedisRateLimiter)(nil)

// NewRedisRateLimiter creates a limiter allowing max messages per window.
// Non-positive arguments fall back to the package defaults.
func NewRedisRateLimiter(client *redis.Client, window time.Duration, max int) *RedisRateLimiter {
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	if max <= 0 {
		max = DefaultRateLimitMax
	}
	return &RedisRateLimiter{client: client, window: window, max: max}
}

// Allow increments the user's window counter and reports whether it is still
// within budget. The expiry is set only when the counter is created, so the
// window is fixed rather than sliding.
func (l *RedisRateLimiter) Allow(ctx context.Context, userID string) (bool, error) {
	key := fmt.Sprintf("uranai:rate:%s:%d", userID, time.Now().UnixNano()/int64(l.window))
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis incr failed: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return false, fmt.Errorf("redis expire failed: %w", err)
		}
	}
	return count <= int64(l.max), nil
}
