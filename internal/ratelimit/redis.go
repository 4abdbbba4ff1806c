// ABOUTME: Redis-backed fixed-window limiter for multi-replica deployments.
// ABOUTME: INCR with per-window keys so all replicas share one count.

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisWindow is a Limiter counting requests per tenant in one-minute
// windows stored in Redis. Coarser than the token bucket but shared across
// replicas.
type RedisWindow struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRedisWindow creates a limiter backed by the given Redis client.
func NewRedisWindow(client *redis.Client, requestsPerMinute int) *RedisWindow {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 100
	}
	return &RedisWindow{
		client: client,
		limit:  requestsPerMinute,
		window: time.Minute,
	}
}

// Allow increments the tenant's counter for the current window and checks
// it against the limit. The first hit in a window sets the key expiry.
func (r *RedisWindow) Allow(ctx context.Context, tenantID string) (bool, error) {
	key := fmt.Sprintf("ratelimit:%s:%d", tenantID, time.Now().Unix()/int64(r.window.Seconds()))

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("incrementing rate counter: %w", err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, key, r.window).Err(); err != nil {
			return false, fmt.Errorf("setting counter expiry: %w", err)
		}
	}

	return count <= int64(r.limit), nil
}

// RetryAfter returns the window length; the counter resets at the next window.
func (r *RedisWindow) RetryAfter() time.Duration {
	return r.window
}
