// ABOUTME: In-process token bucket limiter keyed by tenant.
// ABOUTME: Fixed capacity and refill rate via golang.org/x/time/rate.

package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter answers whether a tenant may make another request right now.
// Allow never blocks; a denied request is the caller's problem to retry.
type Limiter interface {
	Allow(ctx context.Context, tenantID string) (bool, error)
	// RetryAfter reports how long a denied caller should wait before
	// retrying, as a hint only.
	RetryAfter() time.Duration
}

// TokenBucket is an in-process Limiter with one bucket per tenant.
// Buckets refill continuously at the configured per-minute rate and hold at
// most burst tokens. Concurrent increment-and-check is safe; refill is
// time-driven inside x/time/rate and loses no updates.
type TokenBucket struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	perMin   int
	burst    int
	interval time.Duration
}

// NewTokenBucket creates a limiter allowing requestsPerMinute sustained
// requests per tenant with the given burst capacity.
func NewTokenBucket(requestsPerMinute, burst int) *TokenBucket {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 100
	}
	if burst <= 0 {
		burst = requestsPerMinute
	}
	return &TokenBucket{
		buckets:  make(map[string]*rate.Limiter),
		perMin:   requestsPerMinute,
		burst:    burst,
		interval: time.Minute,
	}
}

// Allow consumes one token from the tenant's bucket.
func (t *TokenBucket) Allow(_ context.Context, tenantID string) (bool, error) {
	t.mu.Lock()
	bucket, ok := t.buckets[tenantID]
	if !ok {
		bucket = rate.NewLimiter(rate.Limit(float64(t.perMin)/60.0), t.burst)
		t.buckets[tenantID] = bucket
	}
	t.mu.Unlock()

	return bucket.Allow(), nil
}

// RetryAfter returns the average token refill interval.
func (t *TokenBucket) RetryAfter() time.Duration {
	return t.interval / time.Duration(t.perMin)
}
