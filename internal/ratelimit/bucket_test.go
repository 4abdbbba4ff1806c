// ABOUTME: Tests for the in-process token bucket limiter.
// ABOUTME: Covers burst exhaustion, tenant isolation, and concurrent access.

package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

func TestTokenBucketExhaustion(t *testing.T) {
	// 1 request/minute sustained, burst of 3: exactly 3 immediate allows.
	tb := NewTokenBucket(1, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := tb.Allow(ctx, "acme-corp")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !ok {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	ok, err := tb.Allow(ctx, "acme-corp")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Error("burst-exhausted tenant should be denied")
	}
}

func TestTokenBucketTenantIsolation(t *testing.T) {
	tb := NewTokenBucket(1, 1)
	ctx := context.Background()

	if ok, _ := tb.Allow(ctx, "acme-corp"); !ok {
		t.Fatal("first acme request should pass")
	}
	if ok, _ := tb.Allow(ctx, "acme-corp"); ok {
		t.Fatal("second acme request should be denied")
	}

	// Another tenant has its own bucket.
	if ok, _ := tb.Allow(ctx, "globex"); !ok {
		t.Error("globex should not share acme's bucket")
	}
}

func TestTokenBucketConcurrentNoLostUpdates(t *testing.T) {
	const burst = 50
	tb := NewTokenBucket(1, burst)
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := tb.Allow(ctx, "acme-corp")
			if ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	// Sustained rate of 1/min adds at most a token or two during the test.
	got := allowed.Load()
	if got < burst || got > burst+2 {
		t.Errorf("allowed %d requests, want about the burst capacity %d", got, burst)
	}
}

func TestTokenBucketRetryAfter(t *testing.T) {
	tb := NewTokenBucket(60, 60)
	if tb.RetryAfter() <= 0 {
		t.Error("RetryAfter should be positive")
	}
}

func TestTokenBucketDefaults(t *testing.T) {
	tb := NewTokenBucket(0, 0)
	if tb.perMin != 100 || tb.burst != 100 {
		t.Errorf("defaults = %d/%d, want 100/100", tb.perMin, tb.burst)
	}
}
