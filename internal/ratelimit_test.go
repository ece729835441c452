package internal

import (
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	limiter := &rateLimiter{
		store:     make(map[string]*rateEntry),
		rps:       1,
		burst:     1,
		ttl:       time.Minute,
		lastPrune: time.Now(),
	}

	if !limiter.allow("client") {
		t.Fatalf("expected first request to be allowed")
	}
	if limiter.allow("client") {
		t.Fatalf("expected second request to be rate limited")
	}

	time.Sleep(1100 * time.Millisecond)

	if !limiter.allow("client") {
		t.Fatalf("expected request after refill to be allowed")
	}
}

// TestRateLimiterPrune tests that idle buckets are dropped after the ttl.
func TestRateLimiterPrune(t *testing.T) {
	limiter := &rateLimiter{
		store:     make(map[string]*rateEntry),
		rps:       1,
		burst:     1,
		ttl:       time.Minute,
		lastPrune: time.Now(),
	}

	limiter.allow("stale")
	limiter.store["stale"].last = time.Now().Add(-2 * time.Minute)
	limiter.lastPrune = time.Now().Add(-2 * time.Minute)

	limiter.allow("fresh")
	if _, ok := limiter.store["stale"]; ok {
		t.Fatalf("expected stale bucket to be pruned")
	}
	if _, ok := limiter.store["fresh"]; !ok {
		t.Fatalf("expected fresh bucket to remain")
	}
}
