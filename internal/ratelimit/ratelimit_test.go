package ratelimit

import (
	"testing"
	"time"
)

func TestLimiter_AllowsUpToBurstThenBlocks(t *testing.T) {
	l := New(60, 2, time.Minute) // 1/sec refill, burst 2

	if !l.Allow("tenant-a") {
		t.Fatal("first call should be allowed")
	}
	if !l.Allow("tenant-a") {
		t.Fatal("second call within burst should be allowed")
	}
	if l.Allow("tenant-a") {
		t.Fatal("third immediate call should be rate-limited")
	}
}

func TestLimiter_TenantsAreIndependent(t *testing.T) {
	l := New(60, 1, time.Minute)

	if !l.Allow("tenant-a") {
		t.Fatal("tenant-a first call should be allowed")
	}
	if l.Allow("tenant-a") {
		t.Fatal("tenant-a second call should be rate-limited")
	}
	if !l.Allow("tenant-b") {
		t.Fatal("tenant-b should have its own independent bucket")
	}
}

func TestLimiter_ZeroRateAllowsEverything(t *testing.T) {
	l := New(0, 1, time.Minute)
	for i := 0; i < 10; i++ {
		if !l.Allow("tenant-a") {
			t.Fatal("a zero rate limiter should allow unconditionally")
		}
	}
}

func TestLimiter_NilLimiterAllowsEverything(t *testing.T) {
	var l *Limiter
	if !l.Allow("tenant-a") {
		t.Fatal("nil limiter should allow unconditionally")
	}
}

func TestLimiter_AllowWithRetryReportsPositiveDelayWhenDepleted(t *testing.T) {
	l := New(60, 1, time.Minute) // 1/sec refill, burst 1

	allowed, retryAfter := l.AllowWithRetry("tenant-a")
	if !allowed || retryAfter != 0 {
		t.Fatalf("first call should be allowed with no retry hint, got allowed=%v retryAfter=%s", allowed, retryAfter)
	}

	allowed, retryAfter = l.AllowWithRetry("tenant-a")
	if allowed {
		t.Fatal("second immediate call should be rate-limited")
	}
	if retryAfter <= 0 || retryAfter > time.Second {
		t.Fatalf("want a retry hint in (0, 1s], got %s", retryAfter)
	}
}

func TestLimiter_TenantCountTracksDistinctTenants(t *testing.T) {
	l := New(60, 5, time.Minute)
	l.Allow("tenant-a")
	l.Allow("tenant-b")
	l.Allow("tenant-a")

	if got := l.TenantCount(); got != 2 {
		t.Fatalf("want 2 tracked tenants, got %d", got)
	}
}
