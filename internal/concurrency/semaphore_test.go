package concurrency

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_AcquireRespectsLimit(t *testing.T) {
	s := NewLimiter(2)
	ctx := context.Background()

	if err := s.Acquire(ctx); err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	if err := s.Acquire(ctx); err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	if s.InFlight() != 2 {
		t.Fatalf("want InFlight 2, got %d", s.InFlight())
	}

	acquired := make(chan struct{})
	go func() {
		_ = s.Acquire(ctx)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire should have blocked at limit 2")
	case <-time.After(50 * time.Millisecond):
	}

	s.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("third acquire should have unblocked after a release")
	}
}

func TestLimiter_AcquireRespectsContextCancellation(t *testing.T) {
	s := NewLimiter(1)
	ctx := context.Background()
	if err := s.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Acquire(cancelCtx); err == nil {
		t.Fatal("expected context cancellation error")
	}
}

func TestLimiter_NewLimiterBelowOneClampsToOne(t *testing.T) {
	s := NewLimiter(0)
	if s.Limit() != 1 {
		t.Fatalf("want clamped limit 1, got %d", s.Limit())
	}
}

func TestLimiter_ReleaseWithoutAcquireDoesNotUnderflow(t *testing.T) {
	s := NewLimiter(1)
	s.Release()
	if s.InFlight() != 0 {
		t.Fatalf("want InFlight 0, got %d", s.InFlight())
	}
}
