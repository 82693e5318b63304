package worker

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tylerchilds/jobqueue/internal/lease"
	"github.com/tylerchilds/jobqueue/internal/migrate"
	"github.com/tylerchilds/jobqueue/internal/store"
	"github.com/tylerchilds/jobqueue/internal/telemetry"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping test requiring a live PostgreSQL instance")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := migrate.Run(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE jobs`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return store.New(pool)
}

func insertJob(t *testing.T, s *store.Store, jobType, key string, maxAttempts int) {
	t.Helper()
	_, _, err := s.InsertIfAbsent(context.Background(), store.Spec{
		TenantID:       "t1",
		IdempotencyKey: key,
		JobType:        jobType,
		Payload:        []byte(`{}`),
		Priority:       store.PriorityNormal,
		MaxAttempts:    maxAttempts,
		ScheduledAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("insert job: %v", err)
	}
}

func TestWorker_Run_SucceedsEchoJob(t *testing.T) {
	s := setupTestStore(t)
	insertJob(t, s, "echo", "k1", 3)

	m := lease.New(s, lease.Config{
		WorkerID:          "worker-1",
		BatchSize:         10,
		LeaseDuration:     30 * time.Second,
		HeartbeatFraction: 0.5,
		PollIntervalMin:   10 * time.Millisecond,
		PollIntervalMax:   50 * time.Millisecond,
	})

	w := New(s, m, telemetry.New(), Config{MaxInFlight: 5, GracePeriod: time.Second})
	w.RegisterHandler("echo", Echo)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	stats, err := w.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Succeeded != 1 {
		t.Fatalf("want 1 succeeded, got %+v", stats)
	}
	if w.State() != StateStopped {
		t.Fatalf("want stopped state after Run, got %s", w.State())
	}
}

func TestWorker_Run_HandlerFailureRetries(t *testing.T) {
	s := setupTestStore(t)
	insertJob(t, s, "always_fails", "k1", 5)

	m := lease.New(s, lease.Config{
		WorkerID:        "worker-1",
		BatchSize:       10,
		LeaseDuration:   30 * time.Second,
		PollIntervalMin: 10 * time.Millisecond,
		PollIntervalMax: 50 * time.Millisecond,
	})

	w := New(s, m, telemetry.New(), Config{MaxInFlight: 5, GracePeriod: time.Second})
	w.RegisterHandler("always_fails", func(ctx context.Context, job *store.Job) error {
		return errors.New("boom")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	stats, err := w.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Retried != 1 {
		t.Fatalf("want 1 retried, got %+v", stats)
	}
}

func TestWorker_Run_UnknownJobTypeDeadLettersImmediately(t *testing.T) {
	s := setupTestStore(t)
	insertJob(t, s, "mystery", "k1", 10)

	m := lease.New(s, lease.Config{
		WorkerID:        "worker-1",
		BatchSize:       10,
		LeaseDuration:   30 * time.Second,
		PollIntervalMin: 10 * time.Millisecond,
		PollIntervalMax: 50 * time.Millisecond,
	})

	w := New(s, m, telemetry.New(), Config{MaxInFlight: 5, GracePeriod: time.Second})
	w.RegisterHandler("echo", Echo) // "mystery" is deliberately left unregistered

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	stats, err := w.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.DeadLettered != 1 {
		t.Fatalf("want 1 dead-lettered, got %+v", stats)
	}
}

func TestWorker_Run_NoHandlersIsAnError(t *testing.T) {
	s := setupTestStore(t)
	m := lease.New(s, lease.Config{WorkerID: "worker-1", BatchSize: 1, LeaseDuration: time.Second})
	w := New(s, m, nil, Config{})

	if _, err := w.Run(context.Background()); err == nil {
		t.Fatal("expected an error when no handlers are registered")
	}
}
