package reaper

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tylerchilds/jobqueue/internal/migrate"
	"github.com/tylerchilds/jobqueue/internal/store"
	"github.com/tylerchilds/jobqueue/internal/telemetry"
)

func setupTestStore(t *testing.T) (*store.Store, *pgxpool.Pool) {
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
	return store.New(pool), pool
}

func TestReaper_Run_ReclaimsExpiredLeaseOnFirstSweep(t *testing.T) {
	s, pool := setupTestStore(t)
	ctx := context.Background()

	job, _, err := s.InsertIfAbsent(ctx, store.Spec{
		TenantID: "t1", IdempotencyKey: "k1", JobType: "echo",
		Payload: []byte(`{}`), Priority: store.PriorityNormal, MaxAttempts: 3, ScheduledAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	jobs, err := s.ClaimBatch(ctx, "worker-1", 10, 50*time.Millisecond, 10)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("claim: %v, %d", err, len(jobs))
	}

	if _, err := pool.Exec(ctx, `UPDATE jobs SET lease_expires_at = now() - interval '1 second' WHERE id = $1`, job.ID); err != nil {
		t.Fatalf("force-expire: %v", err)
	}

	tel := telemetry.New()
	r := New(s, tel, Config{Interval: time.Hour, BatchSize: 10})

	runCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r.Run(runCtx) // sweeps once immediately, then blocks on the hour-long ticker until ctx expires

	got, err := s.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != store.StatusQueued {
		t.Fatalf("want queued after reclaim, got %s", got.Status)
	}
	if tel.Count(telemetry.EventLeaseExpired) != 1 {
		t.Fatalf("want 1 lease_expired telemetry event, got %d", tel.Count(telemetry.EventLeaseExpired))
	}
}
