package store

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tylerchilds/jobqueue/internal/migrate"
)

// setupTestStore connects to the PostgreSQL instance named by DATABASE_URL, applies the embedded
// migrations, truncates the jobs table, and returns a ready Store. Tests that need a real
// database are skipped when DATABASE_URL is unset so unit-level suites still run without Docker
// or a local Postgres install.
func setupTestStore(t *testing.T) (*Store, *pgxpool.Pool) {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping test requiring a live PostgreSQL instance")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := migrate.Run(ctx, pool); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE jobs`); err != nil {
		t.Fatalf("failed to truncate jobs: %v", err)
	}

	return New(pool), pool
}
