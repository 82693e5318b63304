// Package store implements the durable, transactional persistence layer for the job queue. It
// owns the jobs table exclusively: every other component reads and mutates job rows only through
// the operations exposed here, and each operation is a single database transaction.
package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Status is one of the persisted job states. "failed" from the spec's state set is transient and
// never observed outside a single AckFailure/ReclaimExpired transaction, so it has no constant
// here.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusLeased     Status = "leased"
	StatusRunning    Status = "running"
	StatusSucceeded  Status = "succeeded"
	StatusDeadLetter Status = "dead_letter"
)

// Priority is the claim-ordering tier a job is submitted at.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Weight returns the integer sort key used purely for claim ordering; it never preempts running
// work.
func (p Priority) Weight() int {
	switch p {
	case PriorityCritical:
		return 100
	case PriorityHigh:
		return 10
	case PriorityLow:
		return 1
	default:
		return 5
	}
}

// Valid reports whether p is one of the four recognized priority tiers.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	default:
		return false
	}
}

// Error kinds. Callers should compare with errors.Is. Driver failures are returned wrapping
// ErrStorageUnavailable with %w; the driver error itself is only included in the message text.
var (
	ErrStorageUnavailable = errors.New("store: storage unavailable")
	ErrLeaseLost          = errors.New("store: lease lost")
	ErrInvalidState       = errors.New("store: invalid state for operation")
)

// Job is the central entity. Field names mirror spec.md §3 verbatim.
type Job struct {
	ID             uuid.UUID
	TenantID       string
	IdempotencyKey string
	JobType        string
	Payload        []byte // JSON-shaped, opaque to the store beyond job_type extraction at submit time
	Status         Status
	Priority       Priority
	Attempt        int
	MaxAttempts    int
	ScheduledAt    time.Time
	LeaseOwner     *string
	LeaseExpiresAt *time.Time
	LastError      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// MaxLastErrorBytes bounds the stored failure message, per spec.md §3.
const MaxLastErrorBytes = 2048

func truncateError(msg string) string {
	if len(msg) <= MaxLastErrorBytes {
		return msg
	}
	return msg[:MaxLastErrorBytes]
}

// Store wraps a pgx connection pool. It holds no other state; callers own pool lifecycle.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pool. Use Open to build the pool from a DSN.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open parses dsn and establishes a pool sized per maxConns/minConns (0 leaves pgx's defaults).
func Open(ctx context.Context, dsn string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return pool, nil
}

const jobColumns = `id, tenant_id, idempotency_key, job_type, payload, status, priority,
	priority_weight, attempt, max_attempts, scheduled_at, lease_owner, lease_expires_at,
	last_error, created_at, updated_at, completed_at`

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	var priorityWeight int
	err := row.Scan(
		&j.ID, &j.TenantID, &j.IdempotencyKey, &j.JobType, &j.Payload, &j.Status, &j.Priority,
		&priorityWeight, &j.Attempt, &j.MaxAttempts, &j.ScheduledAt, &j.LeaseOwner,
		&j.LeaseExpiresAt, &j.LastError, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func wrapStorageErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

// Spec is the caller-supplied shape of a new job, as validated by the Submitter.
type Spec struct {
	TenantID       string
	IdempotencyKey string
	JobType        string
	Payload        []byte
	Priority       Priority
	MaxAttempts    int
	ScheduledAt    time.Time
}

// InsertIfAbsent inserts a new row with the given fields. If a row with the same
// (tenant_id, idempotency_key) already exists, it is returned unchanged with created=false; no
// duplicate-key error is ever visible to the caller (invariant §3.1).
func (s *Store) InsertIfAbsent(ctx context.Context, spec Spec) (job *Job, created bool, err error) {
	id := uuid.New()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (
			id, tenant_id, idempotency_key, job_type, payload, status, priority,
			priority_weight, attempt, max_attempts, scheduled_at
		) VALUES ($1, $2, $3, $4, $5, 'queued', $6, $7, 0, $8, $9)
		ON CONFLICT (tenant_id, idempotency_key) DO NOTHING
		RETURNING `+jobColumns,
		id, spec.TenantID, spec.IdempotencyKey, spec.JobType, spec.Payload, spec.Priority,
		spec.Priority.Weight(), spec.MaxAttempts, spec.ScheduledAt,
	)
	j, err := scanJob(row)
	if err == nil {
		return j, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, wrapStorageErr(err)
	}

	// ON CONFLICT DO NOTHING produced no row: the (tenant, key) pair already exists. Fetch it.
	existing, err := s.getByTenantKey(ctx, spec.TenantID, spec.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *Store) getByTenantKey(ctx context.Context, tenantID, key string) (*Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE tenant_id = $1 AND idempotency_key = $2`,
		tenantID, key,
	)
	j, err := scanJob(row)
	if err != nil {
		return nil, wrapStorageErr(err)
	}
	return j, nil
}

// Get returns a job by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: job %s not found", ErrInvalidState, id)
	}
	if err != nil {
		return nil, wrapStorageErr(err)
	}
	return j, nil
}

// ListFilter narrows List to a tenant and/or status; zero values mean "any".
type ListFilter struct {
	TenantID string
	Status   Status
}

// List returns jobs matching filter, newest first, paginated by limit/offset.
func (s *Store) List(ctx context.Context, filter ListFilter, limit, offset int) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []any{}
	argN := 1
	if filter.TenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", argN)
		args = append(args, filter.TenantID)
		argN++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, filter.Status)
		argN++
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argN)
		args = append(args, limit)
		argN++
	}
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argN)
		args = append(args, offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapStorageErr(err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, wrapStorageErr(err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, wrapStorageErr(rows.Err())
}

// ClaimBatch is the hot path described in spec.md §4.1. In a single transaction it selects up to
// batchSize*overscan queued, eligible candidates ordered by (priority_weight DESC,
// scheduled_at ASC) with FOR UPDATE SKIP LOCKED, discards candidates whose tenant is already at
// tenantConcurrencyLimit in-flight jobs, and leases the first batchSize survivors.
func (s *Store) ClaimBatch(ctx context.Context, workerID string, batchSize int, leaseDuration time.Duration, tenantConcurrencyLimit int) ([]Job, error) {
	if batchSize <= 0 {
		return nil, nil
	}
	const overscan = 3

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, wrapStorageErr(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = 'queued' AND scheduled_at <= now()
		ORDER BY priority_weight DESC, scheduled_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, batchSize*overscan)
	if err != nil {
		return nil, wrapStorageErr(err)
	}

	var candidates []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, wrapStorageErr(err)
		}
		candidates = append(candidates, *j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrapStorageErr(err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	// Per-tenant concurrency: count in-flight {leased, running} jobs for every tenant appearing
	// among the candidates in one grouped query (spec.md §9's Open Question permits this
	// coalesced form in place of a per-candidate check).
	tenantSet := map[string]struct{}{}
	for _, c := range candidates {
		tenantSet[c.TenantID] = struct{}{}
	}
	tenants := make([]string, 0, len(tenantSet))
	for t := range tenantSet {
		tenants = append(tenants, t)
	}

	inFlight := map[string]int{}
	if tenantConcurrencyLimit > 0 {
		rows, err := tx.Query(ctx, `
			SELECT tenant_id, count(*) FROM jobs
			WHERE tenant_id = ANY($1) AND status IN ('leased', 'running')
			GROUP BY tenant_id
		`, tenants)
		if err != nil {
			return nil, wrapStorageErr(err)
		}
		for rows.Next() {
			var tenantID string
			var n int
			if err := rows.Scan(&tenantID, &n); err != nil {
				rows.Close()
				return nil, wrapStorageErr(err)
			}
			inFlight[tenantID] = n
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, wrapStorageErr(err)
		}
	}

	var claimed []Job
	var claimedIDs []uuid.UUID
	for _, c := range candidates {
		if len(claimed) >= batchSize {
			break
		}
		if tenantConcurrencyLimit > 0 && inFlight[c.TenantID] >= tenantConcurrencyLimit {
			continue
		}
		inFlight[c.TenantID]++
		claimed = append(claimed, c)
		claimedIDs = append(claimedIDs, c.ID)
	}
	if len(claimed) == 0 {
		if err := tx.Commit(ctx); err != nil {
			return nil, wrapStorageErr(err)
		}
		return nil, nil
	}

	rows, err = tx.Query(ctx, `
		UPDATE jobs SET
			status = 'leased',
			lease_owner = $1,
			lease_expires_at = now() + $2::interval,
			attempt = attempt + 1,
			updated_at = now()
		WHERE id = ANY($3)
		RETURNING `+jobColumns,
		workerID, intervalLiteral(leaseDuration), claimedIDs,
	)
	if err != nil {
		return nil, wrapStorageErr(err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]Job, len(claimed))
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, wrapStorageErr(err)
		}
		byID[j.ID] = *j
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorageErr(err)
	}
	rows.Close()

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapStorageErr(err)
	}

	// Preserve the claim-ordering guarantee from spec.md §4.1 in the returned slice.
	ordered := make([]Job, 0, len(claimedIDs))
	for _, id := range claimedIDs {
		ordered = append(ordered, byID[id])
	}
	return ordered, nil
}

// intervalLiteral formats a Duration as a Postgres interval string; Go's "5m0s" is not valid
// Postgres syntax, but "300 seconds" is unambiguous.
func intervalLiteral(d time.Duration) string {
	return fmt.Sprintf("%f seconds", d.Seconds())
}

// ExtendLease sets lease_expires_at to now()+extension iff the row is still held by workerID and
// not yet expired. Returns false if the lease was lost to expiry or reassignment.
func (s *Store) ExtendLease(ctx context.Context, id uuid.UUID, workerID string, extension time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET lease_expires_at = now() + $1::interval, updated_at = now()
		WHERE id = $2 AND status IN ('leased', 'running')
		  AND lease_owner = $3 AND lease_expires_at > now()
	`, intervalLiteral(extension), id, workerID)
	if err != nil {
		return false, wrapStorageErr(err)
	}
	return tag.RowsAffected() > 0, nil
}

// AckSuccess transitions running/leased -> succeeded, guarded by lease ownership. False means the
// lease was lost; the worker must treat the job as potentially re-executed by someone else.
func (s *Store) AckSuccess(ctx context.Context, id uuid.UUID, workerID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			status = 'succeeded',
			completed_at = now(),
			lease_owner = NULL,
			lease_expires_at = NULL,
			updated_at = now()
		WHERE id = $1 AND status IN ('leased', 'running')
		  AND lease_owner = $2 AND lease_expires_at > now()
	`, id, workerID)
	if err != nil {
		return false, wrapStorageErr(err)
	}
	return tag.RowsAffected() > 0, nil
}

// Outcome is the result of AckFailure or a single ReclaimExpired row.
type Outcome int

const (
	OutcomeRetried Outcome = iota
	OutcomeDeadLettered
	OutcomeLeaseLost
)

// RetryPolicy parameterizes the exponential backoff applied on retryable failure.
type RetryPolicy struct {
	Base time.Duration
	Cap  time.Duration
}

// DefaultRetryPolicy matches spec.md §4.1's defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: 5 * time.Second, Cap: 10 * time.Minute}
}

// Backoff computes backoff(attempt, policy) = min(cap, base*2^(attempt-1)) * (1+jitter),
// jitter in [0, 0.1) uniform, per spec.md §4.1. attempt must be >= 1.
func Backoff(attempt int, policy RetryPolicy) time.Duration {
	return backoffWithRand(attempt, policy, rand.Float64)
}

func backoffWithRand(attempt int, policy RetryPolicy, randFloat func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := policy.Base
	cap_ := policy.Cap
	if base <= 0 {
		base = 5 * time.Second
	}
	if cap_ <= 0 {
		cap_ = 10 * time.Minute
	}

	// 2^(attempt-1), capped before it can overflow a shift.
	shift := attempt - 1
	if shift > 62 {
		shift = 62
	}
	scaled := base * time.Duration(1<<uint(shift))
	if scaled > cap_ || scaled < 0 /* overflow */ {
		scaled = cap_
	}

	jitter := 1 + randFloat()*0.1
	return time.Duration(float64(scaled) * jitter)
}

// AckFailure is the guarded failure path. With the lease guard satisfied it either re-queues the
// job with backoff (attempt < max_attempts) or promotes it to dead_letter (attempt == max_attempts
// after this failure). Guard failure returns OutcomeLeaseLost and never mutates the row.
func (s *Store) AckFailure(ctx context.Context, id uuid.UUID, workerID, errMsg string, policy RetryPolicy) (Outcome, error) {
	errMsg = truncateError(errMsg)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return OutcomeLeaseLost, wrapStorageErr(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var attempt, maxAttempts int
	err = tx.QueryRow(ctx, `
		SELECT attempt, max_attempts FROM jobs
		WHERE id = $1 AND status IN ('leased', 'running')
		  AND lease_owner = $2 AND lease_expires_at > now()
		FOR UPDATE
	`, id, workerID).Scan(&attempt, &maxAttempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return OutcomeLeaseLost, nil
	}
	if err != nil {
		return OutcomeLeaseLost, wrapStorageErr(err)
	}

	var outcome Outcome
	if attempt < maxAttempts {
		delay := Backoff(attempt, policy)
		_, err = tx.Exec(ctx, `
			UPDATE jobs SET
				status = 'queued',
				scheduled_at = now() + $1::interval,
				lease_owner = NULL,
				lease_expires_at = NULL,
				last_error = $2,
				updated_at = now()
			WHERE id = $3
		`, intervalLiteral(delay), errMsg, id)
		outcome = OutcomeRetried
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE jobs SET
				status = 'dead_letter',
				completed_at = now(),
				lease_owner = NULL,
				lease_expires_at = NULL,
				last_error = $1,
				updated_at = now()
			WHERE id = $2
		`, errMsg, id)
		outcome = OutcomeDeadLettered
	}
	if err != nil {
		return OutcomeLeaseLost, wrapStorageErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return OutcomeLeaseLost, wrapStorageErr(err)
	}
	return outcome, nil
}

// AckFailureFatal dead-letters id unconditionally, regardless of remaining attempts, for terminal
// failures the retry policy should never apply to (an unrecognized job_type). attempt is forced to
// max_attempts so the dead_letter row satisfies spec.md §3 invariant 5
// (status = dead_letter => attempt = max_attempts), per §4.3 step 5's "bypass retries by setting
// attempt = max_attempts before ack". Guarded by lease ownership exactly like AckFailure; returns
// false if the lease was already lost.
func (s *Store) AckFailureFatal(ctx context.Context, id uuid.UUID, workerID, errMsg string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			status = 'dead_letter',
			attempt = max_attempts,
			completed_at = now(),
			lease_owner = NULL,
			lease_expires_at = NULL,
			last_error = $1,
			updated_at = now()
		WHERE id = $2 AND status IN ('leased', 'running')
		  AND lease_owner = $3 AND lease_expires_at > now()
	`, truncateError(errMsg), id, workerID)
	if err != nil {
		return false, wrapStorageErr(err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReclaimedJob reports what happened to one expired-lease row during ReclaimExpired.
type ReclaimedJob struct {
	JobID   uuid.UUID
	Outcome Outcome // OutcomeRetried (-> queued) or OutcomeDeadLettered
}

// ReclaimExpired finds up to maxBatch rows with an expired lease and either returns them to queued
// (immediately retryable, attempt < max_attempts) or dead-letters them (attempts exhausted). This
// is the only path by which a lease expires in state; without it crashed workers leave jobs stuck
// in leased/running forever.
func (s *Store) ReclaimExpired(ctx context.Context, maxBatch int) ([]ReclaimedJob, error) {
	if maxBatch <= 0 {
		maxBatch = 100
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, wrapStorageErr(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx, `
		SELECT id FROM jobs
		WHERE status IN ('leased', 'running') AND lease_expires_at <= now()
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, maxBatch)
	if err != nil {
		return nil, wrapStorageErr(err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, wrapStorageErr(err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrapStorageErr(err)
	}
	if len(ids) == 0 {
		return nil, tx.Commit(ctx)
	}

	retryRows, err := tx.Query(ctx, `
		UPDATE jobs SET
			status = 'queued',
			scheduled_at = now(),
			lease_owner = NULL,
			lease_expires_at = NULL,
			updated_at = now()
		WHERE id = ANY($1) AND attempt < max_attempts
		RETURNING id
	`, ids)
	if err != nil {
		return nil, wrapStorageErr(err)
	}
	retried := map[uuid.UUID]bool{}
	for retryRows.Next() {
		var id uuid.UUID
		if err := retryRows.Scan(&id); err != nil {
			retryRows.Close()
			return nil, wrapStorageErr(err)
		}
		retried[id] = true
	}
	retryRows.Close()
	if err := retryRows.Err(); err != nil {
		return nil, wrapStorageErr(err)
	}

	deadIDs := make([]uuid.UUID, 0, len(ids)-len(retried))
	for _, id := range ids {
		if !retried[id] {
			deadIDs = append(deadIDs, id)
		}
	}
	if len(deadIDs) > 0 {
		_, err = tx.Exec(ctx, `
			UPDATE jobs SET
				status = 'dead_letter',
				completed_at = now(),
				lease_owner = NULL,
				lease_expires_at = NULL,
				last_error = COALESCE(last_error, 'lease expired: attempts exhausted'),
				updated_at = now()
			WHERE id = ANY($1)
		`, deadIDs)
		if err != nil {
			return nil, wrapStorageErr(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapStorageErr(err)
	}

	result := make([]ReclaimedJob, 0, len(ids))
	for _, id := range ids {
		outcome := OutcomeDeadLettered
		if retried[id] {
			outcome = OutcomeRetried
		}
		result = append(result, ReclaimedJob{JobID: id, Outcome: outcome})
	}
	return result, nil
}

// ReviveFromDeadLetter transitions dead_letter -> queued. If resetAttempts, attempt is zeroed.
// Fails with ErrInvalidState if the job is not currently dead_letter.
func (s *Store) ReviveFromDeadLetter(ctx context.Context, id uuid.UUID, resetAttempts bool) (*Job, error) {
	var row pgx.Row
	if resetAttempts {
		row = s.pool.QueryRow(ctx, `
			UPDATE jobs SET
				status = 'queued',
				attempt = 0,
				scheduled_at = now(),
				last_error = NULL,
				updated_at = now()
			WHERE id = $1 AND status = 'dead_letter'
			RETURNING `+jobColumns, id)
	} else {
		row = s.pool.QueryRow(ctx, `
			UPDATE jobs SET
				status = 'queued',
				scheduled_at = now(),
				last_error = NULL,
				updated_at = now()
			WHERE id = $1 AND status = 'dead_letter'
			RETURNING `+jobColumns, id)
	}
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: job %s is not in dead_letter", ErrInvalidState, id)
	}
	if err != nil {
		return nil, wrapStorageErr(err)
	}
	return j, nil
}

// CountsByState is a cheap observability read, optionally scoped to one tenant.
func (s *Store) CountsByState(ctx context.Context, tenantID string) (map[Status]int, error) {
	query := `SELECT status, count(*) FROM jobs`
	var args []any
	if tenantID != "" {
		query += ` WHERE tenant_id = $1`
		args = append(args, tenantID)
	}
	query += ` GROUP BY status`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapStorageErr(err)
	}
	defer rows.Close()

	counts := map[Status]int{}
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, wrapStorageErr(err)
		}
		counts[status] = n
	}
	return counts, wrapStorageErr(rows.Err())
}
