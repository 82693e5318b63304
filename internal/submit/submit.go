// Package submit validates incoming job submissions, enforces per-tenant rate limiting, and
// persists the result through the store's idempotent insert, mirroring the teacher's
// validate-then-enqueue shape in queue.Enqueue.
package submit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tylerchilds/jobqueue/internal/ratelimit"
	"github.com/tylerchilds/jobqueue/internal/store"
	"github.com/tylerchilds/jobqueue/internal/telemetry"
)

// ErrInvalidInput is returned for any request that fails validation; no row is created.
var ErrInvalidInput = errors.New("submit: invalid input")

// ErrRateLimited is returned when the tenant's token bucket is exhausted; no row is created.
var ErrRateLimited = errors.New("submit: rate limited")

// RateLimitedError carries the caller's retry-after hint alongside ErrRateLimited, per spec.md
// §5's rate-limited response contract. errors.Is(err, ErrRateLimited) still matches it.
type RateLimitedError struct {
	TenantID   string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("submit: rate limited: tenant %s, retry after %s", e.TenantID, e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// Request is the caller-facing shape of a new job submission.
type Request struct {
	TenantID       string
	IdempotencyKey string
	JobType        string
	Payload        json.RawMessage
	Priority       store.Priority
	MaxAttempts    int
	ScheduledAt    time.Time // zero means "now"
}

// Submitter validates and persists submissions.
type Submitter struct {
	store     *store.Store
	limiter   *ratelimit.Limiter
	telemetry *telemetry.Recorder
}

// New constructs a Submitter. limiter may be nil, which disables rate limiting entirely.
func New(s *store.Store, limiter *ratelimit.Limiter) *Submitter {
	return &Submitter{store: s, limiter: limiter}
}

// WithTelemetry attaches a recorder used to record the rate_limited event on every rejection and
// returns the Submitter for chaining. A nil recorder is a valid no-op sink.
func (s *Submitter) WithTelemetry(tel *telemetry.Recorder) *Submitter {
	s.telemetry = tel
	return s
}

// Submit validates req, consults the rate limiter, then calls InsertIfAbsent. A duplicate
// (tenant_id, idempotency_key) that passes validation and the rate limiter returns the existing
// row with created=false, never a duplicate-key error, regardless of how req's other fields differ
// from the original submission. Validation and rate limiting apply to duplicates as to new
// submissions, so a duplicate can still be rejected with ErrInvalidInput or ErrRateLimited.
func (s *Submitter) Submit(ctx context.Context, req Request) (job *store.Job, created bool, err error) {
	if err := validate(req); err != nil {
		return nil, false, err
	}

	if s.limiter != nil {
		if allowed, retryAfter := s.limiter.AllowWithRetry(req.TenantID); !allowed {
			s.telemetry.Record(telemetry.EventRateLimited, req.TenantID, req.IdempotencyKey)
			return nil, false, &RateLimitedError{TenantID: req.TenantID, RetryAfter: retryAfter}
		}
	}

	scheduledAt := req.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = time.Now()
	}

	return s.store.InsertIfAbsent(ctx, store.Spec{
		TenantID:       req.TenantID,
		IdempotencyKey: req.IdempotencyKey,
		JobType:        req.JobType,
		Payload:        req.Payload,
		Priority:       req.Priority,
		MaxAttempts:    req.MaxAttempts,
		ScheduledAt:    scheduledAt,
	})
}

func validate(req Request) error {
	if req.TenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	if req.IdempotencyKey == "" {
		return fmt.Errorf("%w: idempotency_key is required", ErrInvalidInput)
	}
	if req.JobType == "" {
		return fmt.Errorf("%w: job_type is required", ErrInvalidInput)
	}
	if len(req.Payload) == 0 || !json.Valid(req.Payload) {
		return fmt.Errorf("%w: payload must be valid JSON", ErrInvalidInput)
	}
	if !req.Priority.Valid() {
		return fmt.Errorf("%w: priority %q is not recognized", ErrInvalidInput, req.Priority)
	}
	if req.MaxAttempts < 1 || req.MaxAttempts > 100 {
		return fmt.Errorf("%w: max_attempts must be between 1 and 100", ErrInvalidInput)
	}
	return nil
}
