// Package reaper runs the crash-recovery sweep as its own long-running component: periodically it
// finds jobs whose lease has expired and returns them to queued (or promotes them to dead_letter
// if attempts are exhausted). It is grounded on the teacher's requeueTicker goroutine, generalized
// from a goroutine embedded in the engine into an independently deployable unit, since a single
// active reaper instance suffices for an entire cluster of workers.
package reaper

import (
	"context"
	"log"
	"time"

	"github.com/tylerchilds/jobqueue/internal/store"
	"github.com/tylerchilds/jobqueue/internal/telemetry"
)

// Config parameterizes the sweep loop.
type Config struct {
	Interval  time.Duration
	BatchSize int
}

// Reaper owns the periodic ReclaimExpired sweep.
type Reaper struct {
	store     *store.Store
	telemetry *telemetry.Recorder
	cfg       Config
}

// New constructs a Reaper. tel may be nil.
func New(s *store.Store, tel *telemetry.Recorder, cfg Config) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Reaper{store: s, telemetry: tel, cfg: cfg}
}

// Run sweeps immediately, then on every tick of Interval, until ctx is cancelled. Storage errors
// are retried indefinitely with exponential backoff rather than terminating the sweep, since a
// crashed reaper leaves expired leases stuck until the next one starts.
func (r *Reaper) Run(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = time.Minute

	r.sweepOnce(ctx, &backoff, maxBackoff)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce(ctx, &backoff, maxBackoff)
		}
	}
}

func (r *Reaper) sweepOnce(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) {
	reclaimed, err := r.store.ReclaimExpired(ctx, r.cfg.BatchSize)
	if err != nil {
		log.Printf("reaper: sweep failed: %v", err)
		select {
		case <-ctx.Done():
		case <-time.After(*backoff):
		}
		*backoff *= 2
		if *backoff > maxBackoff {
			*backoff = maxBackoff
		}
		return
	}
	*backoff = time.Second

	for _, job := range reclaimed {
		switch job.Outcome {
		case store.OutcomeRetried:
			r.telemetry.Record(telemetry.EventLeaseExpired, "", job.JobID.String())
		case store.OutcomeDeadLettered:
			r.telemetry.Record(telemetry.EventReclaimedToDeadLetter, "", job.JobID.String())
		}
	}
	if len(reclaimed) > 0 {
		log.Printf("reaper: reclaimed %d expired leases", len(reclaimed))
	}
}
