// Package lease bridges the store to workers: it owns the claim policy (batch size, poll-interval
// backoff) and the heartbeat loop that keeps a worker's active leases alive. It is structured like
// the teacher's scheduler goroutine — claim a batch, hand it to a channel, loop — generalized from
// a fixed worker-count/batch pair into the full poll-interval and heartbeat surface.
package lease

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/tylerchilds/jobqueue/internal/store"
)

// Config parameterizes the claim and heartbeat loops.
type Config struct {
	WorkerID          string
	BatchSize         int
	LeaseDuration     time.Duration
	HeartbeatFraction float64
	PollIntervalMin   time.Duration
	PollIntervalMax   time.Duration

	TenantConcurrencyLimit int
}

// Manager runs the claim loop and a heartbeat loop against a Store on behalf of one worker
// process.
type Manager struct {
	store *store.Store
	cfg   Config
}

// WorkerID returns the worker identity this Manager claims and heartbeats on behalf of.
func (m *Manager) WorkerID() string {
	return m.cfg.WorkerID
}

// New builds a Manager over store using cfg.
func New(s *store.Store, cfg Config) *Manager {
	if cfg.PollIntervalMin <= 0 {
		cfg.PollIntervalMin = 200 * time.Millisecond
	}
	if cfg.PollIntervalMax <= 0 {
		cfg.PollIntervalMax = 5 * time.Second
	}
	if cfg.HeartbeatFraction <= 0 {
		cfg.HeartbeatFraction = 0.5
	}
	return &Manager{store: s, cfg: cfg}
}

// Claims runs the claim loop until ctx is cancelled, sending each leased batch to the returned
// channel. The channel is closed once the loop exits. Empty claims grow the poll interval up to
// PollIntervalMax; any non-empty claim resets it to PollIntervalMin.
func (m *Manager) Claims(ctx context.Context) <-chan []store.Job {
	out := make(chan []store.Job)

	go func() {
		defer close(out)
		interval := m.cfg.PollIntervalMin

		for {
			if ctx.Err() != nil {
				return
			}

			jobs, err := m.store.ClaimBatch(ctx, m.cfg.WorkerID, m.cfg.BatchSize, m.cfg.LeaseDuration, m.cfg.TenantConcurrencyLimit)
			if err != nil {
				log.Printf("lease: claim batch failed: %v", err)
				if !sleepOrDone(ctx, interval) {
					return
				}
				interval = growInterval(interval, m.cfg.PollIntervalMax)
				continue
			}

			if len(jobs) == 0 {
				if !sleepOrDone(ctx, interval) {
					return
				}
				interval = growInterval(interval, m.cfg.PollIntervalMax)
				continue
			}

			interval = m.cfg.PollIntervalMin
			select {
			case <-ctx.Done():
				return
			case out <- jobs:
			}
		}
	}()

	return out
}

func growInterval(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Heartbeat runs until stop is closed, extending jobID's lease to now+LeaseDuration every tick
// (tick = (1 - HeartbeatFraction) * LeaseDuration), so each renewal happens once the remaining
// lease has dropped to about HeartbeatFraction * LeaseDuration. If an extension reports the lease
// was lost, it calls onLost (which may be nil) and returns immediately; the worker must then
// abandon the job and not ack it.
func (m *Manager) Heartbeat(ctx context.Context, jobID uuid.UUID, stop <-chan struct{}, onLost func()) {
	tick := time.Duration(float64(m.cfg.LeaseDuration) * (1 - m.cfg.HeartbeatFraction))
	if tick <= 0 {
		tick = m.cfg.LeaseDuration / 2
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			ok, err := m.store.ExtendLease(ctx, jobID, m.cfg.WorkerID, m.cfg.LeaseDuration)
			if err != nil {
				log.Printf("lease: heartbeat extend failed for job %s: %v", jobID, err)
				continue
			}
			if !ok {
				if onLost != nil {
					onLost()
				}
				return
			}
		}
	}
}
