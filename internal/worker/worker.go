// Package worker runs the long-lived job processor: it pulls leased batches from a
// lease.Manager, dispatches each job to a registered Handler, and acknowledges or fails the
// result back through the store. Concurrency is capped by a concurrency.Limiter and shutdown is
// signal-driven, both modeled on the teacher's engine worker loop and cmd/eve's signal-handling
// block.
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tylerchilds/jobqueue/internal/concurrency"
	"github.com/tylerchilds/jobqueue/internal/lease"
	"github.com/tylerchilds/jobqueue/internal/store"
	"github.com/tylerchilds/jobqueue/internal/telemetry"
)

// Handler processes a single job's payload. Returning an error causes the job to be retried (up
// to max_attempts) or dead-lettered, per store.AckFailure's policy.
type Handler func(ctx context.Context, job *store.Job) error

// State is the worker's lifecycle phase.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config parameterizes a Worker.
type Config struct {
	MaxInFlight int
	GracePeriod time.Duration
}

// Stats summarizes one Run's outcomes, mirroring the teacher's engine.Stats shape generalized
// with a DeadLettered counter for the UnknownHandler/exhaustion paths.
type Stats struct {
	Succeeded    int
	Retried      int
	DeadLettered int
	LeaseLost    int
}

// Worker dispatches leased jobs from a lease.Manager to registered handlers.
type Worker struct {
	store     *store.Store
	leaseMgr  *lease.Manager
	telemetry *telemetry.Recorder
	cfg       Config

	handlers map[string]Handler

	mu    sync.Mutex
	state State
}

// New constructs a Worker. tel may be nil.
func New(s *store.Store, leaseMgr *lease.Manager, tel *telemetry.Recorder, cfg Config) *Worker {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 10
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 30 * time.Second
	}
	return &Worker{
		store:     s,
		leaseMgr:  leaseMgr,
		telemetry: tel,
		cfg:       cfg,
		handlers:  make(map[string]Handler),
		state:     StateStarting,
	}
}

// RegisterHandler binds jobType to handler. Call before Run.
func (w *Worker) RegisterHandler(jobType string, handler Handler) {
	w.handlers[jobType] = handler
}

// State returns the worker's current lifecycle phase.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Run processes leased jobs until ctx is cancelled, then drains in-flight work for up to
// GracePeriod before returning. It blocks until every in-flight job has finished or the grace
// period elapses.
func (w *Worker) Run(ctx context.Context) (*Stats, error) {
	if len(w.handlers) == 0 {
		return nil, fmt.Errorf("worker: no handlers registered")
	}

	stats := &Stats{}
	var statsMu sync.Mutex
	sem := concurrency.NewLimiter(w.cfg.MaxInFlight)

	w.setState(StateRunning)

	var wg sync.WaitGroup
	claims := w.leaseMgr.Claims(ctx)

	for jobs := range claims {
		for _, job := range jobs {
			job := job
			if err := sem.Acquire(ctx); err != nil {
				// Context cancelled mid-dispatch; stop accepting new work and drain below.
				break
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer sem.Release()
				w.process(ctx, &job, stats, &statsMu)
			}()
		}
	}

	w.setState(StateDraining)

	drainCtx, cancel := context.WithTimeout(context.Background(), w.cfg.GracePeriod)
	defer cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-drainCtx.Done():
		log.Printf("worker: grace period exceeded, some in-flight jobs may not have finished")
	}

	w.setState(StateStopped)
	return stats, nil
}

func (w *Worker) process(ctx context.Context, job *store.Job, stats *Stats, statsMu *sync.Mutex) {
	handler, ok := w.handlers[job.JobType]
	if !ok {
		log.Printf("worker: no handler for job type %q (job %s), dead-lettering", job.JobType, job.ID)
		w.telemetry.Record(telemetry.EventUnknownJobType, job.TenantID, job.JobType)
		if _, err := w.store.AckFailureFatal(ctx, job.ID, w.leaseWorkerID(), "no handler for job type: "+job.JobType); err != nil {
			log.Printf("worker: failed to dead-letter job %s: %v", job.ID, err)
		}
		statsMu.Lock()
		stats.DeadLettered++
		statsMu.Unlock()
		return
	}

	handlerCtx, cancelHandler := context.WithCancel(ctx)
	defer cancelHandler()

	stop := make(chan struct{})
	leaseLost := false
	var leaseLostMu sync.Mutex
	go w.leaseMgr.Heartbeat(ctx, job.ID, stop, func() {
		leaseLostMu.Lock()
		leaseLost = true
		leaseLostMu.Unlock()
		// Lease loss means another worker may already be executing this job; cancel the
		// in-flight handler invocation's context per spec.md §4.3 step 2 / §5.
		cancelHandler()
	})

	err := handler(handlerCtx, job)
	close(stop)

	leaseLostMu.Lock()
	lost := leaseLost
	leaseLostMu.Unlock()
	if lost {
		w.telemetry.Record(telemetry.EventAtLeastOnceWarning, job.TenantID, job.ID.String())
		statsMu.Lock()
		stats.LeaseLost++
		statsMu.Unlock()
		return
	}

	if err != nil {
		outcome, ackErr := w.store.AckFailure(ctx, job.ID, w.leaseWorkerID(), err.Error(), store.DefaultRetryPolicy())
		if ackErr != nil {
			log.Printf("worker: failed to record failure for job %s: %v", job.ID, ackErr)
			return
		}
		statsMu.Lock()
		switch outcome {
		case store.OutcomeDeadLettered:
			stats.DeadLettered++
		case store.OutcomeLeaseLost:
			stats.LeaseLost++
			w.telemetry.Record(telemetry.EventAtLeastOnceWarning, job.TenantID, job.ID.String())
		default:
			stats.Retried++
		}
		statsMu.Unlock()
		return
	}

	ok2, ackErr := w.store.AckSuccess(ctx, job.ID, w.leaseWorkerID())
	if ackErr != nil {
		log.Printf("worker: failed to ack job %s: %v", job.ID, ackErr)
		return
	}
	statsMu.Lock()
	if ok2 {
		stats.Succeeded++
	} else {
		stats.LeaseLost++
		w.telemetry.Record(telemetry.EventAtLeastOnceWarning, job.TenantID, job.ID.String())
	}
	statsMu.Unlock()
}

func (w *Worker) leaseWorkerID() string {
	return w.leaseMgr.WorkerID()
}

// Echo is the built-in smoke-test handler: it unmarshals nothing and always succeeds, used for
// local testing the same way the teacher ships FakeJobHandler.
func Echo(ctx context.Context, job *store.Job) error {
	return nil
}
