// Package pool runs report generation on a fixed set of workers with a
// per-job deadline. A job that blows the deadline gets its context
// cancelled and its worker abandoned: a replacement worker is spawned
// immediately so capacity stays constant, and the stuck worker exits as
// soon as its job finally returns. Remaining workers keep serving
// throughout; there is no autoscaling.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/go-pkgz/lgr"
)

// ErrTimeout reports a job exceeding the pool deadline.
var ErrTimeout = errors.New("job processing timed out")

// Job is a unit of work. Implementations should honor ctx cancellation at
// their internal checkpoints so abandoned workers free up quickly.
type Job func(ctx context.Context) error

// Pool is a fixed-size worker pool.
type Pool struct {
	size    int
	timeout time.Duration
	jobs    chan task

	ctx context.Context // set by Run, parent of all worker lifetimes

	workers   atomic.Int64
	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	replaced  atomic.Int64
	nextID    atomic.Int64
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Size      int   `json:"size"`
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Replaced  int64 `json:"replaced"`
}

type task struct {
	ctx     context.Context
	job     Job
	started chan struct{} // closed when a worker picks the task up
	done    chan error    // buffered, worker delivers at most once
	settled *atomic.Bool  // claimed by exactly one side, CAS decides ownership
}

// New creates a pool of size workers with the given per-job timeout.
// Defaults: 4 workers, 120s timeout.
func New(size int, timeout time.Duration) *Pool {
	if size <= 0 {
		size = 4
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Pool{
		size:    size,
		timeout: timeout,
		jobs:    make(chan task),
	}
}

// Run starts the workers. They live until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	p.ctx = ctx
	for i := 0; i < p.size; i++ {
		go p.worker(ctx, p.nextID.Add(1))
	}
	log.Printf("[INFO] worker pool started, %d workers, %v job timeout", p.size, p.timeout)
}

// Submit hands a job to the pool and blocks until it completes, times out
// or ctx is cancelled. On timeout the job's context is cancelled, the
// worker running it is replaced, and ErrTimeout is returned.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	t := task{
		ctx:     jobCtx,
		job:     job,
		started: make(chan struct{}),
		done:    make(chan error, 1),
		settled: &atomic.Bool{},
	}

	select {
	case p.jobs <- t:
	case <-ctx.Done():
		return fmt.Errorf("job rejected: %w", ctx.Err())
	}

	// deadline counts from the moment a worker picks the job up
	select {
	case <-t.started:
	case <-ctx.Done():
		return fmt.Errorf("job abandoned in queue: %w", ctx.Err())
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case err := <-t.done:
		return err
	case <-timer.C:
		if !t.settled.CompareAndSwap(false, true) {
			// the job finished right at the deadline, take its result
			return <-t.done
		}
		p.replaced.Add(1)
		go p.worker(p.ctx, p.nextID.Add(1))
		log.Printf("[WARN] job exceeded %v deadline, worker replaced", p.timeout)
		return ErrTimeout
	case <-ctx.Done():
		if !t.settled.CompareAndSwap(false, true) {
			return <-t.done
		}
		p.replaced.Add(1)
		go p.worker(p.ctx, p.nextID.Add(1))
		return fmt.Errorf("job cancelled: %w", ctx.Err())
	}
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Size:      p.size,
		Workers:   int(p.workers.Load()),
		Active:    int(p.active.Load()),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Replaced:  p.replaced.Load(),
	}
}

func (p *Pool) worker(ctx context.Context, id int64) {
	p.workers.Add(1)
	defer p.workers.Add(-1)

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-p.jobs:
			close(t.started)
			p.active.Add(1)
			err := runSafe(t.ctx, t.job)
			p.active.Add(-1)

			if err != nil {
				p.failed.Add(1)
			} else {
				p.completed.Add(1)
			}

			if !t.settled.CompareAndSwap(false, true) {
				// the submitter gave up on this job and a replacement took
				// the slot, drop the result and exit to keep the fixed size
				log.Printf("[DEBUG] abandoned worker %d exited", id)
				return
			}
			t.done <- err
		}
	}
}

// runSafe converts a job panic into an error so a bad payload can't take
// out a worker without replacement accounting.
func runSafe(ctx context.Context, job Job) (err error) {
	defer func() {
		if x := recover(); x != nil {
			err = fmt.Errorf("job panic: %v", x)
		}
	}()
	return job(ctx)
}
