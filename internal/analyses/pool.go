package analyses

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	"habitat-backend/internal/shared/metrics"
	"habitat-backend/internal/shared/telemetry"
)

var ErrPoolClosed = errors.New("worker pool closed")

const defaultMaxInFlight = 8

// RunFunc processes one job id.
type RunFunc func(ctx context.Context, jobID string) error

// Pool runs jobs in their own goroutines with at most MaxInFlight executing
// at once. Jobs waiting for a slot hold no resources beyond their goroutine.
type Pool struct {
	sem *semaphore.Weighted
	run RunFunc

	mu     sync.Mutex
	closed bool
	held   map[string]struct{}
	wg     sync.WaitGroup

	// waiters is cancelled when a drain times out so queued jobs give up
	// their slot request; those jobs stay pending.
	waiters context.Context
	abort   context.CancelFunc
}

// NewPool returns a pool bounded to maxInFlight concurrent jobs.
func NewPool(maxInFlight int, run RunFunc) *Pool {
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:     semaphore.NewWeighted(int64(maxInFlight)),
		run:     run,
		held:    map[string]struct{}{},
		waiters: ctx,
		abort:   cancel,
	}
}

// Dispatch schedules jobID and returns immediately. A job already queued or
// running in this pool is not scheduled twice.
func (p *Pool) Dispatch(ctx context.Context, jobID, requestID string) error {
	added, err := p.hold(jobID)
	if err != nil || !added {
		return err
	}
	go func() {
		defer p.wg.Done()
		defer p.release(jobID)
		if err := p.sem.Acquire(p.waiters, 1); err != nil {
			return
		}
		p.execute(requestID, func(runCtx context.Context) {
			if err := p.run(runCtx, jobID); err != nil {
				telemetry.Error("job.run_failed", map[string]any{
					"request_id": requestID,
					"job_id":     jobID,
					"error":      err.Error(),
				})
			}
		})
	}()
	return nil
}

// Go blocks until a slot is free or ctx ends, then runs fn in its own
// goroutine. Consumers use it for backpressure.
func (p *Pool) Go(ctx context.Context, requestID string, fn func(ctx context.Context)) error {
	if err := p.reserve(); err != nil {
		return err
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.wg.Done()
		return err
	}
	go func() {
		defer p.wg.Done()
		p.execute(requestID, fn)
	}()
	return nil
}

// Holds reports whether jobID is queued or running in this pool.
func (p *Pool) Holds(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.held[jobID]
	return ok
}

// Held returns the number of jobs queued or running.
func (p *Pool) Held() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.held)
}

func (p *Pool) hold(jobID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false, ErrPoolClosed
	}
	if _, ok := p.held[jobID]; ok {
		return false, nil
	}
	p.held[jobID] = struct{}{}
	p.wg.Add(1)
	return true, nil
}

func (p *Pool) release(jobID string) {
	p.mu.Lock()
	delete(p.held, jobID)
	p.mu.Unlock()
}

func (p *Pool) reserve() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.wg.Add(1)
	return nil
}

// execute runs fn holding an acquired slot. Jobs are detached from the
// submitting request so they outlive it.
func (p *Pool) execute(requestID string, fn func(ctx context.Context)) {
	defer p.sem.Release(1)
	metrics.AddInFlight(1)
	defer metrics.AddInFlight(-1)
	defer func() {
		if r := recover(); r != nil {
			telemetry.Error("panic", map[string]any{"request_id": requestID, "panic": r})
		}
	}()
	fn(withRequestID(context.Background(), requestID))
}

// Shutdown stops accepting jobs and waits for scheduled ones until ctx ends.
// On timeout, jobs still waiting for a slot are abandoned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.abort()
		return nil
	case <-ctx.Done():
		p.abort()
		return ctx.Err()
	}
}
