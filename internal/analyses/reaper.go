package analyses

import (
	"context"
	"errors"
	"fmt"
	"time"

	"habitat-backend/internal/shared/metrics"
	"habitat-backend/internal/shared/telemetry"
)

const (
	defaultReaperInterval = 30 * time.Second
	defaultReaperBatch    = 100
)

// Reaper repairs jobs whose runner disappeared. Jobs processing longer than
// ProcessingTimeout are failed; jobs pending longer than PendingAfter are
// dispatched again.
type Reaper struct {
	Store             Store
	Dispatch          Dispatcher
	Interval          time.Duration
	ProcessingTimeout time.Duration
	PendingAfter      time.Duration
	BatchSize         int

	now func() time.Time
}

// jobHolder is implemented by dispatchers that know which jobs they still hold.
type jobHolder interface {
	Holds(jobID string) bool
}

func (r *Reaper) clock() time.Time {
	if r.now != nil {
		return r.now().UTC()
	}
	return time.Now().UTC()
}

// Run sweeps every Interval until ctx ends.
func (r *Reaper) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = defaultReaperInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				telemetry.Warn("reaper.sweep_failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

// Sweep runs one pass and reports how many jobs were failed and re-dispatched.
func (r *Reaper) Sweep(ctx context.Context) (reaped, redispatched int, err error) {
	limit := r.BatchSize
	if limit <= 0 {
		limit = defaultReaperBatch
	}
	now := r.clock()

	if r.ProcessingTimeout > 0 {
		stale, err := r.Store.ListByStatus(ctx, StatusProcessing, now.Add(-r.ProcessingTimeout), limit)
		if err != nil {
			return 0, 0, fmt.Errorf("list processing: %w", err)
		}
		for _, job := range stale {
			jobErr := JobError{
				Kind:    KindInternal,
				Message: fmt.Sprintf("job abandoned: processing exceeded %s", r.ProcessingTimeout),
			}
			if err := r.Store.Fail(ctx, job.ID, jobErr, job.LLMInfo); err != nil {
				if errors.Is(err, ErrInvalidTransition) {
					continue
				}
				return reaped, redispatched, fmt.Errorf("fail job %s: %w", job.ID, err)
			}
			reaped++
			metrics.IncJobsReaped()
			metrics.IncJobsFailed(string(KindInternal))
			telemetry.Warn("job.status", map[string]any{
				"request_id":        job.RequestID,
				"job_id":            job.ID,
				"status":            StatusFailed,
				"status_transition": "processing->failed",
				"kind":              KindInternal,
				"reason":            "reaped",
			})
		}
	}

	if r.PendingAfter > 0 && r.Dispatch != nil {
		waiting, err := r.Store.ListByStatus(ctx, StatusPending, now.Add(-r.PendingAfter), limit)
		if err != nil {
			return reaped, 0, fmt.Errorf("list pending: %w", err)
		}
		holder, _ := r.Dispatch.(jobHolder)
		for _, job := range waiting {
			if holder != nil && holder.Holds(job.ID) {
				continue
			}
			if err := r.Dispatch.Dispatch(ctx, job.ID, job.RequestID); err != nil {
				return reaped, redispatched, fmt.Errorf("redispatch job %s: %w", job.ID, err)
			}
			redispatched++
			telemetry.Info("job.redispatched", map[string]any{
				"request_id": job.RequestID,
				"job_id":     job.ID,
				"age_ms":     now.Sub(job.CreatedAt).Milliseconds(),
			})
		}
	}
	return reaped, redispatched, nil
}
