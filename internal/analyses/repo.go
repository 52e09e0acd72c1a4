package analyses

import (
	"context"
	"time"

	"habitat-backend/internal/llm"
)

// Store persists jobs and is the single point of mutation. Every transition
// is one atomic write guarded by the current status; a write from the wrong
// status returns ErrInvalidTransition and leaves the record unchanged.
type Store interface {
	Create(ctx context.Context, job Job) error
	Get(ctx context.Context, jobID string) (Job, error)
	MarkProcessing(ctx context.Context, jobID string) error
	Complete(ctx context.Context, jobID string, result Result, info llm.Info) error
	Fail(ctx context.Context, jobID string, jobErr JobError, info *llm.Info) error
	// ListByStatus returns up to limit jobs in status last updated before cutoff, oldest first.
	ListByStatus(ctx context.Context, status Status, updatedBefore time.Time, limit int) ([]Job, error)
}

// applyTransition mutates job for a transition to status at now. The caller
// has already checked the source state.
func applyTransition(job *Job, to Status, now time.Time) {
	now = now.UTC()
	job.Status = to
	job.UpdatedAt = now
	switch to {
	case StatusProcessing:
		job.StartedAt = &now
	case StatusCompleted, StatusFailed:
		job.CompletedAt = &now
	}
}
