package analyses

import (
	"context"
	"sort"
	"sync"
	"time"

	"habitat-backend/internal/llm"
)

// MemoryStore keeps jobs in memory and is safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]Job
	now  func() time.Time
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[string]Job),
		now:  time.Now,
	}
}

// Create stores a new pending job.
func (s *MemoryStore) Create(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if job.ID == "" || job.Status != StatusPending {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[job.ID]; exists {
		return ErrInvalidInput
	}
	s.byID[job.ID] = job.Clone()
	return nil
}

// Get returns a copy of the latest committed job.
func (s *MemoryStore) Get(ctx context.Context, jobID string) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.byID[jobID]
	if !ok {
		return Job{}, ErrNotFound
	}
	return job.Clone(), nil
}

// MarkProcessing moves a pending job to processing.
func (s *MemoryStore) MarkProcessing(ctx context.Context, jobID string) error {
	return s.transition(ctx, jobID, StatusProcessing, nil)
}

// Complete stores the result of a processing job.
func (s *MemoryStore) Complete(ctx context.Context, jobID string, result Result, info llm.Info) error {
	return s.transition(ctx, jobID, StatusCompleted, func(job *Job) {
		r := result
		r.Fields = cloneFields(result.Fields)
		job.Result = &r
		job.SchemaVersion = result.SchemaVersion
		job.LLMInfo = &info
	})
}

// Fail stores the terminal error of a processing job.
func (s *MemoryStore) Fail(ctx context.Context, jobID string, jobErr JobError, info *llm.Info) error {
	return s.transition(ctx, jobID, StatusFailed, func(job *Job) {
		e := jobErr
		job.Error = &e
		if info != nil {
			i := *info
			job.LLMInfo = &i
		}
	})
}

func (s *MemoryStore) transition(ctx context.Context, jobID string, to Status, mutate func(*Job)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.byID[jobID]
	if !ok {
		return ErrNotFound
	}
	if !transitionAllowed(job.Status, to) {
		return &TransitionError{ID: jobID, From: job.Status, To: to}
	}
	job = job.Clone()
	applyTransition(&job, to, s.now())
	if mutate != nil {
		mutate(&job)
	}
	s.byID[jobID] = job
	return nil
}

// ListByStatus returns jobs in status updated before cutoff, oldest first.
func (s *MemoryStore) ListByStatus(ctx context.Context, status Status, updatedBefore time.Time, limit int) ([]Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]Job, 0)
	for _, job := range s.byID {
		if job.Status == status && job.UpdatedAt.Before(updatedBefore) {
			out = append(out, job.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
