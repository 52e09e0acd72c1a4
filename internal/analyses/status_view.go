package analyses

import (
	"encoding/json"
	"time"

	"habitat-backend/internal/llm"
)

// StatusView is the client-facing projection of a job. Exactly one variant
// exists per status, so a pending view can never carry a result.
type StatusView interface {
	Status() Status
	JobID() string
}

type PendingView struct {
	ID        string
	CreatedAt time.Time
}

type ProcessingView struct {
	ID        string
	StartedAt *time.Time
}

type CompletedView struct {
	ID            string
	Result        Result
	LLMInfo       *llm.Info
	SchemaVersion string
	CompletedAt   *time.Time
}

type FailedView struct {
	ID          string
	Error       JobError
	LLMInfo     *llm.Info
	CompletedAt *time.Time
}

func (v PendingView) Status() Status    { return StatusPending }
func (v ProcessingView) Status() Status { return StatusProcessing }
func (v CompletedView) Status() Status  { return StatusCompleted }
func (v FailedView) Status() Status     { return StatusFailed }

func (v PendingView) JobID() string    { return v.ID }
func (v ProcessingView) JobID() string { return v.ID }
func (v CompletedView) JobID() string  { return v.ID }
func (v FailedView) JobID() string     { return v.ID }

// ViewOf projects job onto its status variant. A terminal job missing its
// payload degrades to an internal failure view.
func ViewOf(job Job) StatusView {
	switch job.Status {
	case StatusProcessing:
		return ProcessingView{ID: job.ID, StartedAt: job.StartedAt}
	case StatusCompleted:
		if job.Result == nil {
			return FailedView{ID: job.ID, Error: JobError{Kind: KindInternal, Message: "completed job has no result"}, LLMInfo: job.LLMInfo, CompletedAt: job.CompletedAt}
		}
		return CompletedView{ID: job.ID, Result: *job.Result, LLMInfo: job.LLMInfo, SchemaVersion: job.SchemaVersion, CompletedAt: job.CompletedAt}
	case StatusFailed:
		jobErr := JobError{Kind: KindInternal, Message: "failed job has no error"}
		if job.Error != nil {
			jobErr = *job.Error
		}
		return FailedView{ID: job.ID, Error: jobErr, LLMInfo: job.LLMInfo, CompletedAt: job.CompletedAt}
	default:
		return PendingView{ID: job.ID, CreatedAt: job.CreatedAt}
	}
}

type statusPayload struct {
	JobID         string     `json:"jobId"`
	Status        Status     `json:"status"`
	Result        *Result    `json:"result,omitempty"`
	LLMInfo       *llm.Info  `json:"llmInfo,omitempty"`
	Error         *JobError  `json:"error,omitempty"`
	SchemaVersion string     `json:"schemaVersion,omitempty"`
	CreatedAt     *time.Time `json:"createdAt,omitempty"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

func (v PendingView) MarshalJSON() ([]byte, error) {
	created := v.CreatedAt
	return json.Marshal(statusPayload{JobID: v.ID, Status: StatusPending, CreatedAt: &created})
}

func (v ProcessingView) MarshalJSON() ([]byte, error) {
	return json.Marshal(statusPayload{JobID: v.ID, Status: StatusProcessing, StartedAt: v.StartedAt})
}

func (v CompletedView) MarshalJSON() ([]byte, error) {
	result := v.Result
	return json.Marshal(statusPayload{
		JobID:         v.ID,
		Status:        StatusCompleted,
		Result:        &result,
		LLMInfo:       v.LLMInfo,
		SchemaVersion: v.SchemaVersion,
		CompletedAt:   v.CompletedAt,
	})
}

func (v FailedView) MarshalJSON() ([]byte, error) {
	jobErr := v.Error
	return json.Marshal(statusPayload{
		JobID:       v.ID,
		Status:      StatusFailed,
		Error:       &jobErr,
		LLMInfo:     v.LLMInfo,
		CompletedAt: v.CompletedAt,
	})
}
