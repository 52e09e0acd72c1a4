package analyses

import (
	"encoding/json"
	"fmt"
	"time"

	"habitat-backend/internal/llm"
)

// Status is the lifecycle state of an analysis job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the four lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Input is the submitted photographs and comment. It never changes after creation.
type Input struct {
	Images  []string `json:"images"`
	Comment string   `json:"comment,omitempty"`
}

// ErrorKind names the stage that failed a job.
type ErrorKind string

const (
	KindSchemaUnavailable   ErrorKind = "SchemaUnavailable"
	KindUpstreamTimeout     ErrorKind = "UpstreamTimeout"
	KindUpstreamUnavailable ErrorKind = "UpstreamUnavailable"
	KindUpstreamRejected    ErrorKind = "UpstreamRejected"
	KindValidationFailure   ErrorKind = "ValidationFailure"
	KindInternal            ErrorKind = "Internal"
)

// JobError is the terminal error stored on a failed job.
type JobError struct {
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message"`
	Field    string    `json:"field,omitempty"`
	Expected string    `json:"expected,omitempty"`
	Actual   string    `json:"actual,omitempty"`
}

func (e *JobError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field %s)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Result is a validated classification. It serializes flat: schema fields
// next to confidence and rationale.
type Result struct {
	Fields        map[string]any
	Confidence    float64
	Rationale     string
	SchemaVersion string
}

func (r Result) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["confidence"] = r.Confidence
	out["rationale"] = r.Rationale
	return json.Marshal(out)
}

func (r *Result) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.Fields = make(map[string]any, len(raw))
	for k, v := range raw {
		switch k {
		case "confidence":
			if f, ok := v.(float64); ok {
				r.Confidence = f
			}
		case "rationale":
			if s, ok := v.(string); ok {
				r.Rationale = s
			}
		default:
			r.Fields[k] = v
		}
	}
	return nil
}

// Job is one analysis request and its latest committed state.
type Job struct {
	ID            string     `json:"id"`
	Status        Status     `json:"status"`
	Input         Input      `json:"input"`
	Result        *Result    `json:"result,omitempty"`
	Error         *JobError  `json:"error,omitempty"`
	LLMInfo       *llm.Info  `json:"llmInfo,omitempty"`
	SchemaVersion string     `json:"schemaVersion,omitempty"`
	RequestID     string     `json:"requestId,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// NewJob returns a pending job for input.
func NewJob(id string, input Input, requestID string, now time.Time) Job {
	now = now.UTC()
	return Job{
		ID:     id,
		Status: StatusPending,
		Input: Input{
			Images:  append([]string(nil), input.Images...),
			Comment: input.Comment,
		},
		RequestID: requestID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (j Job) Clone() Job {
	out := j
	out.Input.Images = append([]string(nil), j.Input.Images...)
	if j.Result != nil {
		r := *j.Result
		r.Fields = cloneFields(j.Result.Fields)
		out.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	if j.LLMInfo != nil {
		info := *j.LLMInfo
		out.LLMInfo = &info
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

func cloneFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if list, ok := v.([]any); ok {
			v = append([]any(nil), list...)
		}
		if list, ok := v.([]string); ok {
			v = append([]string(nil), list...)
		}
		out[k] = v
	}
	return out
}
