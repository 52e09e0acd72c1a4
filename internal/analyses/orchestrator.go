package analyses

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"habitat-backend/internal/images"
	"habitat-backend/internal/llm"
	"habitat-backend/internal/schema"
	"habitat-backend/internal/shared/metrics"
	"habitat-backend/internal/shared/telemetry"
	"habitat-backend/internal/shared/util"
)

const (
	defaultGrace      = 5 * time.Second
	terminalWriteTime = 10 * time.Second
)

// Dispatcher hands a created job to whatever runs it.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID, requestID string) error
}

// Orchestrator drives one job from pending to a terminal status. It only
// mutates jobs through the Store's guarded transitions.
type Orchestrator struct {
	Store    Store
	Schemas  schema.Source
	Linker   images.Linker
	LLM      llm.Client
	Policy   llm.Policy
	Grace    time.Duration
	Dispatch Dispatcher

	now   func() time.Time
	newID func() string
}

func (o *Orchestrator) clock() time.Time {
	if o.now != nil {
		return o.now().UTC()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) id() string {
	if o.newID != nil {
		return o.newID()
	}
	return uuid.NewString()
}

// CheckInput rejects submissions without images or with blank references.
func CheckInput(input Input) error {
	if len(input.Images) == 0 {
		return fmt.Errorf("%w: images are required", ErrInvalidInput)
	}
	for i, ref := range input.Images {
		if strings.TrimSpace(ref) == "" {
			return fmt.Errorf("%w: images[%d] is blank", ErrInvalidInput, i)
		}
	}
	return nil
}

// Submit creates a pending job and hands it to the dispatcher. A dispatch
// failure leaves the job pending for the reaper to pick up.
func (o *Orchestrator) Submit(ctx context.Context, input Input) (Job, error) {
	if err := CheckInput(input); err != nil {
		return Job{}, err
	}
	job := NewJob(o.id(), input, requestIDFromContext(ctx), o.clock())
	if err := o.Store.Create(ctx, job); err != nil {
		return Job{}, fmt.Errorf("create job: %w", err)
	}
	metrics.IncJobsCreated()
	telemetry.Info("job.status", map[string]any{
		"request_id":        job.RequestID,
		"job_id":            job.ID,
		"status":            StatusPending,
		"status_transition": "->pending",
		"images":            len(job.Input.Images),
	})

	if o.Dispatch != nil {
		if err := o.Dispatch.Dispatch(ctx, job.ID, job.RequestID); err != nil {
			telemetry.Warn("job.dispatch_failed", map[string]any{
				"request_id": job.RequestID,
				"job_id":     job.ID,
				"error":      err.Error(),
			})
		}
	}
	return job, nil
}

// Get returns the current job snapshot.
func (o *Orchestrator) Get(ctx context.Context, jobID string) (Job, error) {
	return o.Store.Get(ctx, jobID)
}

// Run processes jobID once. A job that is no longer pending is left alone,
// which makes repeated delivery of the same id harmless. Failures of the
// pipeline end in a failed job; only store faults are returned.
func (o *Orchestrator) Run(ctx context.Context, jobID string) (err error) {
	job, err := o.Store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if requestIDFromContext(ctx) == "" {
		ctx = withRequestID(ctx, job.RequestID)
	}

	if err := o.Store.MarkProcessing(ctx, jobID); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			metrics.IncJobsDuplicate()
			telemetry.Info("job.duplicate", map[string]any{
				"request_id": requestIDFromContext(ctx),
				"job_id":     jobID,
				"status":     job.Status,
			})
			return nil
		}
		return fmt.Errorf("mark processing %s: %w", jobID, err)
	}
	startedAt := o.clock()
	metrics.IncJobsStarted()
	telemetry.Info("job.status", map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"job_id":            jobID,
		"status":            StatusProcessing,
		"status_transition": "pending->processing",
	})

	defer func() {
		if r := recover(); r != nil {
			telemetry.Error("panic", map[string]any{
				"request_id": requestIDFromContext(ctx),
				"job_id":     jobID,
				"panic":      fmt.Sprint(r),
			})
			o.fail(ctx, jobID, JobError{Kind: KindInternal, Message: util.SanitizeMessage(fmt.Sprintf("panic: %v", r))}, nil, startedAt)
			err = nil
		}
	}()

	runCtx := ctx
	if o.Policy.Timeout > 0 {
		grace := o.Grace
		if grace <= 0 {
			grace = defaultGrace
		}
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.Policy.Timeout+grace)
		defer cancel()
	}

	result, info, jobErr := o.analyze(runCtx, job)
	if jobErr != nil {
		o.fail(ctx, jobID, *jobErr, info, startedAt)
		return nil
	}
	o.complete(ctx, jobID, result, *info, startedAt)
	return nil
}

// analyze runs the pipeline steps in order and returns either a validated
// result or the typed error to store. info is non-nil whenever the upstream
// model answered.
func (o *Orchestrator) analyze(ctx context.Context, job Job) (Result, *llm.Info, *JobError) {
	if o.Schemas == nil {
		return Result{}, nil, &JobError{Kind: KindSchemaUnavailable, Message: "no schema source configured"}
	}
	s, err := o.Schemas.Current(ctx)
	if err != nil {
		return Result{}, nil, &JobError{Kind: KindSchemaUnavailable, Message: util.SanitizeMessage(err.Error())}
	}

	req := schema.Render(s, job.Input.Images, job.Input.Comment)
	if req.ImagesTruncated {
		telemetry.Warn("job.images_truncated", map[string]any{
			"request_id": requestIDFromContext(ctx),
			"job_id":     job.ID,
			"dropped":    req.DroppedImages,
		})
	}
	if o.Linker != nil {
		for i := range req.Images {
			url, err := o.Linker.Link(ctx, req.Images[i].Ref)
			if err != nil {
				return Result{}, nil, &JobError{
					Kind:    KindInternal,
					Message: util.SanitizeMessage(fmt.Sprintf("link image %d: %v", i, err)),
				}
			}
			req.Images[i].URL = url
		}
	}

	resp, err := llm.Invoke(ctx, o.LLM, req, o.Policy)
	var info *llm.Info
	if resp.Info.Responded() {
		captured := resp.Info
		info = &captured
	}
	if err != nil {
		return Result{}, info, upstreamError(err)
	}

	result, err := Validate(resp.Raw, s)
	if err != nil {
		var vf *ValidationFailure
		if errors.As(err, &vf) {
			return Result{}, info, &JobError{
				Kind:     KindValidationFailure,
				Message:  util.SanitizeMessage(vf.Error()),
				Field:    vf.Field,
				Expected: vf.Expected,
				Actual:   vf.Actual,
			}
		}
		return Result{}, info, &JobError{Kind: KindInternal, Message: util.SanitizeMessage(err.Error())}
	}
	if info == nil {
		captured := resp.Info
		info = &captured
	}
	return result, info, nil
}

func upstreamError(err error) *JobError {
	msg := util.SanitizeMessage(err.Error())
	switch {
	case errors.Is(err, llm.ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return &JobError{Kind: KindUpstreamTimeout, Message: msg}
	case errors.Is(err, llm.ErrUpstreamRejected):
		return &JobError{Kind: KindUpstreamRejected, Message: msg}
	case errors.Is(err, llm.ErrMalformedResponse):
		return &JobError{Kind: KindValidationFailure, Message: msg, Field: "$", Expected: "JSON object"}
	case errors.Is(err, context.Canceled):
		return &JobError{Kind: KindInternal, Message: msg}
	default:
		return &JobError{Kind: KindUpstreamUnavailable, Message: msg}
	}
}

// terminalContext keeps request values but survives cancellation of the
// job context, so a shutdown cannot strand a job in processing.
func terminalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTime)
}

func (o *Orchestrator) complete(ctx context.Context, jobID string, result Result, info llm.Info, startedAt time.Time) {
	writeCtx, cancel := terminalContext(ctx)
	defer cancel()

	if err := o.Store.Complete(writeCtx, jobID, result, info); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			metrics.IncJobsDuplicate()
			return
		}
		telemetry.Error("job.complete_failed", map[string]any{
			"request_id": requestIDFromContext(ctx),
			"job_id":     jobID,
			"error":      err.Error(),
		})
		o.fail(ctx, jobID, JobError{Kind: KindInternal, Message: util.SanitizeMessage("store result: " + err.Error())}, &info, startedAt)
		return
	}
	duration := o.clock().Sub(startedAt)
	metrics.IncJobsCompleted()
	metrics.ObserveJobDurationMs(float64(duration.Milliseconds()))
	telemetry.Info("job.status", map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"job_id":            jobID,
		"status":            StatusCompleted,
		"status_transition": "processing->completed",
		"duration_ms":       duration.Milliseconds(),
		"schema_version":    result.SchemaVersion,
		"model":             info.Model,
		"attempts":          info.Attempts,
	})
}

func (o *Orchestrator) fail(ctx context.Context, jobID string, jobErr JobError, info *llm.Info, startedAt time.Time) {
	writeCtx, cancel := terminalContext(ctx)
	defer cancel()

	jobErr.Message = util.SanitizeMessage(jobErr.Message)
	if err := o.Store.Fail(writeCtx, jobID, jobErr, info); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return
		}
		telemetry.Error("job.fail_write_failed", map[string]any{
			"request_id": requestIDFromContext(ctx),
			"job_id":     jobID,
			"kind":       jobErr.Kind,
			"error":      err.Error(),
		})
		return
	}
	duration := o.clock().Sub(startedAt)
	metrics.IncJobsFailed(string(jobErr.Kind))
	metrics.ObserveJobDurationMs(float64(duration.Milliseconds()))
	telemetry.Info("job.status", map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"job_id":            jobID,
		"status":            StatusFailed,
		"status_transition": "processing->failed",
		"duration_ms":       duration.Milliseconds(),
		"kind":              jobErr.Kind,
		"field":             jobErr.Field,
	})
}
