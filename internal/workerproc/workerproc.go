package workerproc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"habitat-backend/internal/analyses"
	"habitat-backend/internal/queue"
	"habitat-backend/internal/shared/util"
)

// Runner executes one analysis job.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{}
	}
	return MessageMeta{BodyLen: len(body), BodySHA: util.HashString(body)}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

func (e ErrDecode) Unwrap() error { return e.Err }

// ErrMissingJobID indicates a message without a job id.
type ErrMissingJobID struct {
	Meta      MessageMeta
	RequestID string
}

func (e ErrMissingJobID) Error() string { return "missing job id" }

// ErrUnsupportedVersion indicates a payload written by a newer producer.
type ErrUnsupportedVersion struct {
	Meta    MessageMeta
	Version int
}

func (e ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported message version %d", e.Version)
}

// ErrProcess indicates the job run returned an error after parsing succeeded.
type ErrProcess struct {
	JobID     string
	RequestID string
	Err       error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "process job"
	}
	return "process job: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// Unrecoverable reports whether retrying the message can never succeed:
// malformed payloads and jobs the store does not know.
func Unrecoverable(err error) bool {
	if errors.Is(err, analyses.ErrNotFound) {
		return true
	}
	var (
		empty   ErrEmptyBody
		decode  ErrDecode
		missing ErrMissingJobID
		version ErrUnsupportedVersion
	)
	return errors.As(err, &empty) || errors.As(err, &decode) ||
		errors.As(err, &missing) || errors.As(err, &version)
}

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if msg.Version > queue.MessageVersion {
		return msg, meta, ErrUnsupportedVersion{Meta: meta, Version: msg.Version}
	}
	if strings.TrimSpace(msg.JobID) == "" {
		return msg, meta, ErrMissingJobID{Meta: meta, RequestID: msg.RequestID}
	}
	return msg, meta, nil
}

// HandleMessage runs the job named by a decoded message. Jobs that already
// left pending are skipped by the runner, so redelivery is harmless.
func HandleMessage(ctx context.Context, runner Runner, msg queue.Message) error {
	if runner == nil {
		return errors.New("job runner not configured")
	}
	if strings.TrimSpace(msg.JobID) == "" {
		return ErrMissingJobID{RequestID: msg.RequestID}
	}
	ctx = analyses.WithRequestID(ctx, msg.RequestID)
	if err := runner.Run(ctx, msg.JobID); err != nil {
		return ErrProcess{JobID: msg.JobID, RequestID: msg.RequestID, Err: err}
	}
	return nil
}
