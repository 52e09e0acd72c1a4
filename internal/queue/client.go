package queue

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNoJobID rejects a publish without a job to run.
var ErrNoJobID = errors.New("queue: job id is required")

// Client sends messages to a queue backend.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, msg Message) error

func (f ClientFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Publish asks the worker fleet to run jobID, stamping the message with the
// current payload version and the enqueue time.
func Publish(ctx context.Context, c Client, jobID, requestID string, at time.Time) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return ErrNoJobID
	}
	return c.Send(ctx, Message{
		JobID:      jobID,
		RequestID:  strings.TrimSpace(requestID),
		EnqueuedAt: at.UTC().Format(time.RFC3339),
		Version:    MessageVersion,
	})
}
