package analyses

import (
	"context"
	"time"

	"habitat-backend/internal/queue"
)

// QueueDispatcher publishes job ids for an out-of-process worker.
type QueueDispatcher struct {
	Queue queue.Client
	now   func() time.Time
}

func NewQueueDispatcher(client queue.Client) *QueueDispatcher {
	return &QueueDispatcher{Queue: client}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, jobID, requestID string) error {
	now := time.Now
	if d.now != nil {
		now = d.now
	}
	return queue.Publish(ctx, d.Queue, jobID, requestID, now())
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(ctx context.Context, jobID, requestID string) error

func (f DispatchFunc) Dispatch(ctx context.Context, jobID, requestID string) error {
	return f(ctx, jobID, requestID)
}
