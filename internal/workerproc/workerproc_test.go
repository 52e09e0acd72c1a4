package workerproc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitat-backend/internal/analyses"
	"habitat-backend/internal/queue"
)

type runnerFunc func(ctx context.Context, jobID string) error

func (f runnerFunc) Run(ctx context.Context, jobID string) error { return f(ctx, jobID) }

func TestParseMessage(t *testing.T) {
	body, err := queue.EncodeMessage(queue.Message{JobID: "job-1", RequestID: "req-1", Version: queue.MessageVersion})
	require.NoError(t, err)

	msg, meta, err := ParseMessage(string(body))
	require.NoError(t, err)
	assert.Equal(t, "job-1", msg.JobID)
	assert.Equal(t, len(body), meta.BodyLen)
	assert.Len(t, meta.BodySHA, 64)
}

func TestParseMessageRejectsBadPayloads(t *testing.T) {
	cases := map[string]struct {
		body   string
		target any
	}{
		"empty":   {body: "  ", target: &ErrEmptyBody{}},
		"garbage": {body: "{bad-json", target: &ErrDecode{}},
		"no id":   {body: `{"requestId":"req-9"}`, target: &ErrMissingJobID{}},
		"future":  {body: `{"jobId":"job-1","version":99}`, target: &ErrUnsupportedVersion{}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := ParseMessage(tc.body)
			require.Error(t, err)
			assert.ErrorAs(t, err, tc.target)
			assert.True(t, Unrecoverable(err))
		})
	}
}

func TestParseMessageKeepsRequestIDWhenJobIDMissing(t *testing.T) {
	_, _, err := ParseMessage(`{"requestId":"req-9"}`)
	var missing ErrMissingJobID
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "req-9", missing.RequestID)
}

func TestHandleMessageRunsJobWithRequestID(t *testing.T) {
	var gotID string
	var gotCtx context.Context
	runner := runnerFunc(func(ctx context.Context, jobID string) error {
		gotID = jobID
		gotCtx = ctx
		return nil
	})

	err := HandleMessage(context.Background(), runner, queue.Message{JobID: "job-7", RequestID: "req-7"})
	require.NoError(t, err)
	assert.Equal(t, "job-7", gotID)
	assert.NotEqual(t, context.Background(), gotCtx)
}

func TestHandleMessageWrapsRunErrors(t *testing.T) {
	boom := errors.New("store down")
	runner := runnerFunc(func(ctx context.Context, jobID string) error { return boom })

	err := HandleMessage(context.Background(), runner, queue.Message{JobID: "job-8"})
	var procErr ErrProcess
	require.ErrorAs(t, err, &procErr)
	assert.Equal(t, "job-8", procErr.JobID)
	assert.ErrorIs(t, err, boom)
	assert.False(t, Unrecoverable(err))
}

func TestUnknownJobIsUnrecoverable(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context, jobID string) error {
		return fmt.Errorf("load job %s: %w", jobID, analyses.ErrNotFound)
	})
	err := HandleMessage(context.Background(), runner, queue.Message{JobID: "ghost"})
	assert.True(t, Unrecoverable(err))
}

func TestHandleMessageWithoutRunner(t *testing.T) {
	err := HandleMessage(context.Background(), nil, queue.Message{JobID: "job-1"})
	assert.EqualError(t, err, "job runner not configured")
}
