package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"habitat-backend/internal/shared/metrics"
	"habitat-backend/internal/shared/telemetry"
)

// Policy bounds a single logical upstream call.
type Policy struct {
	Timeout         time.Duration
	RetryBackoff    time.Duration
	MaxRequestBytes int
}

const defaultRetryBackoff = 500 * time.Millisecond

type callResult struct {
	resp Response
	err  error
}

// Invoke runs req against client under policy. The deadline covers both
// attempts; a call still running when it expires is abandoned and its result
// discarded. Transient failures are retried exactly once.
func Invoke(ctx context.Context, client Client, req Request, policy Policy) (Response, error) {
	if client == nil {
		return Response{}, ErrNotConfigured
	}
	if policy.MaxRequestBytes > 0 {
		if size := req.Size(); size > policy.MaxRequestBytes {
			return Response{}, fmt.Errorf("%w: request of %d bytes exceeds limit %d", ErrUpstreamRejected, size, policy.MaxRequestBytes)
		}
	}
	backoff := policy.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}

	callCtx := ctx
	cancel := func() {}
	if policy.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
	}
	defer cancel()

	start := time.Now()
	promptHash := req.Hash()

	var (
		resp Response
		err  error
	)
	attempts := 0
	for attempts < 2 {
		attempts++
		resp, err = attempt(callCtx, client, req)
		if err == nil || !IsTransient(err) || attempts == 2 {
			break
		}
		metrics.IncLLMRetries()
		telemetry.Warn("llm.retry", map[string]any{
			"attempt":     attempts,
			"schema":      req.SchemaVersion,
			"error":       err.Error(),
			"prompt_hash": promptHash,
		})
		select {
		case <-callCtx.Done():
			err = callCtx.Err()
		case <-time.After(backoff):
			continue
		}
		break
	}

	latency := time.Since(start)
	metrics.ObserveLLMLatencyMs(float64(latency.Milliseconds()))
	resp.Info.Attempts = attempts
	resp.Info.LatencyMs = latency.Milliseconds()
	resp.Info.PromptHash = promptHash
	resp.Info.ImagesSent = len(req.Images)
	resp.Info.ImagesTruncated = req.ImagesTruncated

	if err != nil {
		return resp, classify(err, attempts == 2 && IsTransient(err))
	}
	return resp, nil
}

// attempt runs one call in its own goroutine so an expired deadline returns
// immediately even if the client ignores ctx.
func attempt(ctx context.Context, client Client, req Request) (Response, error) {
	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: fmt.Errorf("llm client panic: %v", r)}
			}
		}()
		resp, err := client.Analyze(ctx, req)
		done <- callResult{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Response{}, ctx.Err()
		}
		return Response{}, fmt.Errorf("%w: %w", ErrUpstreamTimeout, ctx.Err())
	case res := <-done:
		if res.err != nil && ctx.Err() != nil && isTimeout(ctx.Err()) {
			return res.resp, fmt.Errorf("%w: %w", ErrUpstreamTimeout, res.err)
		}
		return res.resp, res.err
	}
}
