package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

var (
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUpstreamRejected    = errors.New("upstream rejected request")
	ErrMalformedResponse   = errors.New("malformed upstream response")
	ErrNotConfigured       = errors.New("llm client not configured")
)

// StatusError reports a non-2xx answer from the upstream endpoint.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 300 {
		body = body[:300]
	}
	return fmt.Sprintf("%s http status %d: %s", e.Provider, e.StatusCode, body)
}

// Is maps 4xx answers to ErrUpstreamRejected and everything else to ErrUpstreamUnavailable.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUpstreamRejected:
		return e.StatusCode >= 400 && e.StatusCode < 500
	case ErrUpstreamUnavailable:
		return e.StatusCode >= 500
	}
	return false
}

// IsTransient reports whether a failed call may succeed when repeated:
// connection resets, refused or dropped connections and 5xx answers.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500
	}
	if errors.Is(err, ErrMalformedResponse) || errors.Is(err, ErrUpstreamRejected) || errors.Is(err, ErrNotConfigured) {
		return false
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "server_error")
}

// isTimeout reports whether err came from an expired deadline.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// classify wraps err with the upstream sentinel describing it.
func classify(err error, retriesExhausted bool) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUpstreamTimeout), errors.Is(err, ErrUpstreamRejected),
		errors.Is(err, ErrMalformedResponse):
		return err
	case errors.Is(err, ErrUpstreamUnavailable) && !retriesExhausted:
		return err
	case isTimeout(err):
		return fmt.Errorf("%w: %w", ErrUpstreamTimeout, err)
	case retriesExhausted:
		return fmt.Errorf("%w after retry: %w", ErrUpstreamUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
}
