package analyses

import (
	"sync"
	"time"
)

const pollLimiterSweepSize = 4096

// pollLimiter enforces a minimum interval between status reads of one job.
type pollLimiter struct {
	mu      sync.Mutex
	lastHit map[string]time.Time
	now     func() time.Time
	window  time.Duration
}

// newPollLimiter returns nil when window is not positive, which disables throttling.
func newPollLimiter(window time.Duration, now func() time.Time) *pollLimiter {
	if window <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	return &pollLimiter{
		lastHit: make(map[string]time.Time),
		now:     now,
		window:  window,
	}
}

// Allow records a poll of jobID and reports whether it is permitted. When it
// is not, the second value is the time left until the next allowed poll.
func (l *pollLimiter) Allow(jobID string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if last, ok := l.lastHit[jobID]; ok {
		if elapsed := now.Sub(last); elapsed < l.window {
			return false, l.window - elapsed
		}
	}
	if len(l.lastHit) >= pollLimiterSweepSize {
		for key, last := range l.lastHit {
			if now.Sub(last) >= l.window {
				delete(l.lastHit, key)
			}
		}
	}
	l.lastHit[jobID] = now
	return true, 0
}

// retryAfterSeconds rounds wait up to whole seconds, at least one.
func retryAfterSeconds(wait time.Duration) int {
	secs := int((wait + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
