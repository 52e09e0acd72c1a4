package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"habitat-backend/internal/shared/server/respond"
)

const maxTrackedClients = 4096

// RateLimiter keeps one token bucket per client key. A non-positive rate or
// burst disables limiting.
type RateLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	clients map[string]*client
}

type client struct {
	bucket *rate.Limiter
	seen   time.Time
}

func NewRateLimiter(perSecond float64, burst int, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		now:     now,
		clients: make(map[string]*client),
	}
}

// Allow takes a token for key, or reports how long until one is available.
func (l *RateLimiter) Allow(key string) (bool, time.Duration) {
	if l == nil || l.limit <= 0 || l.burst <= 0 {
		return true, 0
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	cl, ok := l.clients[key]
	if !ok {
		if len(l.clients) >= maxTrackedClients {
			l.sweep(now)
		}
		cl = &client{bucket: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = cl
	}
	cl.seen = now

	res := cl.bucket.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return false, wait
	}
	return true, 0
}

// sweep forgets clients whose bucket has refilled completely.
func (l *RateLimiter) sweep(now time.Time) {
	refill := time.Duration(float64(l.burst) / float64(l.limit) * float64(time.Second))
	for key, cl := range l.clients {
		if now.Sub(cl.seen) >= refill {
			delete(l.clients, key)
		}
	}
}

// Throttle limits requests selected by match per client IP and answers
// 429 rate_limited with Retry-After once a client runs dry.
func Throttle(l *RateLimiter, match func(*gin.Context) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if match != nil && !match(c) {
			c.Next()
			return
		}
		ok, wait := l.Allow(strings.TrimSpace(c.ClientIP()))
		if ok {
			c.Next()
			return
		}
		retryAfterMs := wait.Milliseconds()
		if retryAfterMs <= 0 {
			retryAfterMs = 1000
		}
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(float64(retryAfterMs)/1000))))
		respond.Error(c, http.StatusTooManyRequests, "rate_limited", "too many requests", gin.H{
			"retryAfterMs": retryAfterMs,
		})
	}
}
