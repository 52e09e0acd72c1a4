package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func isSubmit(c *gin.Context) bool {
	return c.Request.Method == http.MethodPost && c.FullPath() == "/api/v1/analyze"
}

func TestThrottleOnlyLimitsSubmissions(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(1, 2, func() time.Time { return now })

	r := gin.New()
	r.Use(Throttle(limiter, isSubmit))
	r.GET("/api/v1/analyze/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.POST("/api/v1/analyze", func(c *gin.Context) {
		c.JSON(http.StatusAccepted, gin.H{"ok": true})
	})

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/analyze/status?jobId=x", nil)
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("status request %d expected 200, got %d", i+1, resp.Code)
		}
	}

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", nil)
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		if resp.Code != http.StatusAccepted {
			t.Fatalf("submit %d expected 202, got %d", i+1, resp.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("submit 3 expected 429, got %d", resp.Code)
	}
	if resp.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After 1, got %q", resp.Header().Get("Retry-After"))
	}

	var payload struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Error.Code != "rate_limited" {
		t.Fatalf("expected code rate_limited, got %q", payload.Error.Code)
	}
	if ms, ok := payload.Error.Details["retryAfterMs"].(float64); !ok || ms != 1000 {
		t.Fatalf("expected retryAfterMs 1000, got %v", payload.Error.Details["retryAfterMs"])
	}

	now = now.Add(time.Second)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/analyze", nil)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected refill after 1s, got %d", resp.Code)
	}
}

func TestRateLimiterSeparatesKeys(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	l := NewRateLimiter(0.5, 1, func() time.Time { return now })

	if ok, _ := l.Allow("10.0.0.1"); !ok {
		t.Fatalf("expected first key allowed")
	}
	ok, wait := l.Allow("10.0.0.1")
	if ok || wait != 2*time.Second {
		t.Fatalf("expected 2s wait, got ok=%v wait=%s", ok, wait)
	}
	if ok, _ := l.Allow("10.0.0.2"); !ok {
		t.Fatalf("expected second key allowed")
	}
	if ok, _ := NewRateLimiter(0, 0, nil).Allow("any"); !ok {
		t.Fatalf("expected zero rule to disable limiting")
	}
}

func TestRateLimiterRejectedRequestsDoNotDrainBucket(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	l := NewRateLimiter(1, 1, func() time.Time { return now })

	if ok, _ := l.Allow("ip"); !ok {
		t.Fatalf("expected first request allowed")
	}
	for i := 0; i < 10; i++ {
		if ok, _ := l.Allow("ip"); ok {
			t.Fatalf("request %d should be limited", i)
		}
	}
	now = now.Add(time.Second)
	if ok, _ := l.Allow("ip"); !ok {
		t.Fatalf("expected one token after 1s despite rejected attempts")
	}
}

func TestRateLimiterSweepsIdleClients(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	l := NewRateLimiter(10, 1, func() time.Time { return now })
	for i := 0; i < maxTrackedClients; i++ {
		l.Allow("10.0." + strconv.Itoa(i))
	}
	now = now.Add(time.Second)
	l.Allow("fresh")
	if len(l.clients) != 1 {
		t.Fatalf("expected idle clients swept, got %d", len(l.clients))
	}
}
