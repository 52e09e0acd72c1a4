package respond

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"habitat-backend/internal/shared/telemetry"
)

func serve(t *testing.T, path string, h gin.HandlerFunc) (*httptest.ResponseRecorder, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	telemetry.SetOutput(&buf)
	t.Cleanup(func() { telemetry.SetOutput(os.Stdout) })

	r := gin.New()
	r.GET(path, h)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
	return resp, buf.String()
}

func TestErrorLevelFollowsStatus(t *testing.T) {
	resp, logs := serve(t, "/bad", func(c *gin.Context) {
		Error(c, http.StatusBadRequest, "validation_error", "jobId is required", nil)
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if !strings.Contains(logs, `"level":"warn"`) || !strings.Contains(logs, `"msg":"http.rejected"`) {
		t.Fatalf("expected warn log, got %s", logs)
	}

	resp, logs = serve(t, "/boom", func(c *gin.Context) {
		c.Set("jobId", "job-1")
		Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch job", nil)
	})
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	if !strings.Contains(logs, `"level":"error"`) || !strings.Contains(logs, `"job_id":"job-1"`) {
		t.Fatalf("expected error log with job id, got %s", logs)
	}
	var body ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "internal_error" || body.Error.Message != "failed to fetch job" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestAcceptedSetsLocation(t *testing.T) {
	resp, _ := serve(t, "/submit", func(c *gin.Context) {
		Accepted(c, "/api/v1/analyze/status?jobId=j1", gin.H{"jobId": "j1"})
	})
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}
	if resp.Header().Get("Location") != "/api/v1/analyze/status?jobId=j1" {
		t.Fatalf("unexpected Location %q", resp.Header().Get("Location"))
	}
	if resp.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("expected no-store, got %q", resp.Header().Get("Cache-Control"))
	}
}
