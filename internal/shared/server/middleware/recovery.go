package middleware

import (
	"fmt"
	"io"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"habitat-backend/internal/shared/server/respond"
	"habitat-backend/internal/shared/telemetry"
)

// Recovery turns a handler panic into the 500 error envelope and logs it
// once as http.panic with the job id when the handler had set one.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, rec any) {
		fields := map[string]any{
			"request_id": RequestIDFromContext(c),
			"panic":      fmt.Sprint(rec),
			"stack":      string(debug.Stack()),
			"route":      c.FullPath(),
			"method":     c.Request.Method,
		}
		if jobID := c.GetString("jobId"); jobID != "" {
			fields["job_id"] = jobID
		}
		telemetry.Error("http.panic", fields)
		respond.Error(c, http.StatusInternalServerError, "internal_error", "unexpected server error", nil)
	})
}
