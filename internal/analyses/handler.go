package analyses

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"habitat-backend/internal/schema"
	"habitat-backend/internal/shared/server/middleware"
	"habitat-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the orchestrator.
type Handler struct {
	Jobs    *Orchestrator
	Schemas schema.Source
	limiter *pollLimiter
}

// NewHandler constructs a Handler. A positive pollInterval throttles status
// reads per job.
func NewHandler(jobs *Orchestrator, schemas schema.Source, pollInterval time.Duration) *Handler {
	return &Handler{Jobs: jobs, Schemas: schemas, limiter: newPollLimiter(pollInterval, nil)}
}

// RegisterRoutes attaches analysis routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/analyze", h.submit)
	rg.GET("/analyze/status", h.status)
	rg.GET("/jobs/:id", h.getJob)
	rg.GET("/schema", h.currentSchema)
}

type submitRequest struct {
	Images  []string `json:"images"`
	Comment string   `json:"comment"`
}

func (h *Handler) submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "invalid_json", "request body must be a JSON object", nil)
		return
	}
	input := Input{Images: req.Images, Comment: req.Comment}
	if err := CheckInput(input); err != nil {
		issue := strings.TrimPrefix(err.Error(), ErrInvalidInput.Error()+": ")
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid analysis request", []map[string]string{
			{"field": "images", "issue": issue},
		})
		return
	}

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	job, err := h.Jobs.Submit(ctx, input)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to create analysis job", nil)
		return
	}

	c.Set("jobId", job.ID)
	respond.Accepted(c, c.FullPath()+"/status?jobId="+url.QueryEscape(job.ID), gin.H{
		"jobId":  job.ID,
		"status": job.Status,
	})
}

func (h *Handler) status(c *gin.Context) {
	h.writeStatus(c, strings.TrimSpace(c.Query("jobId")))
}

func (h *Handler) getJob(c *gin.Context) {
	h.writeStatus(c, strings.TrimSpace(c.Param("id")))
}

func (h *Handler) writeStatus(c *gin.Context, jobID string) {
	if jobID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "jobId is required", []map[string]string{
			{"field": "jobId", "issue": "required"},
		})
		return
	}
	c.Set("jobId", jobID)
	if ok, wait := h.limiter.Allow(jobID); !ok {
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
		respond.Error(c, http.StatusTooManyRequests, "poll_throttled", "status polled too frequently", nil)
		return
	}

	job, err := h.Jobs.Get(c.Request.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "job not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch job", nil)
		}
		return
	}
	respond.OK(c, ViewOf(job))
}

func (h *Handler) currentSchema(c *gin.Context) {
	if h.Schemas == nil {
		respond.Error(c, http.StatusServiceUnavailable, "schema_unavailable", "no schema source configured", nil)
		return
	}
	s, err := h.Schemas.Current(c.Request.Context())
	if err != nil {
		respond.Error(c, http.StatusServiceUnavailable, "schema_unavailable", "classification schema unavailable", nil)
		return
	}
	respond.OK(c, gin.H{
		"version":       s.Version,
		"promptVersion": s.Prompt.Version,
		"fields":        s.Fields,
		"loadedAt":      s.LoadedAt,
	})
}
