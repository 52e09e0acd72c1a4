package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"habitat-backend/internal/services/health"
	"habitat-backend/internal/shared/config"
	"habitat-backend/internal/shared/metrics"
	"habitat-backend/internal/shared/server/middleware"
	"habitat-backend/internal/shared/server/respond"
)

// RouteRegistrar attaches a feature's routes under /api/v1.
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// RouterDeps holds everything the HTTP surface needs.
type RouterDeps struct {
	Config   config.Config
	Health   *health.Service
	Features []RouteRegistrar
}

// isSubmit selects job submissions for per-IP throttling.
func isSubmit(c *gin.Context) bool {
	return c.Request.Method == http.MethodPost && c.FullPath() == "/api/v1/analyze"
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.Throttle(middleware.NewRateLimiter(deps.Config.SubmitRate, deps.Config.SubmitBurst, nil), isSubmit),
	)

	healthSvc := deps.Health
	if healthSvc == nil {
		healthSvc = health.NewService()
	}

	r.GET("/metrics", metrics.Handler())
	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		report := healthSvc.Status(c.Request.Context())
		status := http.StatusOK
		if !report.OK {
			status = http.StatusServiceUnavailable
		}
		respond.Status(c, status, report)
	})
	for _, f := range deps.Features {
		if f != nil {
			f.RegisterRoutes(api)
		}
	}

	return r
}

// NewHandler wraps the router with CORS handling for the configured origins.
func NewHandler(deps RouterDeps) http.Handler {
	return WithCORS(NewRouter(deps), deps.Config.CORSAllowOrigin)
}

// WithCORS answers preflight requests and sets CORS headers for allowed origins.
func WithCORS(h http.Handler, origins []string) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After"},
		AllowCredentials: true,
	})
	return c.Handler(h)
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
