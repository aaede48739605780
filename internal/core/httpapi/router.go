// Package httpapi exposes the schedule management service over HTTP.
//
// Routes:
//
//	POST   /api/v1/jobs               schedule (or refresh) the job for a rule
//	GET    /api/v1/jobs/:id           read a job
//	PUT    /api/v1/jobs/:id           replace a job's rule snapshot
//	DELETE /api/v1/jobs/:id           cancel a job (204 even when missing)
//	GET    /api/v1/rules/:id/job      read the job for a rule
//	DELETE /api/v1/rules/:id/job      cancel the job for a rule
//	GET    /healthz                   liveness
//	GET    /readyz                    store reachability
//
// Request bodies are rule snapshots in their persisted JSON form.
package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/solatis/tripwire/internal/core/api"
)

// Handler serves the routes above.
type Handler struct {
	svc    *api.Service
	logger zerolog.Logger
}

// NewRouter builds the gin engine for svc.
func NewRouter(svc *api.Service, logger zerolog.Logger) *gin.Engine {
	h := &Handler{svc: svc, logger: logger.With().Str("component", "httpapi").Logger()}

	r := gin.New()
	r.Use(gin.Recovery(), h.accessLog())

	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	v1 := r.Group("/api/v1")
	v1.POST("/jobs", h.ScheduleJob)
	v1.GET("/jobs/:id", h.GetJob)
	v1.PUT("/jobs/:id", h.UpdateJob)
	v1.DELETE("/jobs/:id", h.CancelJob)
	v1.GET("/rules/:id/job", h.GetRuleJob)
	v1.DELETE("/rules/:id/job", h.CancelRule)
	return r
}

func (h *Handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}
