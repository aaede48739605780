package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/solatis/tripwire/internal/core/api"
	"github.com/solatis/tripwire/internal/types"
)

type jobView struct {
	ID            types.JobID        `json:"id"`
	RuleID        types.RuleID       `json:"rule_id"`
	NextRunAt     time.Time          `json:"next_run_at"`
	LockOwner     string             `json:"lock_owner,omitempty"`
	LockExpiresAt *time.Time         `json:"lock_expires_at,omitempty"`
	Revision      int64              `json:"revision"`
	LastRunAt     *time.Time         `json:"last_run_at,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	Payload       types.RuleSnapshot `json:"payload"`
}

func viewOf(j *types.Job) jobView {
	return jobView{
		ID:            j.ID,
		RuleID:        j.RuleID,
		NextRunAt:     j.NextRunAt,
		LockOwner:     j.LockOwner,
		LockExpiresAt: j.LockExpiresAt,
		Revision:      j.Revision,
		LastRunAt:     j.LastRunAt,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
		Payload:       j.Payload,
	}
}

func (h *Handler) fail(c *gin.Context, msg string, err error) {
	status := api.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", c.FullPath()).Msg(msg)
	}
	c.JSON(status, gin.H{"error": msg, "detail": err.Error()})
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz handles GET /readyz.
func (h *Handler) Readyz(c *gin.Context) {
	if err := h.svc.Ready(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true, "timestamp": time.Now().UTC()})
}

// ScheduleJob handles POST /api/v1/jobs.
func (h *Handler) ScheduleJob(c *gin.Context) {
	var snap types.RuleSnapshot
	if err := c.ShouldBindJSON(&snap); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}
	id, err := h.svc.ScheduleJob(c.Request.Context(), snap)
	if err != nil {
		h.fail(c, "schedule job failed", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"job_id": id})
}

// GetJob handles GET /api/v1/jobs/:id.
func (h *Handler) GetJob(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}
	job, err := h.svc.GetJob(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "get job failed", err)
		return
	}
	c.JSON(http.StatusOK, viewOf(job))
}

// UpdateJob handles PUT /api/v1/jobs/:id.
func (h *Handler) UpdateJob(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}
	var snap types.RuleSnapshot
	if err := c.ShouldBindJSON(&snap); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}
	if err := h.svc.UpdateJob(c.Request.Context(), id, snap); err != nil {
		h.fail(c, "update job failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": id})
}

// CancelJob handles DELETE /api/v1/jobs/:id. An id that cannot name a job
// is already cancelled.
func (h *Handler) CancelJob(c *gin.Context) {
	id, err := types.ParseJobID(c.Param("id"))
	if err != nil {
		c.Status(http.StatusNoContent)
		return
	}
	if err := h.svc.CancelJob(c.Request.Context(), id); err != nil {
		h.fail(c, "cancel job failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetRuleJob handles GET /api/v1/rules/:id/job.
func (h *Handler) GetRuleJob(c *gin.Context) {
	job, err := h.svc.GetRuleJob(c.Request.Context(), types.RuleID(c.Param("id")))
	if err != nil {
		h.fail(c, "get rule job failed", err)
		return
	}
	c.JSON(http.StatusOK, viewOf(job))
}

// CancelRule handles DELETE /api/v1/rules/:id/job.
func (h *Handler) CancelRule(c *gin.Context) {
	if err := h.svc.CancelRule(c.Request.Context(), types.RuleID(c.Param("id"))); err != nil {
		h.fail(c, "cancel rule job failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// jobID parses the :id parameter. No job can carry a malformed id, so it
// is reported as not found.
func (h *Handler) jobID(c *gin.Context) (types.JobID, bool) {
	id, err := types.ParseJobID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found", "detail": err.Error()})
		return "", false
	}
	return id, true
}
