package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appaccounting "github.com/Amaz3n/strata-sub010/internal/application/accounting"
	"github.com/Amaz3n/strata-sub010/internal/domain/accounting"
	"github.com/Amaz3n/strata-sub010/internal/interfaces/http/middleware"
)

// DiagnosticsProvider serves sync status views and manual retries.
type DiagnosticsProvider interface {
	Status(ctx context.Context, organizationID uuid.UUID) (*appaccounting.SyncStatusView, error)
	RetryJob(ctx context.Context, organizationID, jobID uuid.UUID) (*accounting.SyncJob, error)
}

// DiagnosticsHandler exposes the admin surface: connection health, job
// counts, categorized recent failures, and dead-job retry.
type DiagnosticsHandler struct {
	BaseHandler
	diagnostics DiagnosticsProvider
}

// NewDiagnosticsHandler creates a new DiagnosticsHandler
func NewDiagnosticsHandler(diagnostics DiagnosticsProvider) *DiagnosticsHandler {
	return &DiagnosticsHandler{diagnostics: diagnostics}
}

// RetryJobResponse reports the outcome of a manual retry
type RetryJobResponse struct {
	JobID    uuid.UUID `json:"job_id"`
	State    string    `json:"state"`
	Attempts int       `json:"attempts"`
}

// GetStatus returns the organization's sync status view.
func (h *DiagnosticsHandler) GetStatus(c *gin.Context) {
	orgID, err := getOrganizationID(c)
	if err != nil {
		h.Unauthorized(c, "Organization identity required")
		return
	}

	view, err := h.diagnostics.Status(c.Request.Context(), orgID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, view)
}

// RetryJob resets a dead job so the worker pool picks it up again.
func (h *DiagnosticsHandler) RetryJob(c *gin.Context) {
	orgID, err := getOrganizationID(c)
	if err != nil {
		h.Unauthorized(c, "Organization identity required")
		return
	}

	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid job ID")
		return
	}

	job, err := h.diagnostics.RetryJob(c.Request.Context(), orgID, jobID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, RetryJobResponse{
		JobID:    job.ID,
		State:    string(job.State),
		Attempts: job.Attempts,
	})
}

// RegisterRoutes registers diagnostics routes
func (h *DiagnosticsHandler) RegisterRoutes(rg *gin.RouterGroup) {
	authed := rg.Group("", middleware.OrganizationContext())
	authed.GET("/accounting/sync/status", h.GetStatus)
	authed.POST("/accounting/sync/jobs/:id/retry", h.RetryJob)
}
