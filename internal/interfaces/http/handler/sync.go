package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Amaz3n/strata-sub010/internal/domain/accounting"
	"github.com/Amaz3n/strata-sub010/internal/interfaces/http/middleware"
)

// InvoiceChangeRecorder enqueues synchronization work for a changed invoice.
type InvoiceChangeRecorder interface {
	RecordInvoiceChange(ctx context.Context, organizationID, invoiceID uuid.UUID, reason accounting.EnqueueReason) (*accounting.SyncJob, error)
}

// SyncHandler receives change notifications from the invoicing service.
// Repeated notifications for the same invoice coalesce into one queued job.
type SyncHandler struct {
	BaseHandler
	recorder InvoiceChangeRecorder
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(recorder InvoiceChangeRecorder) *SyncHandler {
	return &SyncHandler{recorder: recorder}
}

// EnqueueResponse describes the queued (or coalesced-into) job
type EnqueueResponse struct {
	Queued bool       `json:"queued"`
	JobID  *uuid.UUID `json:"job_id,omitempty"`
	State  string     `json:"state,omitempty"`
}

// NotifyInvoiceChanged enqueues a sync job for a changed invoice. When the
// organization has no connection or sync is disabled this is a no-op, not an
// error: callers fire and forget.
func (h *SyncHandler) NotifyInvoiceChanged(c *gin.Context) {
	orgID, err := getOrganizationID(c)
	if err != nil {
		h.Unauthorized(c, "Organization identity required")
		return
	}

	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid invoice ID")
		return
	}

	job, err := h.recorder.RecordInvoiceChange(c.Request.Context(), orgID, invoiceID, accounting.ReasonLocalMutation)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if job == nil {
		h.Success(c, EnqueueResponse{Queued: false})
		return
	}

	h.Success(c, EnqueueResponse{
		Queued: true,
		JobID:  &job.ID,
		State:  string(job.State),
	})
}

// RegisterRoutes registers sync trigger routes
func (h *SyncHandler) RegisterRoutes(rg *gin.RouterGroup) {
	authed := rg.Group("", middleware.OrganizationContext())
	authed.POST("/accounting/sync/invoices/:id", h.NotifyInvoiceChanged)
}
