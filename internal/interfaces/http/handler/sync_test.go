package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Amaz3n/strata-sub010/internal/domain/accounting"
	"github.com/Amaz3n/strata-sub010/internal/interfaces/http/middleware"
)

type fakeRecorder struct {
	job       *accounting.SyncJob
	err       error
	gotOrg    uuid.UUID
	gotReason accounting.EnqueueReason
}

func (f *fakeRecorder) RecordInvoiceChange(_ context.Context, orgID, invoiceID uuid.UUID, reason accounting.EnqueueReason) (*accounting.SyncJob, error) {
	f.gotOrg = orgID
	f.gotReason = reason
	if f.err != nil {
		return nil, f.err
	}
	if f.job == nil {
		return nil, nil
	}
	return f.job, nil
}

func newSyncRouter(recorder InvoiceChangeRecorder) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewSyncHandler(recorder).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func TestSyncHandler_NotifyInvoiceChanged(t *testing.T) {
	orgID := uuid.New()
	invoiceID := uuid.New()

	t.Run("enqueues a job", func(t *testing.T) {
		job := accounting.NewSyncJob(orgID, accounting.EntityTypeInvoice, invoiceID, accounting.ReasonLocalMutation)
		recorder := &fakeRecorder{job: job}
		r := newSyncRouter(recorder)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/accounting/sync/invoices/"+invoiceID.String(), nil)
		req.Header.Set(middleware.OrganizationIDHeader, orgID.String())
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, orgID, recorder.gotOrg)
		assert.Equal(t, accounting.ReasonLocalMutation, recorder.gotReason)

		var resp struct {
			Data EnqueueResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Data.Queued)
		require.NotNil(t, resp.Data.JobID)
		assert.Equal(t, job.ID, *resp.Data.JobID)
	})

	t.Run("reports not queued when sync is off", func(t *testing.T) {
		recorder := &fakeRecorder{}
		r := newSyncRouter(recorder)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/accounting/sync/invoices/"+invoiceID.String(), nil)
		req.Header.Set(middleware.OrganizationIDHeader, orgID.String())
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Data EnqueueResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Data.Queued)
		assert.Nil(t, resp.Data.JobID)
	})

	t.Run("rejects a malformed invoice id", func(t *testing.T) {
		r := newSyncRouter(&fakeRecorder{})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/accounting/sync/invoices/nope", nil)
		req.Header.Set(middleware.OrganizationIDHeader, orgID.String())
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("requires organization identity", func(t *testing.T) {
		r := newSyncRouter(&fakeRecorder{})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/accounting/sync/invoices/"+invoiceID.String(), nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
