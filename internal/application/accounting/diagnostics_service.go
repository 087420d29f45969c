package accounting

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Amaz3n/strata-sub010/internal/domain/accounting"
	"github.com/Amaz3n/strata-sub010/internal/domain/shared"
)

// SyncStatusView is the admin-facing picture of an organization's sync
// health
type SyncStatusView struct {
	Connected        bool                       `json:"connected"`
	Status           string                     `json:"status"`
	RealmID          string                     `json:"realm_id,omitempty"`
	SyncEnabled      bool                       `json:"sync_enabled"`
	LastRefreshedAt  *time.Time                 `json:"last_refreshed_at,omitempty"`
	JobCounts        map[accounting.JobState]int64 `json:"job_counts"`
	RecentFailures   []FailureView              `json:"recent_failures"`
}

// FailureView is one categorized failure. Raw provider payloads are never
// exposed here; operators see the error category and the stored summary.
type FailureView struct {
	JobID         uuid.UUID `json:"job_id"`
	InvoiceID     uuid.UUID `json:"invoice_id"`
	State         string    `json:"state"`
	Kind          string    `json:"kind"`
	Summary       string    `json:"summary"`
	Attempts      int       `json:"attempts"`
	NextEligible  time.Time `json:"next_eligible_run"`
	LastUpdatedAt time.Time `json:"updated_at"`
}

// DiagnosticsService serves the admin surface: sync status, failure
// listings, and manual retry of dead jobs.
type DiagnosticsService struct {
	connections accounting.ConnectionRepository
	jobs        accounting.SyncJobRepository
	logger      *zap.Logger
}

// NewDiagnosticsService creates a new DiagnosticsService
func NewDiagnosticsService(connections accounting.ConnectionRepository, jobs accounting.SyncJobRepository, logger *zap.Logger) *DiagnosticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiagnosticsService{
		connections: connections,
		jobs:        jobs,
		logger:      logger,
	}
}

// Status assembles the sync health view for an organization. A missing
// connection is a valid answer, not an error.
func (s *DiagnosticsService) Status(ctx context.Context, organizationID uuid.UUID) (*SyncStatusView, error) {
	view := &SyncStatusView{
		Status:         string(accounting.ConnectionStatusDisconnected),
		JobCounts:      map[accounting.JobState]int64{},
		RecentFailures: []FailureView{},
	}

	conn, err := s.connections.FindByOrganization(ctx, organizationID)
	if err != nil {
		if errors.Is(err, accounting.ErrNotConnected) {
			return view, nil
		}
		return nil, err
	}

	view.Connected = conn.IsActive()
	view.Status = string(conn.Status)
	view.RealmID = conn.RealmID
	view.SyncEnabled = conn.Settings.Enabled
	view.LastRefreshedAt = conn.LastRefreshedAt

	counts, err := s.jobs.CountByState(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	view.JobCounts = counts

	failures, err := s.jobs.RecentFailures(ctx, organizationID, 20)
	if err != nil {
		return nil, err
	}
	for _, job := range failures {
		view.RecentFailures = append(view.RecentFailures, FailureView{
			JobID:         job.ID,
			InvoiceID:     job.LocalEntityID,
			State:         string(job.State),
			Kind:          job.LastErrorKind.String(),
			Summary:       job.LastError,
			Attempts:      job.Attempts,
			NextEligible:  job.NextEligibleRun,
			LastUpdatedAt: job.UpdatedAt,
		})
	}
	return view, nil
}

// RetryJob re-enqueues a dead job with a fresh retry budget. Jobs of other
// organizations are invisible to the caller.
func (s *DiagnosticsService) RetryJob(ctx context.Context, organizationID, jobID uuid.UUID) (*accounting.SyncJob, error) {
	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OrganizationID != organizationID {
		return nil, shared.ErrNotFound
	}

	reset, err := s.jobs.ResetDead(ctx, jobID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("dead job manually retried",
		zap.String("organization_id", organizationID.String()),
		zap.String("job_id", jobID.String()),
	)
	return reset, nil
}
