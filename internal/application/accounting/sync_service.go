package accounting

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Amaz3n/strata-sub010/internal/domain/accounting"
	"github.com/Amaz3n/strata-sub010/internal/domain/shared"
	"github.com/Amaz3n/strata-sub010/internal/infrastructure/telemetry"
)

// SyncService owns the push side of synchronization: it records that local
// invoices changed and processes the resulting jobs against the provider.
type SyncService struct {
	jobs      accounting.SyncJobRepository
	tokens    *TokenService
	invoices  accounting.InvoiceReader
	statuses  accounting.InvoiceSyncStatusRepository
	gateway   accounting.AccountingGateway
	policy    accounting.BackoffPolicy
	publisher shared.EventPublisher
	logger    *zap.Logger
}

// SyncServiceConfig holds the dependencies for SyncService
type SyncServiceConfig struct {
	Jobs      accounting.SyncJobRepository
	Tokens    *TokenService
	Invoices  accounting.InvoiceReader
	Statuses  accounting.InvoiceSyncStatusRepository
	Gateway   accounting.AccountingGateway
	Policy    accounting.BackoffPolicy
	Publisher shared.EventPublisher
	Logger    *zap.Logger
}

// NewSyncService creates a new SyncService
func NewSyncService(cfg SyncServiceConfig) *SyncService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := cfg.Policy
	if policy.MaxAttempts == 0 {
		policy = accounting.DefaultBackoffPolicy()
	}
	return &SyncService{
		jobs:      cfg.Jobs,
		tokens:    cfg.Tokens,
		invoices:  cfg.Invoices,
		statuses:  cfg.Statuses,
		gateway:   cfg.Gateway,
		policy:    policy,
		publisher: cfg.Publisher,
		logger:    logger,
	}
}

// RecordInvoiceChange enqueues a sync job after a local invoice mutation.
// Repeated mutations before the worker runs coalesce into one job, and the
// worker reads the invoice at claim time, so the latest state always wins.
// Organizations without an active, enabled connection enqueue nothing.
func (s *SyncService) RecordInvoiceChange(ctx context.Context, organizationID, invoiceID uuid.UUID, reason accounting.EnqueueReason) (*accounting.SyncJob, error) {
	conn, err := s.tokens.connections.FindByOrganization(ctx, organizationID)
	if err != nil {
		if errors.Is(err, accounting.ErrNotConnected) {
			return nil, nil
		}
		return nil, err
	}
	if !conn.Settings.Enabled {
		return nil, nil
	}

	job, err := s.jobs.Enqueue(ctx, organizationID, accounting.EntityTypeInvoice, invoiceID, reason)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("sync job enqueued",
		zap.String("organization_id", organizationID.String()),
		zap.String("invoice_id", invoiceID.String()),
		zap.String("reason", string(reason)),
	)
	if s.publisher != nil {
		_ = s.publisher.Publish(ctx, accounting.NewSyncJobEnqueuedEvent(job))
	}
	return job, nil
}

// ProcessJob runs one claimed job to a terminal or retryable state. It never
// returns transport errors to the caller; every failure is resolved into a
// job transition.
func (s *SyncService) ProcessJob(ctx context.Context, job *accounting.SyncJob) {
	ctx, span := telemetry.StartServiceSpan(ctx, "sync_job", "process",
		telemetry.WithAttribute(telemetry.SpanAttrJobID, job.ID),
		telemetry.WithAttribute(telemetry.SpanAttrOrganizationID, job.OrganizationID),
		telemetry.WithAttribute(telemetry.SpanAttrEntityType, string(job.EntityType)),
		telemetry.WithAttribute(telemetry.SpanAttrReason, string(job.Reason)),
	)
	defer span.End()

	// Snapshot before token: a locally deleted invoice completes as a no-op
	// even when the organization's tokens are broken.
	snapshot, err := s.invoices.FindSnapshot(ctx, job.OrganizationID, job.LocalEntityID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			// The invoice was deleted before we got to it. Nothing to
			// push; the job completes as a no-op.
			s.resolveSuccess(ctx, job, nil, job.ExternalID)
			return
		}
		s.resolveFailure(ctx, job, accounting.NewTransientError("failed to load invoice", err))
		return
	}

	conn, err := s.tokens.FreshConnection(ctx, job.OrganizationID)
	if err != nil {
		s.resolveFailure(ctx, job, err)
		return
	}

	externalID := s.knownExternalID(ctx, job)
	if externalID == "" {
		s.create(ctx, job, conn, snapshot)
		return
	}
	s.update(ctx, job, conn, snapshot, externalID)
}

func (s *SyncService) create(ctx context.Context, job *accounting.SyncJob, conn *accounting.Connection, snapshot *accounting.InvoiceSnapshot) {
	externalID, err := s.gateway.CreateInvoice(ctx, conn.AccessToken, conn.RealmID, snapshot, conn.Settings)
	if err != nil {
		s.resolveFailure(ctx, job, err)
		return
	}
	s.resolveSuccess(ctx, job, snapshot, externalID)
}

func (s *SyncService) update(ctx context.Context, job *accounting.SyncJob, conn *accounting.Connection, snapshot *accounting.InvoiceSnapshot, externalID string) {
	err := s.gateway.UpdateInvoice(ctx, conn.AccessToken, conn.RealmID, externalID, snapshot, conn.Settings)
	if err == nil {
		s.resolveSuccess(ctx, job, snapshot, externalID)
		return
	}

	if accounting.KindOf(err) == accounting.ErrorKindNotFoundRemote {
		// Deleted out-of-band on the provider side. Local state is
		// authoritative, so re-create under a fresh external id.
		s.logger.Info("remote record gone, re-creating",
			zap.String("job_id", job.ID.String()),
			zap.String("external_id", externalID),
		)
		s.create(ctx, job, conn, snapshot)
		return
	}
	s.resolveFailure(ctx, job, err)
}

// knownExternalID returns the provider-side id for the job's invoice, empty
// when the invoice has never been pushed
func (s *SyncService) knownExternalID(ctx context.Context, job *accounting.SyncJob) string {
	if job.ExternalID != "" {
		return job.ExternalID
	}
	status, err := s.statuses.Find(ctx, job.OrganizationID, job.LocalEntityID)
	if err != nil {
		return ""
	}
	return status.ExternalID
}

func (s *SyncService) resolveSuccess(ctx context.Context, job *accounting.SyncJob, snapshot *accounting.InvoiceSnapshot, externalID string) {
	// Outcome writes run detached from the job context: a deadline that
	// fired mid-call must not also swallow the transition, or the attempt
	// never gets recorded.
	ctx = context.WithoutCancel(ctx)

	owner := job.LeaseOwner
	job.Succeed(externalID)
	telemetry.SetAttributes(telemetry.SpanFromContext(ctx), telemetry.SpanAttrExternalID, job.ExternalID)
	if err := s.jobs.MarkSucceeded(ctx, owner, job); err != nil {
		if errors.Is(err, accounting.ErrLeaseLost) {
			s.logger.Warn("job reclaimed by another worker, discarding success",
				zap.String("job_id", job.ID.String()),
				zap.String("owner", owner),
			)
			return
		}
		s.logger.Error("failed to persist job success",
			zap.String("job_id", job.ID.String()),
			zap.Error(err),
		)
		return
	}

	if snapshot != nil {
		now := time.Now()
		s.upsertStatus(ctx, &accounting.InvoiceSyncStatus{
			InvoiceID:      job.LocalEntityID,
			OrganizationID: job.OrganizationID,
			ExternalID:     job.ExternalID,
			LastSyncedAt:   &now,
			LastSyncState:  accounting.JobStateSucceeded,
			UpdatedAt:      now,
		})
	}

	s.logger.Info("sync job succeeded",
		zap.String("job_id", job.ID.String()),
		zap.String("external_id", job.ExternalID),
	)
	if s.publisher != nil {
		_ = s.publisher.Publish(ctx, accounting.NewSyncSucceededEvent(job))
	}
}

func (s *SyncService) resolveFailure(ctx context.Context, job *accounting.SyncJob, cause error) {
	ctx = context.WithoutCancel(ctx)

	kind := accounting.KindOf(cause)
	owner := job.LeaseOwner
	job.Fail(kind, cause.Error(), s.policy, accounting.RetryAfterOf(cause))

	span := telemetry.SpanFromContext(ctx)
	telemetry.SetAttributes(span, telemetry.SpanAttrErrorKind, kind.String())
	telemetry.RecordError(span, cause)

	if kind == accounting.ErrorKindReauthorizationRequired {
		// A reauthorization-class failure halts the whole organization, not
		// just this job: flipping the connection into the error state makes
		// DequeueBatch skip its jobs until the user reconnects.
		s.haltOrganization(ctx, job.OrganizationID, cause)
	}

	if err := s.jobs.MarkFailed(ctx, owner, job); err != nil {
		if errors.Is(err, accounting.ErrLeaseLost) {
			s.logger.Warn("job reclaimed by another worker, discarding failure",
				zap.String("job_id", job.ID.String()),
				zap.String("owner", owner),
			)
			return
		}
		s.logger.Error("failed to persist job failure",
			zap.String("job_id", job.ID.String()),
			zap.Error(err),
		)
		return
	}

	s.upsertStatus(ctx, &accounting.InvoiceSyncStatus{
		InvoiceID:      job.LocalEntityID,
		OrganizationID: job.OrganizationID,
		ExternalID:     job.ExternalID,
		LastSyncState:  job.State,
		LastErrorKind:  kind,
		UpdatedAt:      time.Now(),
	})

	s.logger.Warn("sync job failed",
		zap.String("job_id", job.ID.String()),
		zap.String("kind", kind.String()),
		zap.String("state", string(job.State)),
		zap.Int("attempts", job.Attempts),
		zap.Error(cause),
	)
	if s.publisher != nil {
		_ = s.publisher.Publish(ctx, accounting.NewSyncFailedEvent(job))
	}
}

// haltOrganization marks the organization's connection errored so its
// remaining jobs stop being claimed. Idempotent: an already-errored
// connection is left alone.
func (s *SyncService) haltOrganization(ctx context.Context, organizationID uuid.UUID, cause error) {
	conn, err := s.tokens.connections.FindByOrganization(ctx, organizationID)
	if err != nil {
		s.logger.Error("failed to load connection for reauthorization halt",
			zap.String("organization_id", organizationID.String()),
			zap.Error(err),
		)
		return
	}
	if conn.Status == accounting.ConnectionStatusError {
		return
	}
	s.tokens.markErrored(ctx, conn, cause)
}

func (s *SyncService) upsertStatus(ctx context.Context, status *accounting.InvoiceSyncStatus) {
	if err := s.statuses.Upsert(ctx, status); err != nil {
		s.logger.Error("failed to update invoice sync status",
			zap.String("invoice_id", status.InvoiceID.String()),
			zap.Error(err),
		)
	}
}
