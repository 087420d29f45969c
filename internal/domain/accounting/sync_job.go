package accounting

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// EntityType identifies the kind of local financial record a job syncs
type EntityType string

const (
	EntityTypeInvoice EntityType = "invoice"
)

// IsValid returns true if the entity type is known
func (t EntityType) IsValid() bool {
	return t == EntityTypeInvoice
}

// JobState represents the lifecycle state of a sync job
type JobState string

const (
	JobStatePending    JobState = "pending"
	JobStateInProgress JobState = "in_progress"
	JobStateSucceeded  JobState = "succeeded"
	JobStateFailed     JobState = "failed"
	// JobStateDead means the retry budget is exhausted; manual retry only
	JobStateDead JobState = "dead"
)

// IsTerminal reports whether the state is retained for audit rather than
// eligible for further processing.
func (s JobState) IsTerminal() bool {
	return s == JobStateSucceeded || s == JobStateDead
}

// EnqueueReason records what triggered a sync job
type EnqueueReason string

const (
	ReasonLocalMutation         EnqueueReason = "local_mutation"
	ReasonWebhookReconciliation EnqueueReason = "webhook_reconciliation"
	ReasonManualRetry           EnqueueReason = "manual_retry"
)

// BackoffPolicy controls retry scheduling for failed jobs
type BackoffPolicy struct {
	// Base is the delay before the first retry
	Base time.Duration
	// Cap bounds the exponential growth
	Cap time.Duration
	// MaxAttempts is the retry budget; exceeding it transitions the job to dead
	MaxAttempts int
	// Jitter is the maximum fraction added on top of the exponential delay
	Jitter float64
}

// DefaultBackoffPolicy returns the production backoff policy
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:        30 * time.Second,
		Cap:         time.Hour,
		MaxAttempts: 8,
		Jitter:      0.25,
	}
}

// Delay returns the backoff delay for the given attempt number (1-based).
// Jitter only ever adds delay, so consecutive deltas stay non-decreasing
// until the cap.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Cap {
			d = p.Cap
			break
		}
	}
	if d > p.Cap {
		d = p.Cap
	}
	if p.Jitter > 0 && d < p.Cap {
		d += time.Duration(rand.Float64() * p.Jitter * float64(d))
	}
	return d
}

// SyncJob represents "this local entity needs to be pushed to or reconciled
// with the external accounting system". At most one non-terminal job exists
// per (organization, entity type, local entity id); new mutations coalesce
// into it.
type SyncJob struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	EntityType     EntityType
	LocalEntityID  uuid.UUID
	// ExternalID is empty until the first successful push
	ExternalID string
	State      JobState
	Reason     EnqueueReason
	Attempts   int
	// LastError holds the categorized, truncated failure text
	LastError     string
	LastErrorKind ErrorKind
	// NextEligibleRun gates retry scheduling
	NextEligibleRun time.Time
	// LeaseOwner and LeaseExpiresAt implement crash-tolerant claims: an
	// expired lease makes the job eligible again without a heartbeat protocol
	LeaseOwner     string
	LeaseExpiresAt *time.Time
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// maxErrorLength bounds the stored failure text so raw provider payloads
// never leak wholesale into diagnostics
const maxErrorLength = 500

// NewSyncJob creates a pending job for a local entity
func NewSyncJob(organizationID uuid.UUID, entityType EntityType, localEntityID uuid.UUID, reason EnqueueReason) *SyncJob {
	now := time.Now()
	return &SyncJob{
		ID:              uuid.New(),
		OrganizationID:  organizationID,
		EntityType:      entityType,
		LocalEntityID:   localEntityID,
		State:           JobStatePending,
		Reason:          reason,
		NextEligibleRun: now,
		IdempotencyKey:  uuid.NewString(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Coalesce merges a new mutation signal into an already-queued job: the
// reason reflects the most recent trigger, nothing else changes.
func (j *SyncJob) Coalesce(reason EnqueueReason) {
	j.Reason = reason
	j.UpdatedAt = time.Now()
}

// Claim transitions the job to in_progress under a lease
func (j *SyncJob) Claim(owner string, leaseTTL time.Duration) {
	now := time.Now()
	expires := now.Add(leaseTTL)
	j.State = JobStateInProgress
	j.LeaseOwner = owner
	j.LeaseExpiresAt = &expires
	j.UpdatedAt = now
}

// Succeed marks the job terminal-successful and records the external id
func (j *SyncJob) Succeed(externalID string) {
	j.State = JobStateSucceeded
	if externalID != "" {
		j.ExternalID = externalID
	}
	j.LastError = ""
	j.LeaseOwner = ""
	j.LeaseExpiresAt = nil
	j.UpdatedAt = time.Now()
}

// Fail records a retryable failure, scheduling the next attempt with the
// policy's backoff. A provider retry-after hint overrides the computed delay.
// Exceeding the retry budget transitions the job to dead.
func (j *SyncJob) Fail(kind ErrorKind, message string, policy BackoffPolicy, retryAfter time.Duration) {
	j.Attempts++
	j.LastErrorKind = kind
	j.LastError = truncateError(message)
	j.LeaseOwner = ""
	j.LeaseExpiresAt = nil
	j.UpdatedAt = time.Now()

	if j.Attempts > policy.MaxAttempts {
		j.State = JobStateDead
		return
	}

	delay := policy.Delay(j.Attempts)
	if retryAfter > 0 {
		delay = retryAfter
	}
	j.State = JobStateFailed
	j.NextEligibleRun = time.Now().Add(delay)
}

// MarkDead forces the job terminal-failed regardless of remaining budget
func (j *SyncJob) MarkDead(kind ErrorKind, message string) {
	j.Attempts++
	j.State = JobStateDead
	j.LastErrorKind = kind
	j.LastError = truncateError(message)
	j.LeaseOwner = ""
	j.LeaseExpiresAt = nil
	j.UpdatedAt = time.Now()
}

// ResetForRetry re-enqueues a dead job with a fresh retry budget. Only dead
// jobs may be manually retried.
func (j *SyncJob) ResetForRetry() error {
	if j.State != JobStateDead {
		return ErrJobNotDead
	}
	j.State = JobStatePending
	j.Attempts = 0
	j.LastError = ""
	j.LastErrorKind = ""
	j.Reason = ReasonManualRetry
	j.NextEligibleRun = time.Now()
	j.UpdatedAt = time.Now()
	return nil
}

func truncateError(s string) string {
	if len(s) > maxErrorLength {
		return s[:maxErrorLength]
	}
	return s
}

// SyncJobRepository is the durable, per-entity outbox of synchronization
// jobs. Claiming is atomic at the storage layer so multiple worker instances
// are safe by construction.
type SyncJobRepository interface {
	// Enqueue coalesces into the existing non-terminal job for
	// (organization, entity type, local entity id) or inserts a new pending
	// job. Implemented as a single atomic upsert backed by a partial unique
	// constraint.
	Enqueue(ctx context.Context, organizationID uuid.UUID, entityType EntityType, localEntityID uuid.UUID, reason EnqueueReason) (*SyncJob, error)

	// DequeueBatch atomically claims up to limit eligible jobs under a lease.
	// Eligible: pending, failed past next_eligible_run, or in_progress with
	// an expired lease. Jobs of organizations whose connection is in error
	// state are skipped entirely.
	DequeueBatch(ctx context.Context, owner string, limit int, leaseTTL time.Duration) ([]*SyncJob, error)

	// MarkSucceeded persists a terminal-successful transition. The write is
	// guarded on the claiming owner still holding the job in_progress;
	// ErrLeaseLost means another worker reclaimed it and the result must be
	// discarded.
	MarkSucceeded(ctx context.Context, owner string, job *SyncJob) error

	// MarkFailed persists a failed (or dead, if the budget is exhausted)
	// transition including the recomputed next_eligible_run. Guarded the same
	// way as MarkSucceeded.
	MarkFailed(ctx context.Context, owner string, job *SyncJob) error

	// FindByID loads a single job
	FindByID(ctx context.Context, id uuid.UUID) (*SyncJob, error)

	// ResetDead resets a dead job to pending with attempt count zero
	ResetDead(ctx context.Context, id uuid.UUID) (*SyncJob, error)

	// CountByState returns job counts per state for an organization
	CountByState(ctx context.Context, organizationID uuid.UUID) (map[JobState]int64, error)

	// RecentFailures returns the most recent failed and dead jobs
	RecentFailures(ctx context.Context, organizationID uuid.UUID, limit int) ([]*SyncJob, error)

	// CancelPendingForOrganization removes non-terminal jobs on disconnect
	CancelPendingForOrganization(ctx context.Context, organizationID uuid.UUID) (int64, error)
}
