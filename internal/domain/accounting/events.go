package accounting

import (
	"github.com/google/uuid"

	"github.com/Amaz3n/strata-sub010/internal/domain/shared"
)

// Event types emitted by the sync subsystem. Consumed by the external
// audit/notification collaborator; this core sends no user-facing
// notifications itself.
const (
	EventTypeConnectionEstablished  = "accounting.connection.established"
	EventTypeConnectionErrored      = "accounting.connection.errored"
	EventTypeConnectionDisconnected = "accounting.connection.disconnected"
	EventTypeSyncJobEnqueued        = "accounting.sync_job.enqueued"
	EventTypeSyncSucceeded          = "accounting.sync.succeeded"
	EventTypeSyncFailed             = "accounting.sync.failed"
)

const aggregateTypeConnection = "AccountingConnection"
const aggregateTypeSyncJob = "SyncJob"

// ConnectionEstablishedEvent is emitted on OAuth callback completion
type ConnectionEstablishedEvent struct {
	shared.BaseDomainEvent
	RealmID string `json:"realm_id"`
}

// NewConnectionEstablishedEvent creates a connection-established event
func NewConnectionEstablishedEvent(conn *Connection) *ConnectionEstablishedEvent {
	return &ConnectionEstablishedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeConnectionEstablished, aggregateTypeConnection, conn.ID, conn.OrganizationID),
		RealmID:         conn.RealmID,
	}
}

// ConnectionErroredEvent is emitted when token refresh hits a revoked token
type ConnectionErroredEvent struct {
	shared.BaseDomainEvent
	Reason string `json:"reason"`
}

// NewConnectionErroredEvent creates a connection-errored event
func NewConnectionErroredEvent(conn *Connection, reason string) *ConnectionErroredEvent {
	return &ConnectionErroredEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeConnectionErrored, aggregateTypeConnection, conn.ID, conn.OrganizationID),
		Reason:          reason,
	}
}

// ConnectionDisconnectedEvent is emitted on explicit disconnect
type ConnectionDisconnectedEvent struct {
	shared.BaseDomainEvent
	CancelledJobs int64 `json:"cancelled_jobs"`
}

// NewConnectionDisconnectedEvent creates a disconnected event
func NewConnectionDisconnectedEvent(conn *Connection, cancelledJobs int64) *ConnectionDisconnectedEvent {
	return &ConnectionDisconnectedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeConnectionDisconnected, aggregateTypeConnection, conn.ID, conn.OrganizationID),
		CancelledJobs:   cancelledJobs,
	}
}

// SyncJobEnqueuedEvent is emitted for each newly created (not coalesced) job
type SyncJobEnqueuedEvent struct {
	shared.BaseDomainEvent
	EntityType    EntityType    `json:"entity_type"`
	LocalEntityID uuid.UUID     `json:"local_entity_id"`
	Reason        EnqueueReason `json:"reason"`
}

// NewSyncJobEnqueuedEvent creates an enqueued event
func NewSyncJobEnqueuedEvent(job *SyncJob) *SyncJobEnqueuedEvent {
	return &SyncJobEnqueuedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSyncJobEnqueued, aggregateTypeSyncJob, job.ID, job.OrganizationID),
		EntityType:      job.EntityType,
		LocalEntityID:   job.LocalEntityID,
		Reason:          job.Reason,
	}
}

// SyncSucceededEvent is emitted when a job reaches succeeded state
type SyncSucceededEvent struct {
	shared.BaseDomainEvent
	EntityType    EntityType `json:"entity_type"`
	LocalEntityID uuid.UUID  `json:"local_entity_id"`
	ExternalID    string     `json:"external_id"`
}

// NewSyncSucceededEvent creates a sync-succeeded event
func NewSyncSucceededEvent(job *SyncJob) *SyncSucceededEvent {
	return &SyncSucceededEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSyncSucceeded, aggregateTypeSyncJob, job.ID, job.OrganizationID),
		EntityType:      job.EntityType,
		LocalEntityID:   job.LocalEntityID,
		ExternalID:      job.ExternalID,
	}
}

// SyncFailedEvent is emitted on failed and dead transitions. Carries the
// categorized kind only, never the raw provider payload.
type SyncFailedEvent struct {
	shared.BaseDomainEvent
	EntityType    EntityType `json:"entity_type"`
	LocalEntityID uuid.UUID  `json:"local_entity_id"`
	ErrorKind     ErrorKind  `json:"error_kind"`
	Attempts      int        `json:"attempts"`
	Dead          bool       `json:"dead"`
}

// NewSyncFailedEvent creates a sync-failed event
func NewSyncFailedEvent(job *SyncJob) *SyncFailedEvent {
	return &SyncFailedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSyncFailed, aggregateTypeSyncJob, job.ID, job.OrganizationID),
		EntityType:      job.EntityType,
		LocalEntityID:   job.LocalEntityID,
		ErrorKind:       job.LastErrorKind,
		Attempts:        job.Attempts,
		Dead:            job.State == JobStateDead,
	}
}
