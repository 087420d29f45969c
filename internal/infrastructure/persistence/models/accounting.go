package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Amaz3n/strata-sub010/internal/domain/accounting"
)

// ConnectionModel is the persistence model for the accounting Connection
// aggregate. The partial unique index enforces at most one non-disconnected
// connection per organization.
type ConnectionModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key"`
	OrganizationID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:ux_accounting_connections_active,where:status <> 'disconnected'"`
	RealmID        string    `gorm:"type:varchar(64);not null;index"`
	AccessToken    string    `gorm:"type:text;not null"`
	RefreshToken   string    `gorm:"type:text;not null"`
	TokenExpiresAt time.Time `gorm:"not null"`
	Status         string    `gorm:"type:varchar(20);not null;index"`
	LastRefreshed  *time.Time
	SettingsJSON   string `gorm:"type:jsonb;column:settings"`
	DisconnectedAt *time.Time
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ConnectionModel) TableName() string {
	return "accounting_connections"
}

// ToDomain converts the persistence model to a domain Connection
func (m *ConnectionModel) ToDomain() *accounting.Connection {
	conn := &accounting.Connection{
		ID:              m.ID,
		OrganizationID:  m.OrganizationID,
		RealmID:         m.RealmID,
		AccessToken:     m.AccessToken,
		RefreshToken:    m.RefreshToken,
		TokenExpiresAt:  m.TokenExpiresAt,
		Status:          accounting.ConnectionStatus(m.Status),
		LastRefreshedAt: m.LastRefreshed,
		DisconnectedAt:  m.DisconnectedAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}

	conn.Settings = accounting.SyncSettings{AccountMappings: map[string]string{}}
	if m.SettingsJSON != "" {
		_ = json.Unmarshal([]byte(m.SettingsJSON), &conn.Settings)
	}

	return conn
}

// FromDomain populates the persistence model from a domain Connection
func (m *ConnectionModel) FromDomain(c *accounting.Connection) {
	m.ID = c.ID
	m.OrganizationID = c.OrganizationID
	m.RealmID = c.RealmID
	m.AccessToken = c.AccessToken
	m.RefreshToken = c.RefreshToken
	m.TokenExpiresAt = c.TokenExpiresAt
	m.Status = c.Status.String()
	m.LastRefreshed = c.LastRefreshedAt
	m.DisconnectedAt = c.DisconnectedAt
	m.CreatedAt = c.CreatedAt
	m.UpdatedAt = c.UpdatedAt

	if data, err := json.Marshal(c.Settings); err == nil {
		m.SettingsJSON = string(data)
	}
}

// ConnectionModelFromDomain creates a new persistence model from a domain
// Connection
func ConnectionModelFromDomain(c *accounting.Connection) *ConnectionModel {
	m := &ConnectionModel{}
	m.FromDomain(c)
	return m
}

// SyncJobModel is the persistence model for SyncJob. The partial unique
// index over the coalescing key restricted to non-terminal states is what
// makes enqueue race-free: two concurrent mutations cannot both insert.
type SyncJobModel struct {
	ID              uuid.UUID `gorm:"type:uuid;primary_key"`
	OrganizationID  uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:ux_sync_jobs_active,where:state IN ('pending'\,'in_progress'\,'failed')"`
	EntityType      string    `gorm:"type:varchar(32);not null;uniqueIndex:ux_sync_jobs_active,where:state IN ('pending'\,'in_progress'\,'failed')"`
	LocalEntityID   uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:ux_sync_jobs_active,where:state IN ('pending'\,'in_progress'\,'failed')"`
	ExternalID      string    `gorm:"type:varchar(64)"`
	State           string    `gorm:"type:varchar(20);not null;index"`
	Reason          string    `gorm:"type:varchar(40);not null"`
	Attempts        int       `gorm:"not null;default:0"`
	LastError       string    `gorm:"type:text"`
	LastErrorKind   string    `gorm:"type:varchar(40)"`
	NextEligibleRun time.Time `gorm:"not null;index"`
	LeaseOwner      string    `gorm:"type:varchar(64)"`
	LeaseExpiresAt  *time.Time
	IdempotencyKey  string    `gorm:"type:varchar(64);not null"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (SyncJobModel) TableName() string {
	return "sync_jobs"
}

// ToDomain converts the persistence model to a domain SyncJob
func (m *SyncJobModel) ToDomain() *accounting.SyncJob {
	return &accounting.SyncJob{
		ID:              m.ID,
		OrganizationID:  m.OrganizationID,
		EntityType:      accounting.EntityType(m.EntityType),
		LocalEntityID:   m.LocalEntityID,
		ExternalID:      m.ExternalID,
		State:           accounting.JobState(m.State),
		Reason:          accounting.EnqueueReason(m.Reason),
		Attempts:        m.Attempts,
		LastError:       m.LastError,
		LastErrorKind:   accounting.ErrorKind(m.LastErrorKind),
		NextEligibleRun: m.NextEligibleRun,
		LeaseOwner:      m.LeaseOwner,
		LeaseExpiresAt:  m.LeaseExpiresAt,
		IdempotencyKey:  m.IdempotencyKey,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain SyncJob
func (m *SyncJobModel) FromDomain(j *accounting.SyncJob) {
	m.ID = j.ID
	m.OrganizationID = j.OrganizationID
	m.EntityType = string(j.EntityType)
	m.LocalEntityID = j.LocalEntityID
	m.ExternalID = j.ExternalID
	m.State = string(j.State)
	m.Reason = string(j.Reason)
	m.Attempts = j.Attempts
	m.LastError = j.LastError
	m.LastErrorKind = string(j.LastErrorKind)
	m.NextEligibleRun = j.NextEligibleRun
	m.LeaseOwner = j.LeaseOwner
	m.LeaseExpiresAt = j.LeaseExpiresAt
	m.IdempotencyKey = j.IdempotencyKey
	m.CreatedAt = j.CreatedAt
	m.UpdatedAt = j.UpdatedAt
}

// SyncJobModelFromDomain creates a new persistence model from a domain
// SyncJob
func SyncJobModelFromDomain(j *accounting.SyncJob) *SyncJobModel {
	m := &SyncJobModel{}
	m.FromDomain(j)
	return m
}

// InvoiceSyncStatusModel is the sync-state projection stored alongside each
// synced invoice
type InvoiceSyncStatusModel struct {
	InvoiceID      uuid.UUID `gorm:"type:uuid;primary_key"`
	OrganizationID uuid.UUID `gorm:"type:uuid;not null;index:idx_invoice_sync_statuses_org_external,priority:1"`
	ExternalID     string    `gorm:"type:varchar(64);index:idx_invoice_sync_statuses_org_external,priority:2"`
	LastSyncedAt   *time.Time
	LastSyncState  string    `gorm:"type:varchar(20)"`
	LastErrorKind  string    `gorm:"type:varchar(40)"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (InvoiceSyncStatusModel) TableName() string {
	return "invoice_sync_statuses"
}

// ToDomain converts the persistence model to a domain InvoiceSyncStatus
func (m *InvoiceSyncStatusModel) ToDomain() *accounting.InvoiceSyncStatus {
	return &accounting.InvoiceSyncStatus{
		InvoiceID:      m.InvoiceID,
		OrganizationID: m.OrganizationID,
		ExternalID:     m.ExternalID,
		LastSyncedAt:   m.LastSyncedAt,
		LastSyncState:  accounting.JobState(m.LastSyncState),
		LastErrorKind:  accounting.ErrorKind(m.LastErrorKind),
		UpdatedAt:      m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain InvoiceSyncStatus
func (m *InvoiceSyncStatusModel) FromDomain(s *accounting.InvoiceSyncStatus) {
	m.InvoiceID = s.InvoiceID
	m.OrganizationID = s.OrganizationID
	m.ExternalID = s.ExternalID
	m.LastSyncedAt = s.LastSyncedAt
	m.LastSyncState = string(s.LastSyncState)
	m.LastErrorKind = string(s.LastErrorKind)
	m.UpdatedAt = s.UpdatedAt
}

// InvoiceNumberReservationModel implements the atomic claim on invoice
// numbers: the unique constraint is the whole mechanism.
type InvoiceNumberReservationModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key"`
	OrganizationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_invoice_number_reservations_org_number,priority:1"`
	Number         string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_invoice_number_reservations_org_number,priority:2"`
	CreatedAt      time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (InvoiceNumberReservationModel) TableName() string {
	return "invoice_number_reservations"
}

// InvoiceModel is the minimal read model over the CRUD-owned invoices table.
// This subsystem only reads snapshots from it; ownership stays with the CRUD
// layer.
type InvoiceModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key"`
	OrganizationID uuid.UUID `gorm:"type:uuid;not null;index"`
	Number         string    `gorm:"type:varchar(64);not null"`
	CustomerName   string    `gorm:"type:varchar(255)"`
	Currency       string    `gorm:"type:varchar(3);not null;default:'USD'"`
	Status         string    `gorm:"type:varchar(20);not null"`
	DueDate        *time.Time
	LinesJSON      string    `gorm:"type:jsonb;column:lines"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (InvoiceModel) TableName() string {
	return "invoices"
}

// ToSnapshot converts the read model to a domain InvoiceSnapshot
func (m *InvoiceModel) ToSnapshot() *accounting.InvoiceSnapshot {
	snap := &accounting.InvoiceSnapshot{
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		Number:         m.Number,
		CustomerName:   m.CustomerName,
		Currency:       m.Currency,
		Status:         m.Status,
		DueDate:        m.DueDate,
		UpdatedAt:      m.UpdatedAt,
	}
	if m.LinesJSON != "" {
		_ = json.Unmarshal([]byte(m.LinesJSON), &snap.Lines)
	}
	return snap
}

// AllModels returns every model owned by the sync subsystem, in migration
// order. The invoices table belongs to the CRUD layer and is excluded.
func AllModels() []any {
	return []any{
		&ConnectionModel{},
		&SyncJobModel{},
		&InvoiceSyncStatusModel{},
		&InvoiceNumberReservationModel{},
	}
}
