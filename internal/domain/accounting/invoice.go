package accounting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceLine is one billable line of an invoice snapshot
type InvoiceLine struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitAmount  decimal.Decimal `json:"unit_amount"`
	// Category is the local category mapped to an external account via
	// the connection's sync settings
	Category string `json:"category"`
}

// Amount returns the line total
func (l InvoiceLine) Amount() decimal.Decimal {
	return l.Quantity.Mul(l.UnitAmount)
}

// InvoiceSnapshot is the read-only view of a local invoice the sync worker
// pushes outward. The CRUD layer owns the invoice; this core references it
// by id and reads the snapshot at claim time, which per-entity job ordering
// guarantees is the latest.
type InvoiceSnapshot struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Number         string
	CustomerName   string
	Currency       string
	Status         string
	DueDate        *time.Time
	Lines          []InvoiceLine
	UpdatedAt      time.Time
}

// Total returns the invoice total across all lines
func (s *InvoiceSnapshot) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.Lines {
		total = total.Add(l.Amount())
	}
	return total
}

// InvoiceReader loads invoice snapshots from the CRUD-owned store.
// Returns shared.ErrNotFound when the invoice was deleted before syncing.
type InvoiceReader interface {
	FindSnapshot(ctx context.Context, organizationID, invoiceID uuid.UUID) (*InvoiceSnapshot, error)
}

// InvoiceSyncStatus is the small sync-state projection stored alongside each
// synced invoice.
type InvoiceSyncStatus struct {
	InvoiceID      uuid.UUID
	OrganizationID uuid.UUID
	ExternalID     string
	LastSyncedAt   *time.Time
	LastSyncState  JobState
	LastErrorKind  ErrorKind
	UpdatedAt      time.Time
}

// InvoiceSyncStatusRepository persists the sync-state projection
type InvoiceSyncStatusRepository interface {
	// Find returns the projection for an invoice, ErrNotFound when the
	// invoice has never been touched by the sync subsystem
	Find(ctx context.Context, organizationID, invoiceID uuid.UUID) (*InvoiceSyncStatus, error)

	// FindByExternalID maps a provider-side id back to the local invoice,
	// used by webhook reconciliation
	FindByExternalID(ctx context.Context, organizationID uuid.UUID, externalID string) (*InvoiceSyncStatus, error)

	// Upsert records the outcome of a sync attempt
	Upsert(ctx context.Context, status *InvoiceSyncStatus) error
}

// InvoiceNumberRepository implements the atomic-claim discipline for invoice
// number assignment: no two invoices in an organization may share a number
// under concurrent creation. The invoicing write path owns the calls; the
// sync subsystem only reads invoices and never assigns numbers.
type InvoiceNumberRepository interface {
	// Reserve claims a number for an organization before the invoice row is
	// written. Invoice creation must reserve first and abort on
	// ErrNumberTaken; a number is never handed out twice.
	Reserve(ctx context.Context, organizationID uuid.UUID, number string) error
}
