package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Amaz3n/strata-sub010/internal/domain/accounting"
	"github.com/Amaz3n/strata-sub010/internal/domain/shared"
	"github.com/Amaz3n/strata-sub010/internal/infrastructure/persistence/models"
)

// GormInvoiceReader reads invoice snapshots from the CRUD-owned invoices
// table
type GormInvoiceReader struct {
	db *gorm.DB
}

// NewGormInvoiceReader creates a new GORM-based invoice reader
func NewGormInvoiceReader(db *gorm.DB) *GormInvoiceReader {
	return &GormInvoiceReader{db: db}
}

// FindSnapshot loads the current state of an invoice. ErrNotFound means the
// invoice was deleted after the sync job was enqueued.
func (r *GormInvoiceReader) FindSnapshot(ctx context.Context, organizationID, invoiceID uuid.UUID) (*accounting.InvoiceSnapshot, error) {
	var model models.InvoiceModel
	err := r.db.WithContext(ctx).
		Where("id = ? AND organization_id = ?", invoiceID, organizationID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToSnapshot(), nil
}

var _ accounting.InvoiceReader = (*GormInvoiceReader)(nil)

// GormInvoiceSyncStatusRepository persists the per-invoice sync projection
type GormInvoiceSyncStatusRepository struct {
	db *gorm.DB
}

// NewGormInvoiceSyncStatusRepository creates a new GORM-based projection
// repository
func NewGormInvoiceSyncStatusRepository(db *gorm.DB) *GormInvoiceSyncStatusRepository {
	return &GormInvoiceSyncStatusRepository{db: db}
}

// Find returns the projection for an invoice
func (r *GormInvoiceSyncStatusRepository) Find(ctx context.Context, organizationID, invoiceID uuid.UUID) (*accounting.InvoiceSyncStatus, error) {
	var model models.InvoiceSyncStatusModel
	err := r.db.WithContext(ctx).
		Where("invoice_id = ? AND organization_id = ?", invoiceID, organizationID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByExternalID maps a provider-side id back to the local invoice
func (r *GormInvoiceSyncStatusRepository) FindByExternalID(ctx context.Context, organizationID uuid.UUID, externalID string) (*accounting.InvoiceSyncStatus, error) {
	var model models.InvoiceSyncStatusModel
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND external_id = ?", organizationID, externalID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Upsert records the outcome of a sync attempt
func (r *GormInvoiceSyncStatusRepository) Upsert(ctx context.Context, status *accounting.InvoiceSyncStatus) error {
	model := &models.InvoiceSyncStatusModel{}
	model.FromDomain(status)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "invoice_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"external_id", "last_synced_at", "last_sync_state", "last_error_kind", "updated_at"}),
		}).
		Create(model).Error
}

var _ accounting.InvoiceSyncStatusRepository = (*GormInvoiceSyncStatusRepository)(nil)

// GormInvoiceNumberRepository claims invoice numbers through a unique
// constraint
type GormInvoiceNumberRepository struct {
	db *gorm.DB
}

// NewGormInvoiceNumberRepository creates a new GORM-based number repository
func NewGormInvoiceNumberRepository(db *gorm.DB) *GormInvoiceNumberRepository {
	return &GormInvoiceNumberRepository{db: db}
}

// Reserve claims a number for an organization ahead of the invoice insert,
// from the invoicing write path. The insert either lands or hits the unique
// index; there is no read-then-write window.
func (r *GormInvoiceNumberRepository) Reserve(ctx context.Context, organizationID uuid.UUID, number string) error {
	model := &models.InvoiceNumberReservationModel{
		ID:             uuid.New(),
		OrganizationID: organizationID,
		Number:         number,
		CreatedAt:      time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return accounting.ErrNumberTaken
		}
		return err
	}
	return nil
}

var _ accounting.InvoiceNumberRepository = (*GormInvoiceNumberRepository)(nil)
