package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Amaz3n/strata-sub010/internal/domain/accounting"
	"github.com/Amaz3n/strata-sub010/internal/infrastructure/persistence/models"
)

// GormConnectionRepository implements accounting.ConnectionRepository using
// GORM
type GormConnectionRepository struct {
	db *gorm.DB
}

// NewGormConnectionRepository creates a new GORM-based connection repository
func NewGormConnectionRepository(db *gorm.DB) *GormConnectionRepository {
	return &GormConnectionRepository{db: db}
}

// FindByOrganization returns the active connection for an organization
func (r *GormConnectionRepository) FindByOrganization(ctx context.Context, organizationID uuid.UUID) (*accounting.Connection, error) {
	var model models.ConnectionModel
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND status <> ?", organizationID, accounting.ConnectionStatusDisconnected).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, accounting.ErrNotConnected
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByRealmID maps a provider realm back to its active connection
func (r *GormConnectionRepository) FindByRealmID(ctx context.Context, realmID string) (*accounting.Connection, error) {
	var model models.ConnectionModel
	err := r.db.WithContext(ctx).
		Where("realm_id = ? AND status <> ?", realmID, accounting.ConnectionStatusDisconnected).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, accounting.ErrNotConnected
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Create persists a new connection. The partial unique index on active
// connections turns a concurrent double-connect into ErrAlreadyConnected.
func (r *GormConnectionRepository) Create(ctx context.Context, conn *accounting.Connection) error {
	model := models.ConnectionModelFromDomain(conn)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return accounting.ErrAlreadyConnected
		}
		return err
	}
	return nil
}

// Update persists token, status, and settings changes
func (r *GormConnectionRepository) Update(ctx context.Context, conn *accounting.Connection) error {
	model := models.ConnectionModelFromDomain(conn)
	return r.db.WithContext(ctx).Save(model).Error
}

// Ensure GormConnectionRepository implements ConnectionRepository
var _ accounting.ConnectionRepository = (*GormConnectionRepository)(nil)
