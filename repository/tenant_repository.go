package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/calliopehq/calliope/models"
	"gorm.io/gorm"
)

// TenantRepositoryImpl implements the TenantRepository interface
type TenantRepositoryImpl struct {
	*BaseRepository[models.Tenant, models.TenantFilter]
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *gorm.DB) TenantRepository {
	return &TenantRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Tenant, models.TenantFilter](db),
	}
}

// ByUUID retrieves a tenant by UUID
func (r *TenantRepositoryImpl) ByUUID(ctx context.Context, uuid string) (*models.Tenant, error) {
	db := r.getDB(ctx)

	var tenant models.Tenant
	err := db.Where("uuid = ?", uuid).Last(&tenant).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find tenant by UUID: %w", err)
	}

	return &tenant, nil
}

// ListActive retrieves all active tenants
func (r *TenantRepositoryImpl) ListActive(ctx context.Context) ([]*models.Tenant, error) {
	db := r.getDB(ctx)

	var tenants []*models.Tenant
	err := db.Where("is_active = ?", true).Order("id ASC").Find(&tenants).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active tenants: %w", err)
	}

	return tenants, nil
}

// Update updates a tenant
func (r *TenantRepositoryImpl) Update(ctx context.Context, tenant models.Tenant) error {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}

	if shouldCommit {
		defer func() {
			if err != nil {
				db.Rollback()
			} else {
				db.Commit()
			}
		}()
	}

	now := time.Now().UTC()
	tenant.UpdatedAt = &now

	err = db.Save(&tenant).Error
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}

	return nil
}
