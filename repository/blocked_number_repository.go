package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/calliopehq/calliope/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BlockedNumberRepositoryImpl implements the BlockedNumberRepository interface
type BlockedNumberRepositoryImpl struct {
	*BaseRepository[models.BlockedNumber, models.BlockedNumberFilter]
}

// NewBlockedNumberRepository creates a new blocked number repository
func NewBlockedNumberRepository(db *gorm.DB) BlockedNumberRepository {
	return &BlockedNumberRepositoryImpl{
		BaseRepository: NewBaseRepository[models.BlockedNumber, models.BlockedNumberFilter](db),
	}
}

// IsBlocked checks whether a destination number is blocked for the tenant
func (r *BlockedNumberRepositoryImpl) IsBlocked(ctx context.Context, tenantID uint, phone string) (bool, error) {
	db := r.getDB(ctx)

	var count int64
	err := db.Model(&models.BlockedNumber{}).
		Where("tenant_id = ? AND phone_number = ?", tenantID, phone).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check blocked number: %w", err)
	}

	return count > 0, nil
}

// Upsert inserts the number or bumps its hit count if already present
func (r *BlockedNumberRepositoryImpl) Upsert(ctx context.Context, tenantID uint, phone, reason string) error {
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
	blocked := models.BlockedNumber{
		TenantID:    tenantID,
		PhoneNumber: phone,
		Reason:      reason,
		HitCount:    1,
		CreatedAt:   now,
	}

	err = db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "phone_number"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"hit_count":  gorm.Expr("blocked_numbers.hit_count + 1"),
			"updated_at": now,
		}),
	}).Create(&blocked).Error

	if err != nil {
		return fmt.Errorf("failed to upsert blocked number: %w", err)
	}

	return nil
}

// ByFilter retrieves blocked numbers based on filter criteria
func (r *BlockedNumberRepositoryImpl) ByFilter(ctx context.Context, filter models.BlockedNumberFilter, orderBy string, limit, offset int) ([]*models.BlockedNumber, error) {
	db := r.getDB(ctx)

	var blocked []*models.BlockedNumber
	query := db
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.TenantID != nil {
		query = query.Where("tenant_id = ?", *filter.TenantID)
	}
	if filter.PhoneNumber != nil {
		query = query.Where("phone_number = ?", *filter.PhoneNumber)
	}

	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	err := query.Find(&blocked).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find blocked numbers by filter: %w", err)
	}

	return blocked, nil
}
