package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/calliopehq/calliope/models"
	"gorm.io/gorm"
)

// ConsumerRepositoryImpl implements the ConsumerRepository interface
type ConsumerRepositoryImpl struct {
	*BaseRepository[models.Consumer, models.ConsumerFilter]
}

// NewConsumerRepository creates a new consumer repository
func NewConsumerRepository(db *gorm.DB) ConsumerRepository {
	return &ConsumerRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Consumer, models.ConsumerFilter](db),
	}
}

// ByIDs retrieves consumers by a set of IDs
func (r *ConsumerRepositoryImpl) ByIDs(ctx context.Context, ids []uint) ([]*models.Consumer, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	db := r.getDB(ctx)

	var consumers []*models.Consumer
	err := db.Where("id IN ?", ids).Order("id ASC").Find(&consumers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find consumers by IDs: %w", err)
	}

	return consumers, nil
}

// ByFilter retrieves consumers based on filter criteria
func (r *ConsumerRepositoryImpl) ByFilter(ctx context.Context, filter models.ConsumerFilter, orderBy string, limit, offset int) ([]*models.Consumer, error) {
	db := r.getDB(ctx)

	var consumers []*models.Consumer
	query := r.applyFilter(db, filter)

	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	err := query.Find(&consumers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find consumers by filter: %w", err)
	}

	return consumers, nil
}

// ListByAudience resolves an audience spec to sendable consumer IDs: the
// union of the folder and explicit-ID selectors, or the whole tenant when
// both are empty. Ordering is by ascending ID so snapshots taken from the
// same spec are deterministic. Opted-out consumers never enter a snapshot.
func (r *ConsumerRepositoryImpl) ListByAudience(ctx context.Context, tenantID uint, audience models.AudienceSpec) ([]uint, error) {
	db := r.getDB(ctx)

	query := db.Model(&models.Consumer{}).
		Where("tenant_id = ?", tenantID).
		Where("sms_opted_out = ?", false)

	switch {
	case len(audience.ConsumerIDs) > 0 && len(audience.FolderIDs) > 0:
		query = query.Where("id IN ? OR folder_id IN ?", audience.ConsumerIDs, audience.FolderIDs)
	case len(audience.ConsumerIDs) > 0:
		query = query.Where("id IN ?", audience.ConsumerIDs)
	case len(audience.FolderIDs) > 0:
		query = query.Where("folder_id IN ?", audience.FolderIDs)
	}

	var ids []uint
	err := query.Order("id ASC").Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to resolve audience: %w", err)
	}

	return ids, nil
}

// ByPhoneNumber retrieves a consumer by phone number within a tenant
func (r *ConsumerRepositoryImpl) ByPhoneNumber(ctx context.Context, tenantID uint, phone string) (*models.Consumer, error) {
	db := r.getDB(ctx)

	var consumer models.Consumer
	err := db.Where("tenant_id = ? AND phone_number = ?", tenantID, phone).Last(&consumer).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find consumer by phone number: %w", err)
	}

	return &consumer, nil
}

// MarkSMSOptOut flags the consumer as opted out of SMS
func (r *ConsumerRepositoryImpl) MarkSMSOptOut(ctx context.Context, consumerID uint) error {
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
	err = db.Model(&models.Consumer{}).
		Where("id = ?", consumerID).
		Updates(map[string]interface{}{
			"sms_opted_out":    true,
			"sms_opted_out_at": now,
			"updated_at":       now,
		}).Error

	if err != nil {
		return fmt.Errorf("failed to mark consumer opted out: %w", err)
	}

	return nil
}

// applyFilter applies filter conditions to the GORM query
func (r *ConsumerRepositoryImpl) applyFilter(db *gorm.DB, filter models.ConsumerFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.TenantID != nil {
		db = db.Where("tenant_id = ?", *filter.TenantID)
	}
	if filter.Email != nil {
		db = db.Where("email = ?", *filter.Email)
	}
	if filter.PhoneNumber != nil {
		db = db.Where("phone_number = ?", *filter.PhoneNumber)
	}
	if filter.FolderID != nil {
		db = db.Where("folder_id = ?", *filter.FolderID)
	}
	if filter.SMSOptedOut != nil {
		db = db.Where("sms_opted_out = ?", *filter.SMSOptedOut)
	}
	return db
}
