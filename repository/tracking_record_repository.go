package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/calliopehq/calliope/models"
	"gorm.io/gorm"
)

// TrackingRecordRepositoryImpl implements the TrackingRecordRepository interface
type TrackingRecordRepositoryImpl struct {
	*BaseRepository[models.TrackingRecord, models.TrackingRecordFilter]
}

// NewTrackingRecordRepository creates a new tracking record repository
func NewTrackingRecordRepository(db *gorm.DB) TrackingRecordRepository {
	return &TrackingRecordRepositoryImpl{
		BaseRepository: NewBaseRepository[models.TrackingRecord, models.TrackingRecordFilter](db),
	}
}

// ByExternalMessageID retrieves a tracking record by the provider's message ID
func (r *TrackingRecordRepositoryImpl) ByExternalMessageID(ctx context.Context, externalID string) (*models.TrackingRecord, error) {
	db := r.getDB(ctx)

	var record models.TrackingRecord
	err := db.Where("external_message_id = ?", externalID).Last(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find tracking record by external ID: %w", err)
	}

	return &record, nil
}

// ByFilter retrieves tracking records based on filter criteria
func (r *TrackingRecordRepositoryImpl) ByFilter(ctx context.Context, filter models.TrackingRecordFilter, orderBy string, limit, offset int) ([]*models.TrackingRecord, error) {
	db := r.getDB(ctx)

	var records []*models.TrackingRecord
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

	err := query.Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find tracking records by filter: %w", err)
	}

	return records, nil
}

// UpdateDeliveryStatus applies a provider callback to the record matching
// externalID. The WHERE clause admits only legal forward transitions, so a
// replayed or late callback affects zero rows and reports false.
func (r *TrackingRecordRepositoryImpl) UpdateDeliveryStatus(ctx context.Context, externalID string, status models.TrackingStatus, reason *string, at time.Time) (bool, error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return false, err
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
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": now,
	}

	var allowedFrom []models.TrackingStatus
	switch status {
	case models.TrackingStatusDelivered:
		allowedFrom = []models.TrackingStatus{models.TrackingStatusSent}
		updates["delivered_at"] = at
	case models.TrackingStatusOpened:
		allowedFrom = []models.TrackingStatus{models.TrackingStatusSent, models.TrackingStatusDelivered}
		updates["opened_at"] = at
	case models.TrackingStatusClicked:
		allowedFrom = []models.TrackingStatus{models.TrackingStatusSent, models.TrackingStatusDelivered, models.TrackingStatusOpened}
		updates["clicked_at"] = at
	case models.TrackingStatusBounced:
		allowedFrom = []models.TrackingStatus{models.TrackingStatusSent}
		updates["failed_at"] = at
		updates["failure_reason"] = reason
	case models.TrackingStatusFailed:
		allowedFrom = []models.TrackingStatus{models.TrackingStatusQueued, models.TrackingStatusSent}
		updates["failed_at"] = at
		updates["failure_reason"] = reason
	case models.TrackingStatusSent:
		allowedFrom = []models.TrackingStatus{models.TrackingStatusQueued}
		updates["sent_at"] = at
	default:
		return false, fmt.Errorf("status %q is not a valid delivery outcome", status)
	}

	result := db.Model(&models.TrackingRecord{}).
		Where("external_message_id = ? AND status IN ?", externalID, allowedFrom).
		Updates(updates)

	if result.Error != nil {
		err = result.Error
		return false, fmt.Errorf("failed to update delivery status: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

// CountByStatus counts a tenant's tracking records in the given status since a time
func (r *TrackingRecordRepositoryImpl) CountByStatus(ctx context.Context, tenantID uint, status models.TrackingStatus, since time.Time) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	err := db.Model(&models.TrackingRecord{}).
		Where("tenant_id = ? AND status = ? AND created_at >= ?", tenantID, status, since).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count tracking records: %w", err)
	}

	return count, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *TrackingRecordRepositoryImpl) applyFilter(db *gorm.DB, filter models.TrackingRecordFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.TenantID != nil {
		db = db.Where("tenant_id = ?", *filter.TenantID)
	}
	if filter.CampaignID != nil {
		db = db.Where("campaign_id = ?", *filter.CampaignID)
	}
	if filter.EnrollmentID != nil {
		db = db.Where("enrollment_id = ?", *filter.EnrollmentID)
	}
	if filter.ConsumerID != nil {
		db = db.Where("consumer_id = ?", *filter.ConsumerID)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.ExternalMessageID != nil {
		db = db.Where("external_message_id = ?", *filter.ExternalMessageID)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	return db
}
