package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/calliopehq/calliope/models"
	"github.com/calliopehq/calliope/utils"
	"gorm.io/gorm"
)

// CampaignRepositoryImpl implements the CampaignRepository interface
type CampaignRepositoryImpl struct {
	*BaseRepository[models.Campaign, models.CampaignFilter]
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db *gorm.DB) CampaignRepository {
	return &CampaignRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Campaign, models.CampaignFilter](db),
	}
}

// ByUUID retrieves a campaign by UUID
func (r *CampaignRepositoryImpl) ByUUID(ctx context.Context, uuid string) (*models.Campaign, error) {
	parsedUUID, err := utils.ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("invalid UUID format: %w", err)
	}

	filter := models.CampaignFilter{UUID: &parsedUUID}
	campaigns, err := r.ByFilter(ctx, filter, "", 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to find campaign by UUID: %w", err)
	}

	if len(campaigns) == 0 {
		return nil, nil
	}

	return campaigns[0], nil
}

// ByFilter retrieves campaigns based on filter criteria
func (r *CampaignRepositoryImpl) ByFilter(ctx context.Context, filter models.CampaignFilter, orderBy string, limit, offset int) ([]*models.Campaign, error) {
	db := r.getDB(ctx)

	var campaigns []*models.Campaign
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

	err := query.Find(&campaigns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find campaigns by filter: %w", err)
	}

	return campaigns, nil
}

// ListRunnable returns campaigns the dispatcher should work on this tick:
// in-progress ones plus scheduled ones whose start time has arrived.
func (r *CampaignRepositoryImpl) ListRunnable(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error) {
	db := r.getDB(ctx)

	var campaigns []*models.Campaign
	query := db.Where(
		"status = ? OR (status = ? AND (scheduled_at IS NULL OR scheduled_at <= ?))",
		models.CampaignStatusInProgress, models.CampaignStatusScheduled, now).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Find(&campaigns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list runnable campaigns: %w", err)
	}

	return campaigns, nil
}

// Update updates a campaign
func (r *CampaignRepositoryImpl) Update(ctx context.Context, campaign models.Campaign) error {
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
	campaign.UpdatedAt = &now

	err = db.Save(&campaign).Error
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}

	return nil
}

// UpdateStatus transitions the campaign between lifecycle states with a
// guard on the current status
func (r *CampaignRepositoryImpl) UpdateStatus(ctx context.Context, id uint, from, to models.CampaignStatus) (bool, error) {
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
		"status":     to,
		"updated_at": now,
	}
	switch to {
	case models.CampaignStatusInProgress:
		updates["started_at"] = now
	case models.CampaignStatusCompleted, models.CampaignStatusFailed, models.CampaignStatusCancelled:
		updates["finished_at"] = now
	}

	result := db.Model(&models.Campaign{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)

	if result.Error != nil {
		err = result.Error
		return false, fmt.Errorf("failed to update campaign status: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

// AdvanceCursor performs a compare-and-set on last_sent_index and folds the
// batch outcome counters in. A false return means another worker advanced the
// cursor first and this batch's recipients belong to it.
//
// A cancelled campaign still accepts the in-flight batch: those provider
// calls already happened and the records must land. Completed and failed
// campaigns keep their cursor frozen.
func (r *CampaignRepositoryImpl) AdvanceCursor(ctx context.Context, id uint, fromIndex, toIndex, sentDelta, failedDelta, skippedDelta, optOutDelta int) (bool, error) {
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
	result := db.Model(&models.Campaign{}).
		Where("id = ? AND last_sent_index = ? AND status IN ?", id, fromIndex,
			[]models.CampaignStatus{models.CampaignStatusInProgress, models.CampaignStatusCancelled}).
		Updates(map[string]interface{}{
			"last_sent_index": toIndex,
			"sent_count":      gorm.Expr("sent_count + ?", sentDelta),
			"failed_count":    gorm.Expr("failed_count + ?", failedDelta),
			"skipped_count":   gorm.Expr("skipped_count + ?", skippedDelta),
			"opt_out_count":   gorm.Expr("opt_out_count + ?", optOutDelta),
			"updated_at":      now,
		})

	if result.Error != nil {
		err = result.Error
		return false, fmt.Errorf("failed to advance campaign cursor: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

// IncrementDelivered folds confirmed delivery callbacks into the campaign.
// Callbacks arrive long after the campaign settles, so there is no status guard.
func (r *CampaignRepositoryImpl) IncrementDelivered(ctx context.Context, id uint, delta int) error {
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

	err = db.Model(&models.Campaign{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"delivered_count": gorm.Expr("delivered_count + ?", delta),
			"updated_at":      time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to increment campaign delivered count: %w", err)
	}

	return nil
}

// QueueSummary aggregates the tenant's unprocessed backlog across live
// campaigns. Backlog is measured from the cursor, not the sent counter:
// failed and skipped recipients consumed their queue slot too, so the
// cursor gives the honest drain estimate.
func (r *CampaignRepositoryImpl) QueueSummary(ctx context.Context, tenantID uint) (*models.CampaignQueueSummary, error) {
	db := r.getDB(ctx)

	var row struct {
		Remaining       *int64
		ActiveCampaigns int64
		OldestStartedAt *time.Time
	}
	err := db.Model(&models.Campaign{}).
		Select("SUM(total_recipients - last_sent_index) AS remaining, COUNT(*) AS active_campaigns, MIN(started_at) AS oldest_started_at").
		Where("tenant_id = ? AND status IN ?", tenantID,
			[]models.CampaignStatus{models.CampaignStatusScheduled, models.CampaignStatusInProgress}).
		Scan(&row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to summarize campaign queue: %w", err)
	}

	summary := &models.CampaignQueueSummary{
		ActiveCampaigns: row.ActiveCampaigns,
		OldestStartedAt: row.OldestStartedAt,
	}
	if row.Remaining != nil {
		summary.Remaining = *row.Remaining
	}
	if summary.Remaining < 0 {
		summary.Remaining = 0
	}
	return summary, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *CampaignRepositoryImpl) applyFilter(db *gorm.DB, filter models.CampaignFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.TenantID != nil {
		db = db.Where("tenant_id = ?", *filter.TenantID)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.AutomationID != nil {
		db = db.Where("automation_id = ?", *filter.AutomationID)
	}
	if filter.DueBefore != nil {
		db = db.Where("scheduled_at IS NOT NULL AND scheduled_at <= ?", *filter.DueBefore)
	}
	return db
}
