package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/calliopehq/calliope/models"
	"gorm.io/gorm"
)

// AutomationRepositoryImpl implements the AutomationRepository interface
type AutomationRepositoryImpl struct {
	*BaseRepository[models.Automation, models.AutomationFilter]
}

// NewAutomationRepository creates a new automation repository
func NewAutomationRepository(db *gorm.DB) AutomationRepository {
	return &AutomationRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Automation, models.AutomationFilter](db),
	}
}

// ByFilter retrieves automations based on filter criteria
func (r *AutomationRepositoryImpl) ByFilter(ctx context.Context, filter models.AutomationFilter, orderBy string, limit, offset int) ([]*models.Automation, error) {
	db := r.getDB(ctx)

	var automations []*models.Automation
	query := db
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.TenantID != nil {
		query = query.Where("tenant_id = ?", *filter.TenantID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.DueBefore != nil {
		query = query.Where("next_execution IS NOT NULL AND next_execution <= ?", *filter.DueBefore)
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

	err := query.Find(&automations).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find automations by filter: %w", err)
	}

	return automations, nil
}

// ListDue returns scheduled automations due at or before now that have not
// fired for their current occurrence
func (r *AutomationRepositoryImpl) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Automation, error) {
	db := r.getDB(ctx)

	var automations []*models.Automation
	query := db.Where(
		"status = ? AND next_execution IS NOT NULL AND next_execution <= ? AND (last_executed IS NULL OR last_executed < next_execution)",
		models.AutomationStatusScheduled, now).
		Order("next_execution ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Find(&automations).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due automations: %w", err)
	}

	return automations, nil
}

// Update updates an automation
func (r *AutomationRepositoryImpl) Update(ctx context.Context, automation models.Automation) error {
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
	automation.UpdatedAt = &now

	err = db.Save(&automation).Error
	if err != nil {
		return fmt.Errorf("failed to update automation: %w", err)
	}

	return nil
}

// Claim marks the automation executed for the given occurrence. The WHERE
// clause repeats the due predicate so exactly one of N concurrent claimants
// wins; the rest see zero rows affected.
func (r *AutomationRepositoryImpl) Claim(ctx context.Context, id uint, occurrence time.Time) (bool, error) {
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
	result := db.Model(&models.Automation{}).
		Where("id = ? AND status = ? AND next_execution = ? AND (last_executed IS NULL OR last_executed < next_execution)",
			id, models.AutomationStatusScheduled, occurrence).
		Updates(map[string]interface{}{
			"last_executed": occurrence,
			"status":        models.AutomationStatusExecuted,
			"updated_at":    now,
		})

	if result.Error != nil {
		err = result.Error
		return false, fmt.Errorf("failed to claim automation: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

// UpdateStatus updates only the status of an automation
func (r *AutomationRepositoryImpl) UpdateStatus(ctx context.Context, id uint, status models.AutomationStatus) error {
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
	err = db.Model(&models.Automation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": now,
		}).Error

	if err != nil {
		return fmt.Errorf("failed to update automation status: %w", err)
	}

	return nil
}

// IncrementTotalSent folds a finished firing's sent count into the automation
func (r *AutomationRepositoryImpl) IncrementTotalSent(ctx context.Context, id uint, delta int) error {
	if delta == 0 {
		return nil
	}

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
	err = db.Model(&models.Automation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"total_sent": gorm.Expr("total_sent + ?", delta),
			"updated_at": now,
		}).Error

	if err != nil {
		return fmt.Errorf("failed to increment automation total sent: %w", err)
	}

	return nil
}

// AutomationExecutionRepositoryImpl implements the AutomationExecutionRepository interface
type AutomationExecutionRepositoryImpl struct {
	*BaseRepository[models.AutomationExecution, struct{}]
}

// NewAutomationExecutionRepository creates a new automation execution repository
func NewAutomationExecutionRepository(db *gorm.DB) AutomationExecutionRepository {
	return &AutomationExecutionRepositoryImpl{
		BaseRepository: NewBaseRepository[models.AutomationExecution, struct{}](db),
	}
}

// ByAutomationID retrieves execution records for an automation, newest first
func (r *AutomationExecutionRepositoryImpl) ByAutomationID(ctx context.Context, automationID uint, limit, offset int) ([]*models.AutomationExecution, error) {
	db := r.getDB(ctx)

	var executions []*models.AutomationExecution
	query := db.Where("automation_id = ?", automationID).Order("executed_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	err := query.Find(&executions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find automation executions: %w", err)
	}

	return executions, nil
}
