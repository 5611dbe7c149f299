package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/calliopehq/calliope/models"
	"gorm.io/gorm"
)

// EnrollmentRepositoryImpl implements the EnrollmentRepository interface
type EnrollmentRepositoryImpl struct {
	*BaseRepository[models.Enrollment, models.EnrollmentFilter]
}

// NewEnrollmentRepository creates a new enrollment repository
func NewEnrollmentRepository(db *gorm.DB) EnrollmentRepository {
	return &EnrollmentRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Enrollment, models.EnrollmentFilter](db),
	}
}

// ByFilter retrieves enrollments based on filter criteria
func (r *EnrollmentRepositoryImpl) ByFilter(ctx context.Context, filter models.EnrollmentFilter, orderBy string, limit, offset int) ([]*models.Enrollment, error) {
	db := r.getDB(ctx)

	var enrollments []*models.Enrollment
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

	err := query.Find(&enrollments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find enrollments by filter: %w", err)
	}

	return enrollments, nil
}

// ActiveBySequenceAndConsumer returns the live enrollment for the pair, or nil.
// At most one exists; the partial unique index enforces it.
func (r *EnrollmentRepositoryImpl) ActiveBySequenceAndConsumer(ctx context.Context, sequenceID, consumerID uint) (*models.Enrollment, error) {
	db := r.getDB(ctx)

	var enrollment models.Enrollment
	err := db.Where("sequence_id = ? AND consumer_id = ? AND status IN ?",
		sequenceID, consumerID,
		[]models.EnrollmentStatus{models.EnrollmentStatusActive, models.EnrollmentStatusPaused}).
		Last(&enrollment).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find active enrollment: %w", err)
	}

	return &enrollment, nil
}

// ListDue returns active enrollments whose next step is due, oldest first
func (r *EnrollmentRepositoryImpl) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Enrollment, error) {
	db := r.getDB(ctx)

	var enrollments []*models.Enrollment
	query := db.Where("status = ? AND next_step_at IS NOT NULL AND next_step_at <= ?",
		models.EnrollmentStatusActive, now).
		Order("next_step_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Find(&enrollments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due enrollments: %w", err)
	}

	return enrollments, nil
}

// Update updates an enrollment
func (r *EnrollmentRepositoryImpl) Update(ctx context.Context, enrollment models.Enrollment) error {
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
	enrollment.UpdatedAt = &now

	err = db.Save(&enrollment).Error
	if err != nil {
		return fmt.Errorf("failed to update enrollment: %w", err)
	}

	return nil
}

// AdvanceProgress moves the step cursor forward with a compare-and-set on the
// current step, so two workers dispatching the same due step collapse to one.
func (r *EnrollmentRepositoryImpl) AdvanceProgress(ctx context.Context, id uint, fromStep, toStep int, nextStepAt *time.Time) (bool, error) {
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
	result := db.Model(&models.Enrollment{}).
		Where("id = ? AND current_step = ? AND status = ?", id, fromStep, models.EnrollmentStatusActive).
		Updates(map[string]interface{}{
			"current_step": toStep,
			"next_step_at": nextStepAt,
			"updated_at":   now,
		})

	if result.Error != nil {
		err = result.Error
		return false, fmt.Errorf("failed to advance enrollment progress: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

// UpdateStatus transitions the enrollment between lifecycle states. The
// WHERE clause on the current status makes concurrent transitions race-safe.
func (r *EnrollmentRepositoryImpl) UpdateStatus(ctx context.Context, id uint, from, to models.EnrollmentStatus, nextStepAt *time.Time) (bool, error) {
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
		"status":       to,
		"next_step_at": nextStepAt,
		"updated_at":   now,
	}
	switch to {
	case models.EnrollmentStatusPaused:
		updates["paused_at"] = now
	case models.EnrollmentStatusCompleted:
		updates["completed_at"] = now
	case models.EnrollmentStatusCancelled:
		updates["cancelled_at"] = now
	}

	result := db.Model(&models.Enrollment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)

	if result.Error != nil {
		err = result.Error
		return false, fmt.Errorf("failed to update enrollment status: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

// IncrementMessagesSent bumps the enrollment's sent counter after a
// successful provider handoff
func (r *EnrollmentRepositoryImpl) IncrementMessagesSent(ctx context.Context, id uint, delta int) error {
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

	err = db.Model(&models.Enrollment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"messages_sent": gorm.Expr("messages_sent + ?", delta),
			"updated_at":    time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to increment enrollment messages sent: %w", err)
	}

	return nil
}

// IncrementEngagement folds opened/clicked callbacks into the enrollment.
// Engagement can land after the enrollment completed, so no status guard.
func (r *EnrollmentRepositoryImpl) IncrementEngagement(ctx context.Context, id uint, openedDelta, clickedDelta int) error {
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

	err = db.Model(&models.Enrollment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"messages_opened":  gorm.Expr("messages_opened + ?", openedDelta),
			"messages_clicked": gorm.Expr("messages_clicked + ?", clickedDelta),
			"updated_at":       time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to increment enrollment engagement: %w", err)
	}

	return nil
}

// CountByStatus counts a tenant's enrollments in the given status
func (r *EnrollmentRepositoryImpl) CountByStatus(ctx context.Context, tenantID uint, status models.EnrollmentStatus) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	err := db.Model(&models.Enrollment{}).
		Where("tenant_id = ? AND status = ?", tenantID, status).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count enrollments: %w", err)
	}

	return count, nil
}

// CountDue counts a tenant's enrollments with a step due at or before now
func (r *EnrollmentRepositoryImpl) CountDue(ctx context.Context, tenantID uint, now time.Time) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	err := db.Model(&models.Enrollment{}).
		Where("tenant_id = ? AND status = ? AND next_step_at IS NOT NULL AND next_step_at <= ?",
			tenantID, models.EnrollmentStatusActive, now).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count due enrollments: %w", err)
	}

	return count, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *EnrollmentRepositoryImpl) applyFilter(db *gorm.DB, filter models.EnrollmentFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.TenantID != nil {
		db = db.Where("tenant_id = ?", *filter.TenantID)
	}
	if filter.SequenceID != nil {
		db = db.Where("sequence_id = ?", *filter.SequenceID)
	}
	if filter.ConsumerID != nil {
		db = db.Where("consumer_id = ?", *filter.ConsumerID)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.DueBefore != nil {
		db = db.Where("next_step_at IS NOT NULL AND next_step_at <= ?", *filter.DueBefore)
	}
	return db
}
