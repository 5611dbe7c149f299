package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/calliopehq/calliope/models"
	"gorm.io/gorm"
)

// SequenceRepositoryImpl implements the SequenceRepository interface
type SequenceRepositoryImpl struct {
	*BaseRepository[models.Sequence, models.SequenceFilter]
}

// NewSequenceRepository creates a new sequence repository
func NewSequenceRepository(db *gorm.DB) SequenceRepository {
	return &SequenceRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Sequence, models.SequenceFilter](db),
	}
}

// ByIDWithSteps retrieves a sequence with its steps preloaded in order
func (r *SequenceRepositoryImpl) ByIDWithSteps(ctx context.Context, id uint) (*models.Sequence, error) {
	db := r.getDB(ctx)

	var sequence models.Sequence
	err := db.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_order ASC")
	}).Last(&sequence, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find sequence by ID %d: %w", id, err)
	}

	return &sequence, nil
}

// ByFilter retrieves sequences based on filter criteria
func (r *SequenceRepositoryImpl) ByFilter(ctx context.Context, filter models.SequenceFilter, orderBy string, limit, offset int) ([]*models.Sequence, error) {
	db := r.getDB(ctx)

	var sequences []*models.Sequence
	query := db
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.TenantID != nil {
		query = query.Where("tenant_id = ?", *filter.TenantID)
	}
	if filter.IsActive != nil {
		query = query.Where("is_active = ?", *filter.IsActive)
	}
	if filter.Trigger != nil {
		query = query.Where("trigger = ?", *filter.Trigger)
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

	err := query.Find(&sequences).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find sequences by filter: %w", err)
	}

	return sequences, nil
}

// Save inserts a sequence together with its steps
func (r *SequenceRepositoryImpl) Save(ctx context.Context, sequence *models.Sequence) error {
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

	if sequence.CreatedAt.IsZero() {
		sequence.CreatedAt = time.Now().UTC()
	}

	err = db.Create(sequence).Error
	if err != nil {
		return fmt.Errorf("failed to save sequence: %w", err)
	}

	return nil
}

// SetActive soft-enables or soft-disables a sequence definition
func (r *SequenceRepositoryImpl) SetActive(ctx context.Context, id uint, active bool) error {
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
	err = db.Model(&models.Sequence{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_active":  active,
			"updated_at": now,
		}).Error

	if err != nil {
		return fmt.Errorf("failed to update sequence active flag: %w", err)
	}

	return nil
}
