package repository

import (
	"context"
	"time"

	"github.com/calliopehq/calliope/models"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

// TxContextKey is the context key used to carry an open transaction
const TxContextKey contextKey = "tx"

// TenantRepository defines operations for tenant data access
type TenantRepository interface {
	ByID(ctx context.Context, id uint) (*models.Tenant, error)
	ByUUID(ctx context.Context, uuid string) (*models.Tenant, error)
	ListActive(ctx context.Context) ([]*models.Tenant, error)
	Save(ctx context.Context, tenant *models.Tenant) error
	Update(ctx context.Context, tenant models.Tenant) error
}

// ConsumerRepository defines operations for consumer data access
type ConsumerRepository interface {
	ByID(ctx context.Context, id uint) (*models.Consumer, error)
	ByIDs(ctx context.Context, ids []uint) ([]*models.Consumer, error)
	ByFilter(ctx context.Context, filter models.ConsumerFilter, orderBy string, limit, offset int) ([]*models.Consumer, error)
	// ListByAudience resolves an audience spec to sendable consumer IDs in
	// ascending ID order, excluding opted-out consumers.
	ListByAudience(ctx context.Context, tenantID uint, audience models.AudienceSpec) ([]uint, error)
	ByPhoneNumber(ctx context.Context, tenantID uint, phone string) (*models.Consumer, error)
	Save(ctx context.Context, consumer *models.Consumer) error
	MarkSMSOptOut(ctx context.Context, consumerID uint) error
}

// TemplateRepository defines operations for template data access
type TemplateRepository interface {
	ByID(ctx context.Context, id uint) (*models.Template, error)
	ByFilter(ctx context.Context, filter models.TemplateFilter, orderBy string, limit, offset int) ([]*models.Template, error)
	Save(ctx context.Context, template *models.Template) error
}

// SequenceRepository defines operations for sequence data access
type SequenceRepository interface {
	ByID(ctx context.Context, id uint) (*models.Sequence, error)
	ByIDWithSteps(ctx context.Context, id uint) (*models.Sequence, error)
	ByFilter(ctx context.Context, filter models.SequenceFilter, orderBy string, limit, offset int) ([]*models.Sequence, error)
	Save(ctx context.Context, sequence *models.Sequence) error
	SetActive(ctx context.Context, id uint, active bool) error
}

// EnrollmentRepository defines operations for enrollment data access
type EnrollmentRepository interface {
	ByID(ctx context.Context, id uint) (*models.Enrollment, error)
	ByFilter(ctx context.Context, filter models.EnrollmentFilter, orderBy string, limit, offset int) ([]*models.Enrollment, error)
	// ActiveBySequenceAndConsumer returns the live (active or paused)
	// enrollment for the pair, or nil.
	ActiveBySequenceAndConsumer(ctx context.Context, sequenceID, consumerID uint) (*models.Enrollment, error)
	// ListDue returns active enrollments whose next step is due at or before now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Enrollment, error)
	Save(ctx context.Context, enrollment *models.Enrollment) error
	Update(ctx context.Context, enrollment models.Enrollment) error
	// AdvanceProgress moves the step cursor forward only if the stored
	// current step still matches fromStep. Returns false on a lost race.
	AdvanceProgress(ctx context.Context, id uint, fromStep, toStep int, nextStepAt *time.Time) (bool, error)
	UpdateStatus(ctx context.Context, id uint, from, to models.EnrollmentStatus, nextStepAt *time.Time) (bool, error)
	// IncrementMessagesSent bumps the enrollment's sent counter after a
	// successful provider handoff.
	IncrementMessagesSent(ctx context.Context, id uint, delta int) error
	// IncrementEngagement folds opened/clicked callbacks into the enrollment.
	IncrementEngagement(ctx context.Context, id uint, openedDelta, clickedDelta int) error
	CountByStatus(ctx context.Context, tenantID uint, status models.EnrollmentStatus) (int64, error)
	CountDue(ctx context.Context, tenantID uint, now time.Time) (int64, error)
}

// AutomationRepository defines operations for automation data access
type AutomationRepository interface {
	ByID(ctx context.Context, id uint) (*models.Automation, error)
	ByFilter(ctx context.Context, filter models.AutomationFilter, orderBy string, limit, offset int) ([]*models.Automation, error)
	// ListDue returns scheduled automations whose next execution is at or
	// before now and not yet claimed.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Automation, error)
	Save(ctx context.Context, automation *models.Automation) error
	Update(ctx context.Context, automation models.Automation) error
	// Claim marks the automation executed for the given occurrence. Returns
	// false if another worker already claimed it.
	Claim(ctx context.Context, id uint, occurrence time.Time) (bool, error)
	UpdateStatus(ctx context.Context, id uint, status models.AutomationStatus) error
	// IncrementTotalSent folds a finished firing's sent count into the automation.
	IncrementTotalSent(ctx context.Context, id uint, delta int) error
}

// AutomationExecutionRepository defines operations for execution audit records
type AutomationExecutionRepository interface {
	Save(ctx context.Context, execution *models.AutomationExecution) error
	ByAutomationID(ctx context.Context, automationID uint, limit, offset int) ([]*models.AutomationExecution, error)
}

// CampaignRepository defines operations for campaign data access
type CampaignRepository interface {
	ByID(ctx context.Context, id uint) (*models.Campaign, error)
	ByUUID(ctx context.Context, uuid string) (*models.Campaign, error)
	ByFilter(ctx context.Context, filter models.CampaignFilter, orderBy string, limit, offset int) ([]*models.Campaign, error)
	// ListRunnable returns campaigns that are in progress, or scheduled with a
	// due start time.
	ListRunnable(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error)
	Save(ctx context.Context, campaign *models.Campaign) error
	Update(ctx context.Context, campaign models.Campaign) error
	UpdateStatus(ctx context.Context, id uint, from, to models.CampaignStatus) (bool, error)
	// AdvanceCursor performs a compare-and-set on last_sent_index and folds the
	// batch outcome counters in. Returns false if the stored cursor moved or
	// the campaign already settled into completed or failed.
	AdvanceCursor(ctx context.Context, id uint, fromIndex, toIndex, sentDelta, failedDelta, skippedDelta, optOutDelta int) (bool, error)
	// IncrementDelivered folds confirmed delivery callbacks into the campaign.
	IncrementDelivered(ctx context.Context, id uint, delta int) error
	// QueueSummary aggregates the tenant's unprocessed backlog across live campaigns.
	QueueSummary(ctx context.Context, tenantID uint) (*models.CampaignQueueSummary, error)
}

// TrackingRecordRepository defines operations for delivery tracking data access
type TrackingRecordRepository interface {
	ByID(ctx context.Context, id uint) (*models.TrackingRecord, error)
	ByExternalMessageID(ctx context.Context, externalID string) (*models.TrackingRecord, error)
	ByFilter(ctx context.Context, filter models.TrackingRecordFilter, orderBy string, limit, offset int) ([]*models.TrackingRecord, error)
	Save(ctx context.Context, record *models.TrackingRecord) error
	SaveBatch(ctx context.Context, records []*models.TrackingRecord) error
	// UpdateDeliveryStatus applies a provider callback. The transition table
	// on TrackingStatus makes replayed callbacks no-ops.
	UpdateDeliveryStatus(ctx context.Context, externalID string, status models.TrackingStatus, reason *string, at time.Time) (bool, error)
	CountByStatus(ctx context.Context, tenantID uint, status models.TrackingStatus, since time.Time) (int64, error)
}

// BlockedNumberRepository defines operations for blocked number data access
type BlockedNumberRepository interface {
	IsBlocked(ctx context.Context, tenantID uint, phone string) (bool, error)
	// Upsert inserts the number or bumps its hit count if already present.
	Upsert(ctx context.Context, tenantID uint, phone, reason string) error
	ByFilter(ctx context.Context, filter models.BlockedNumberFilter, orderBy string, limit, offset int) ([]*models.BlockedNumber, error)
}
