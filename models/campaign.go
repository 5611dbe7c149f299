package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// CampaignStatus represents the lifecycle state of a campaign
type CampaignStatus string

const (
	CampaignStatusScheduled  CampaignStatus = "scheduled"
	CampaignStatusInProgress CampaignStatus = "in_progress"
	CampaignStatusCompleted  CampaignStatus = "completed"
	CampaignStatusFailed     CampaignStatus = "failed"
	CampaignStatusCancelled  CampaignStatus = "cancelled"
)

// String returns the string representation of the status
func (s CampaignStatus) String() string { return string(s) }

// Valid checks if the status is valid
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusScheduled, CampaignStatusInProgress, CampaignStatusCompleted, CampaignStatusFailed, CampaignStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s CampaignStatus) Terminal() bool {
	switch s {
	case CampaignStatusCompleted, CampaignStatusFailed, CampaignStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks if the status can transition to the target status
func (s CampaignStatus) CanTransitionTo(target CampaignStatus) bool {
	switch s {
	case CampaignStatusScheduled:
		return target == CampaignStatusInProgress || target == CampaignStatusCancelled
	case CampaignStatusInProgress:
		return target == CampaignStatusCompleted || target == CampaignStatusFailed || target == CampaignStatusCancelled
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for CampaignStatus
func (s *CampaignStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = CampaignStatus(v)
	case []byte:
		*s = CampaignStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into CampaignStatus", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for CampaignStatus
func (s CampaignStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid CampaignStatus: %s", s)
	}
	return string(s), nil
}

// Campaign is a batch send over a frozen recipient snapshot.
//
// RecipientIDs is ordered and immutable after creation; LastSentIndex is the
// resumable cursor into it. The cursor advances only through a compare-and-set
// on its previous value, so a crash mid-batch resumes where it left off and
// two workers never process the same slice of recipients.
type Campaign struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	UUID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_campaigns_uuid" json:"uuid"`
	TenantID uint      `gorm:"not null;index:idx_campaigns_tenant_id" json:"tenant_id"`
	Name     string    `gorm:"size:255;not null" json:"name"`

	Type       StepType       `gorm:"type:step_type;not null" json:"type"`
	TemplateID uint           `gorm:"not null" json:"template_id"`
	Status     CampaignStatus `gorm:"type:campaign_status;not null;default:'scheduled';index:idx_campaigns_status" json:"status"`

	// AutomationID links campaigns materialized by an automation firing.
	AutomationID *uint `gorm:"index:idx_campaigns_automation_id" json:"automation_id,omitempty"`

	RecipientIDs  pq.Int64Array `gorm:"type:bigint[];not null" json:"recipient_ids"`
	LastSentIndex int           `gorm:"not null;default:0" json:"last_sent_index"`

	TotalRecipients int `gorm:"not null;default:0" json:"total_recipients"`
	SentCount       int `gorm:"not null;default:0" json:"sent_count"`
	DeliveredCount  int `gorm:"not null;default:0" json:"delivered_count"`
	FailedCount     int `gorm:"not null;default:0" json:"failed_count"`
	SkippedCount    int `gorm:"not null;default:0" json:"skipped_count"`
	OptOutCount     int `gorm:"not null;default:0" json:"opt_out_count"`

	ScheduledAt *time.Time `gorm:"index:idx_campaigns_scheduled_at" json:"scheduled_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`

	CreatedAt time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func (Campaign) TableName() string { return "campaigns" }

// Remaining returns the number of recipients not yet processed.
func (c *Campaign) Remaining() int {
	n := len(c.RecipientIDs) - c.LastSentIndex
	if n < 0 {
		return 0
	}
	return n
}

// FailureRate returns failures as a fraction of processed recipients.
func (c *Campaign) FailureRate() float64 {
	processed := c.SentCount + c.FailedCount + c.SkippedCount + c.OptOutCount
	if processed == 0 {
		return 0
	}
	return float64(c.FailedCount) / float64(processed)
}

// CampaignQueueSummary aggregates a tenant's live campaign backlog: the
// recipients not yet processed, how many campaigns hold them, and when the
// oldest of those campaigns started.
type CampaignQueueSummary struct {
	Remaining       int64
	ActiveCampaigns int64
	OldestStartedAt *time.Time
}

// CampaignFilter provides filter fields for repository queries
type CampaignFilter struct {
	ID           *uint
	UUID         *uuid.UUID
	TenantID     *uint
	Status       *CampaignStatus
	AutomationID *uint
	DueBefore    *time.Time
}
