package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// TrackingStatus represents the delivery state of one outbound message
type TrackingStatus string

const (
	TrackingStatusQueued    TrackingStatus = "queued"
	TrackingStatusSent      TrackingStatus = "sent"
	TrackingStatusDelivered TrackingStatus = "delivered"
	TrackingStatusOpened    TrackingStatus = "opened"
	TrackingStatusClicked   TrackingStatus = "clicked"
	TrackingStatusBounced   TrackingStatus = "bounced"
	TrackingStatusFailed    TrackingStatus = "failed"
	TrackingStatusSkipped   TrackingStatus = "skipped"
	TrackingStatusOptedOut  TrackingStatus = "opted_out"
)

// String returns the string representation of the status
func (s TrackingStatus) String() string { return string(s) }

// Valid checks if the status is valid
func (s TrackingStatus) Valid() bool {
	switch s {
	case TrackingStatusQueued, TrackingStatusSent, TrackingStatusDelivered,
		TrackingStatusOpened, TrackingStatusClicked, TrackingStatusBounced,
		TrackingStatusFailed, TrackingStatusSkipped, TrackingStatusOptedOut:
		return true
	default:
		return false
	}
}

// Terminal reports whether a provider callback may still change the status.
func (s TrackingStatus) Terminal() bool {
	switch s {
	case TrackingStatusClicked, TrackingStatusBounced, TrackingStatusFailed,
		TrackingStatusSkipped, TrackingStatusOptedOut:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks if the status can transition to the target status.
// Engagement callbacks (opened, clicked) may arrive without an intermediate
// delivered callback, so they are accepted straight from sent too.
func (s TrackingStatus) CanTransitionTo(target TrackingStatus) bool {
	switch s {
	case TrackingStatusQueued:
		return target == TrackingStatusSent || target == TrackingStatusFailed
	case TrackingStatusSent:
		switch target {
		case TrackingStatusDelivered, TrackingStatusOpened, TrackingStatusClicked,
			TrackingStatusBounced, TrackingStatusFailed:
			return true
		}
		return false
	case TrackingStatusDelivered:
		return target == TrackingStatusOpened || target == TrackingStatusClicked
	case TrackingStatusOpened:
		return target == TrackingStatusClicked
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for TrackingStatus
func (s *TrackingStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = TrackingStatus(v)
	case []byte:
		*s = TrackingStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into TrackingStatus", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for TrackingStatus
func (s TrackingStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid TrackingStatus: %s", s)
	}
	return string(s), nil
}

// TrackingRecord is one row per attempted (or deliberately skipped) message.
//
// ExternalMessageID is the provider's identifier and carries a unique index:
// provider callbacks are correlated through it, and the unique constraint is
// what makes webhook replays idempotent at the storage layer.
type TrackingRecord struct {
	ID       uint `gorm:"primaryKey" json:"id"`
	TenantID uint `gorm:"not null;index:idx_tracking_records_tenant_id" json:"tenant_id"`

	CampaignID   *uint `gorm:"index:idx_tracking_records_campaign_id" json:"campaign_id,omitempty"`
	EnrollmentID *uint `gorm:"index:idx_tracking_records_enrollment_id" json:"enrollment_id,omitempty"`
	StepOrder    *int  `json:"step_order,omitempty"`
	ConsumerID   uint  `gorm:"not null;index:idx_tracking_records_consumer_id" json:"consumer_id"`

	Type              StepType       `gorm:"type:step_type;not null" json:"type"`
	Status            TrackingStatus `gorm:"type:tracking_status;not null;default:'queued';index:idx_tracking_records_status" json:"status"`
	ExternalMessageID *string        `gorm:"size:255;uniqueIndex:uk_tracking_records_external_message_id" json:"external_message_id,omitempty"`
	Destination       string         `gorm:"size:255;not null" json:"destination"`
	FailureReason     *string        `gorm:"size:500" json:"failure_reason,omitempty"`

	SentAt      *time.Time `json:"sent_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	OpenedAt    *time.Time `json:"opened_at,omitempty"`
	ClickedAt   *time.Time `json:"clicked_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`

	CreatedAt time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_tracking_records_created_at" json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func (TrackingRecord) TableName() string { return "tracking_records" }

// TrackingRecordFilter provides filter fields for repository queries
type TrackingRecordFilter struct {
	ID                *uint
	TenantID          *uint
	CampaignID        *uint
	EnrollmentID      *uint
	ConsumerID        *uint
	Status            *TrackingStatus
	ExternalMessageID *string
	CreatedAfter      *time.Time
}
