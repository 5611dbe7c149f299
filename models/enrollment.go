package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// EnrollmentStatus represents the lifecycle state of an enrollment
type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusPaused    EnrollmentStatus = "paused"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusCancelled EnrollmentStatus = "cancelled"
)

// String returns the string representation of the status
func (s EnrollmentStatus) String() string { return string(s) }

// Valid checks if the status is valid
func (s EnrollmentStatus) Valid() bool {
	switch s {
	case EnrollmentStatusActive, EnrollmentStatusPaused, EnrollmentStatusCompleted, EnrollmentStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s EnrollmentStatus) Terminal() bool {
	return s == EnrollmentStatusCompleted || s == EnrollmentStatusCancelled
}

// CanTransitionTo checks if the status can transition to the target status.
// Completed and cancelled are terminal.
func (s EnrollmentStatus) CanTransitionTo(target EnrollmentStatus) bool {
	switch s {
	case EnrollmentStatusActive:
		return target == EnrollmentStatusPaused || target == EnrollmentStatusCompleted || target == EnrollmentStatusCancelled
	case EnrollmentStatusPaused:
		return target == EnrollmentStatusActive || target == EnrollmentStatusCancelled
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for EnrollmentStatus
func (s *EnrollmentStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = EnrollmentStatus(v)
	case []byte:
		*s = EnrollmentStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into EnrollmentStatus", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for EnrollmentStatus
func (s EnrollmentStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid EnrollmentStatus: %s", s)
	}
	return string(s), nil
}

// Enrollment tracks one consumer's progress through one sequence.
//
// CurrentStep is the order of the next step to dispatch. It only ever moves
// forward: pausing freezes it and resuming picks up from the same step.
// NextStepAt is when that step becomes due; nil while paused or terminal.
type Enrollment struct {
	ID          uint             `gorm:"primaryKey" json:"id"`
	TenantID    uint             `gorm:"not null;index:idx_enrollments_tenant_id" json:"tenant_id"`
	SequenceID  uint             `gorm:"not null;index:idx_enrollments_sequence_id;uniqueIndex:uk_enrollments_active,where:status IN ('active'\\,'paused')" json:"sequence_id"`
	ConsumerID  uint             `gorm:"not null;index:idx_enrollments_consumer_id;uniqueIndex:uk_enrollments_active,where:status IN ('active'\\,'paused')" json:"consumer_id"`
	Status      EnrollmentStatus `gorm:"type:enrollment_status;not null;default:'active';index:idx_enrollments_status" json:"status"`
	CurrentStep int              `gorm:"not null;default:1" json:"current_step"`
	NextStepAt  *time.Time       `gorm:"index:idx_enrollments_next_step_at" json:"next_step_at,omitempty"`

	MessagesSent    int `gorm:"not null;default:0" json:"messages_sent"`
	MessagesOpened  int `gorm:"not null;default:0" json:"messages_opened"`
	MessagesClicked int `gorm:"not null;default:0" json:"messages_clicked"`

	EnrolledAt  time.Time  `gorm:"not null;default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"enrolled_at"`
	PausedAt    *time.Time `json:"paused_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`

	// Relations
	Sequence *Sequence `gorm:"foreignKey:SequenceID" json:"sequence,omitempty"`
	Consumer *Consumer `gorm:"foreignKey:ConsumerID" json:"consumer,omitempty"`
}

func (Enrollment) TableName() string { return "enrollments" }

// IsDue reports whether the enrollment has an actionable step at the given time.
func (e *Enrollment) IsDue(now time.Time) bool {
	return e.Status == EnrollmentStatusActive && e.NextStepAt != nil && !e.NextStepAt.After(now)
}

// EnrollmentFilter provides filter fields for repository queries
type EnrollmentFilter struct {
	ID         *uint
	TenantID   *uint
	SequenceID *uint
	ConsumerID *uint
	Status     *EnrollmentStatus
	DueBefore  *time.Time
}
