package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// StepType enumerates the message channels a step (or campaign) can use.
// The set is closed: senders switch over it exhaustively and reject unknown
// values instead of falling through.
type StepType string

const (
	StepTypeEmail            StepType = "email"
	StepTypeSMS              StepType = "sms"
	StepTypeSignatureRequest StepType = "signature_request"
)

// String returns the string representation of the step type
func (t StepType) String() string { return string(t) }

// Valid checks if the step type is valid
func (t StepType) Valid() bool {
	switch t {
	case StepTypeEmail, StepTypeSMS, StepTypeSignatureRequest:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for StepType
func (t *StepType) Scan(value any) error {
	if value == nil {
		*t = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*t = StepType(v)
	case []byte:
		*t = StepType(string(v))
	default:
		return fmt.Errorf("cannot scan %T into StepType", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for StepType
func (t StepType) Value() (driver.Value, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid StepType: %s", t)
	}
	return string(t), nil
}

// SequenceTrigger enumerates how enrollments into a sequence are initiated
type SequenceTrigger string

const (
	SequenceTriggerImmediate SequenceTrigger = "immediate"
	SequenceTriggerScheduled SequenceTrigger = "scheduled"
	SequenceTriggerEvent     SequenceTrigger = "event"
)

// Valid checks if the trigger is valid
func (t SequenceTrigger) Valid() bool {
	switch t {
	case SequenceTriggerImmediate, SequenceTriggerScheduled, SequenceTriggerEvent:
		return true
	default:
		return false
	}
}

// Sequence is a tenant-defined multi-step drip template. Definitions are
// soft-disabled (IsActive=false), never hard-deleted while enrollments
// reference them.
type Sequence struct {
	ID       uint            `gorm:"primaryKey" json:"id"`
	TenantID uint            `gorm:"not null;index:idx_sequences_tenant_id" json:"tenant_id"`
	Name     string          `gorm:"size:255;not null" json:"name"`
	Trigger  SequenceTrigger `gorm:"type:sequence_trigger;not null;default:'immediate'" json:"trigger"`
	Audience AudienceSpec    `gorm:"type:jsonb;not null" json:"audience"`
	IsActive *bool           `gorm:"not null;default:true" json:"is_active"`

	CreatedAt time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`

	// Relations
	Steps []SequenceStep `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
}

func (Sequence) TableName() string { return "sequences" }

// StepAt returns the step with the given order, or nil.
func (s *Sequence) StepAt(order int) *SequenceStep {
	for i := range s.Steps {
		if s.Steps[i].StepOrder == order {
			return &s.Steps[i]
		}
	}
	return nil
}

// ValidateSteps enforces the definition-time invariant: step orders are
// unique, contiguous, and ascending starting at 1, with non-negative delays
// and a known channel per step.
func (s *Sequence) ValidateSteps() error {
	if len(s.Steps) == 0 {
		return fmt.Errorf("sequence must have at least one step")
	}
	for i, step := range s.Steps {
		if step.StepOrder != i+1 {
			return fmt.Errorf("step orders must be contiguous and ascending: expected %d, got %d", i+1, step.StepOrder)
		}
		if !step.Type.Valid() {
			return fmt.Errorf("step %d has unknown type %q", step.StepOrder, step.Type)
		}
		if step.DelayDays < 0 || step.DelayHours < 0 {
			return fmt.Errorf("step %d has negative delay", step.StepOrder)
		}
		if step.TemplateID == 0 {
			return fmt.Errorf("step %d is missing a template", step.StepOrder)
		}
	}
	return nil
}

// SequenceStep is one message within a sequence. Delay is measured from
// enrollment time for the first step, and from the previous step's dispatch
// for the rest.
type SequenceStep struct {
	ID         uint     `gorm:"primaryKey" json:"id"`
	SequenceID uint     `gorm:"not null;index:idx_sequence_steps_sequence_id;uniqueIndex:uk_sequence_steps_order,priority:1" json:"sequence_id"`
	StepOrder  int      `gorm:"not null;uniqueIndex:uk_sequence_steps_order,priority:2" json:"step_order"`
	Type       StepType `gorm:"type:step_type;not null" json:"type"`
	TemplateID uint     `gorm:"not null" json:"template_id"`
	DelayDays  int      `gorm:"not null;default:0" json:"delay_days"`
	DelayHours int      `gorm:"not null;default:0" json:"delay_hours"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
}

func (SequenceStep) TableName() string { return "sequence_steps" }

// Delay returns the step's configured delay as a duration.
func (s *SequenceStep) Delay() time.Duration {
	return time.Duration(s.DelayDays)*24*time.Hour + time.Duration(s.DelayHours)*time.Hour
}

// SequenceFilter provides filter fields for repository queries
type SequenceFilter struct {
	ID       *uint
	TenantID *uint
	IsActive *bool
	Trigger  *SequenceTrigger
}
