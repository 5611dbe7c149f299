package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// AutomationStatus represents the lifecycle state of an automation
type AutomationStatus string

const (
	AutomationStatusScheduled AutomationStatus = "scheduled"
	AutomationStatusExecuted  AutomationStatus = "executed"
	AutomationStatusCancelled AutomationStatus = "cancelled"
)

// String returns the string representation of the status
func (s AutomationStatus) String() string { return string(s) }

// Valid checks if the status is valid
func (s AutomationStatus) Valid() bool {
	switch s {
	case AutomationStatusScheduled, AutomationStatusExecuted, AutomationStatusCancelled:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for AutomationStatus
func (s *AutomationStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = AutomationStatus(v)
	case []byte:
		*s = AutomationStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into AutomationStatus", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for AutomationStatus
func (s AutomationStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid AutomationStatus: %s", s)
	}
	return string(s), nil
}

// ExecutionStatus classifies the aggregated outcome of one automation firing
type ExecutionStatus string

const (
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusPartial ExecutionStatus = "partial"
	ExecutionStatusFailed  ExecutionStatus = "failed"
)

// Valid checks if the status is valid
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionStatusSuccess, ExecutionStatusPartial, ExecutionStatusFailed:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for ExecutionStatus
func (s *ExecutionStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = ExecutionStatus(v)
	case []byte:
		*s = ExecutionStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ExecutionStatus", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for ExecutionStatus
func (s ExecutionStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid ExecutionStatus: %s", s)
	}
	return string(s), nil
}

// ExecutionOutcome derives the aggregated status from a firing's send counters.
func ExecutionOutcome(sent, failed int) ExecutionStatus {
	switch {
	case failed == 0:
		return ExecutionStatusSuccess
	case sent == 0:
		return ExecutionStatusFailed
	default:
		return ExecutionStatusPartial
	}
}

// Automation is a one-shot scheduled blast: at NextExecution it snapshots its
// audience into a campaign and records an execution row.
//
// The LastExecuted / NextExecution pair doubles as the claim token: a worker
// fires an automation only by atomically setting LastExecuted to the
// NextExecution it read, which keeps concurrent schedulers from double-firing.
type Automation struct {
	ID         uint             `gorm:"primaryKey" json:"id"`
	TenantID   uint             `gorm:"not null;index:idx_automations_tenant_id" json:"tenant_id"`
	Name       string           `gorm:"size:255;not null" json:"name"`
	Type       StepType         `gorm:"type:step_type;not null" json:"type"`
	TemplateID uint             `gorm:"not null" json:"template_id"`
	Audience   AudienceSpec     `gorm:"type:jsonb;not null" json:"audience"`
	Status     AutomationStatus `gorm:"type:automation_status;not null;default:'scheduled';index:idx_automations_status" json:"status"`

	NextExecution *time.Time `gorm:"index:idx_automations_next_execution" json:"next_execution,omitempty"`
	LastExecuted  *time.Time `json:"last_executed,omitempty"`
	TotalSent     int        `gorm:"not null;default:0" json:"total_sent"`

	CreatedAt time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func (Automation) TableName() string { return "automations" }

// ShouldFire reports whether the automation is due at the given time and has
// not already been executed for the current NextExecution.
func (a *Automation) ShouldFire(now time.Time) bool {
	if a.Status != AutomationStatusScheduled || a.NextExecution == nil {
		return false
	}
	if a.NextExecution.After(now) {
		return false
	}
	return a.LastExecuted == nil || a.LastExecuted.Before(*a.NextExecution)
}

// AutomationExecution is an append-only audit record of one firing, written
// once with the aggregated outcome and never mutated afterwards.
type AutomationExecution struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	AutomationID uint            `gorm:"not null;index:idx_automation_executions_automation_id" json:"automation_id"`
	CampaignID   uint            `gorm:"not null" json:"campaign_id"`
	Status       ExecutionStatus `gorm:"type:execution_status;not null" json:"status"`
	ExecutedAt   time.Time       `gorm:"not null;default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"executed_at"`
	AudienceSize int             `gorm:"not null" json:"audience_size"`
	SentCount    int             `gorm:"not null;default:0" json:"sent_count"`
	FailedCount  int             `gorm:"not null;default:0" json:"failed_count"`
	SkippedCount int             `gorm:"not null;default:0" json:"skipped_count"`
	ErrorDetail  *string         `gorm:"type:text" json:"error_detail,omitempty"`
}

func (AutomationExecution) TableName() string { return "automation_executions" }

// AutomationFilter provides filter fields for repository queries
type AutomationFilter struct {
	ID        *uint
	TenantID  *uint
	Status    *AutomationStatus
	DueBefore *time.Time
}
