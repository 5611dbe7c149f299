package dto

import "time"

// SequenceStepInput represents one step in a sequence creation request
type SequenceStepInput struct {
	StepOrder  int    `json:"step_order" validate:"required,min=1"`
	Type       string `json:"type" validate:"required,oneof=email sms signature_request"`
	TemplateID uint   `json:"template_id" validate:"required"`
	DelayDays  int    `json:"delay_days" validate:"min=0"`
	DelayHours int    `json:"delay_hours" validate:"min=0"`
}

// CreateSequenceRequest represents the request to create a new sequence
type CreateSequenceRequest struct {
	TenantID    uint                `json:"-"`
	Name        string              `json:"name" validate:"required,max=255"`
	Trigger     string              `json:"trigger" validate:"omitempty,oneof=immediate scheduled event"`
	FolderIDs   []uint              `json:"folder_ids,omitempty"`
	ConsumerIDs []uint              `json:"consumer_ids,omitempty"`
	Steps       []SequenceStepInput `json:"steps" validate:"required,min=1,dive"`
}

// CreateSequenceResponse represents the response to create a new sequence
type CreateSequenceResponse struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	StepCount int       `json:"step_count"`
	CreatedAt time.Time `json:"created_at"`
}

// GetSequenceResponse represents a sequence in responses
type GetSequenceResponse struct {
	ID        uint                `json:"id"`
	Name      string              `json:"name"`
	Trigger   string              `json:"trigger"`
	IsActive  bool                `json:"is_active"`
	Steps     []SequenceStepInput `json:"steps"`
	CreatedAt time.Time           `json:"created_at"`
}

// EnrollConsumerRequest represents the request to enroll a single consumer
type EnrollConsumerRequest struct {
	TenantID   uint `json:"-"`
	SequenceID uint `json:"sequence_id" validate:"required"`
	ConsumerID uint `json:"consumer_id" validate:"required"`
}

// EnrollAudienceRequest represents the request to enroll a sequence's audience
type EnrollAudienceRequest struct {
	TenantID   uint `json:"-"`
	SequenceID uint `json:"sequence_id" validate:"required"`
}

// EnrollResponse represents the response to an enrollment request
type EnrollResponse struct {
	EnrollmentID uint       `json:"enrollment_id,omitempty"`
	Enrolled     int        `json:"enrolled"`
	Skipped      int        `json:"skipped"`
	NextStepAt   *time.Time `json:"next_step_at,omitempty"`
}

// EnrollmentActionRequest represents a pause, resume, or cancel request
type EnrollmentActionRequest struct {
	TenantID     uint `json:"-"`
	EnrollmentID uint `json:"-"`
}

// EnrollmentResponse represents an enrollment in responses
type EnrollmentResponse struct {
	ID          uint       `json:"id"`
	SequenceID  uint       `json:"sequence_id"`
	ConsumerID  uint       `json:"consumer_id"`
	Status      string     `json:"status"`
	CurrentStep int        `json:"current_step"`
	NextStepAt  *time.Time `json:"next_step_at,omitempty"`
	EnrolledAt  time.Time  `json:"enrolled_at"`
}
