package dto

import "time"

// CreateCampaignRequest represents the request to create a new campaign
type CreateCampaignRequest struct {
	TenantID    uint       `json:"-"`
	Name        string     `json:"name" validate:"required,max=255"`
	Type        string     `json:"type" validate:"required,oneof=email sms signature_request"`
	TemplateID  uint       `json:"template_id" validate:"required"`
	FolderIDs   []uint     `json:"folder_ids,omitempty"`
	ConsumerIDs []uint     `json:"consumer_ids,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

// CreateCampaignResponse represents the response to create a new campaign
type CreateCampaignResponse struct {
	UUID            string    `json:"uuid"`
	Status          string    `json:"status"`
	TotalRecipients int       `json:"total_recipients"`
	CreatedAt       time.Time `json:"created_at"`
}

// GetCampaignRequest represents the request to get an existing campaign
type GetCampaignRequest struct {
	UUID     string `json:"-"`
	TenantID uint   `json:"-"`
}

// GetCampaignResponse represents a campaign in responses
type GetCampaignResponse struct {
	UUID            string     `json:"uuid"`
	Name            string     `json:"name"`
	Type            string     `json:"type"`
	Status          string     `json:"status"`
	TotalRecipients int        `json:"total_recipients"`
	SentCount       int        `json:"sent_count"`
	DeliveredCount  int        `json:"delivered_count"`
	FailedCount     int        `json:"failed_count"`
	SkippedCount    int        `json:"skipped_count"`
	OptOutCount     int        `json:"opt_out_count"`
	Remaining       int        `json:"remaining"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// CreateAutomationRequest represents the request to create a new automation
type CreateAutomationRequest struct {
	TenantID      uint      `json:"-"`
	Name          string    `json:"name" validate:"required,max=255"`
	Type          string    `json:"type" validate:"required,oneof=email sms signature_request"`
	TemplateID    uint      `json:"template_id" validate:"required"`
	FolderIDs     []uint    `json:"folder_ids,omitempty"`
	ConsumerIDs   []uint    `json:"consumer_ids,omitempty"`
	NextExecution time.Time `json:"next_execution" validate:"required"`
}

// CreateAutomationResponse represents the response to create a new automation
type CreateAutomationResponse struct {
	ID            uint      `json:"id"`
	Status        string    `json:"status"`
	NextExecution time.Time `json:"next_execution"`
}
