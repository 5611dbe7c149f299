package dto

import "time"

// DeliveryWebhookRequest represents a provider delivery callback
type DeliveryWebhookRequest struct {
	ExternalMessageID string     `json:"external_message_id" validate:"required"`
	Status            string     `json:"status" validate:"required,oneof=sent delivered opened clicked bounced failed"`
	Reason            *string    `json:"reason,omitempty"`
	OccurredAt        *time.Time `json:"occurred_at,omitempty"`
}

// OptOutWebhookRequest represents an inbound STOP reply from a provider
type OptOutWebhookRequest struct {
	TenantID    uint   `json:"tenant_id" validate:"required"`
	PhoneNumber string `json:"phone_number" validate:"required"`
	Keyword     string `json:"keyword,omitempty"`
}

// RateLimitStatusResponse reports a tenant's throttle window state
type RateLimitStatusResponse struct {
	TenantID  uint `json:"tenant_id"`
	Limit     int  `json:"limit"`
	Used      int  `json:"used"`
	Remaining int  `json:"remaining"`
	// CanSend is whether a message dispatched right now would be admitted.
	CanSend       bool      `json:"can_send"`
	WindowStart   time.Time `json:"window_start"`
	WindowSeconds int       `json:"window_seconds"`
	ResetsAt      time.Time `json:"resets_at"`
}

// QueueStatusResponse reports a tenant's pending dispatch workload
type QueueStatusResponse struct {
	TenantID        uint  `json:"tenant_id"`
	QueueLength     int64 `json:"queue_length"`
	ActiveCampaigns int64 `json:"active_campaigns"`
	DueEnrollments  int64 `json:"due_enrollments"`
	// EstimatedWaitSeconds is the queue length divided by the tenant's
	// per-minute limit, rounded up to whole minutes. Zero when the limit is.
	EstimatedWaitSeconds    int64      `json:"estimated_wait_seconds"`
	ThrottleLimit           int        `json:"throttle_limit"`
	OldestCampaignStartedAt *time.Time `json:"oldest_campaign_started_at,omitempty"`
}
