package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant represents an agency account on the platform. The dispatch engine
// treats tenants as isolation boundaries: every campaign, enrollment, and
// throttle counter is scoped to exactly one tenant.
type Tenant struct {
	ID   uint      `gorm:"primaryKey" json:"id"`
	UUID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_tenants_uuid" json:"uuid"`
	Name string    `gorm:"size:255;not null" json:"name"`

	// SMSThrottleLimit is the shared per-minute send ceiling across all of the
	// tenant's simultaneous campaigns and enrollment step sends. Zero disables
	// sending for the tenant.
	SMSThrottleLimit int `gorm:"not null;default:60" json:"sms_throttle_limit"`

	IsActive  *bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func (Tenant) TableName() string { return "tenants" }

// TenantFilter provides filter fields for repository queries
type TenantFilter struct {
	ID       *uint
	UUID     *uuid.UUID
	IsActive *bool
}
