package models

import "time"

// BlockedNumber records an SMS destination that replied STOP (or was blocked
// by the tenant). One row per tenant+number; repeated opt-outs bump HitCount.
type BlockedNumber struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	TenantID    uint   `gorm:"not null;uniqueIndex:uk_blocked_numbers_tenant_phone" json:"tenant_id"`
	PhoneNumber string `gorm:"size:20;not null;uniqueIndex:uk_blocked_numbers_tenant_phone" json:"phone_number"`
	Reason      string `gorm:"size:255" json:"reason"`
	HitCount    int    `gorm:"not null;default:1" json:"hit_count"`

	CreatedAt time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func (BlockedNumber) TableName() string { return "blocked_numbers" }

// BlockedNumberFilter provides filter fields for repository queries
type BlockedNumberFilter struct {
	ID          *uint
	TenantID    *uint
	PhoneNumber *string
}
