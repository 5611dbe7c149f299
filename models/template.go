package models

import "time"

// Template is a tenant-owned message body with {{placeholder}} markers that
// the renderer substitutes from consumer variables at send time.
type Template struct {
	ID       uint     `gorm:"primaryKey" json:"id"`
	TenantID uint     `gorm:"not null;index:idx_templates_tenant_id" json:"tenant_id"`
	Name     string   `gorm:"size:255;not null" json:"name"`
	Type     StepType `gorm:"type:step_type;not null" json:"type"`
	Subject  string   `gorm:"size:255" json:"subject"`
	Body     string   `gorm:"type:text;not null" json:"body"`
	IsActive *bool    `gorm:"not null;default:true" json:"is_active"`

	CreatedAt time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func (Template) TableName() string { return "templates" }

// TemplateFilter provides filter fields for repository queries
type TemplateFilter struct {
	ID       *uint
	TenantID *uint
	Type     *StepType
	IsActive *bool
}
