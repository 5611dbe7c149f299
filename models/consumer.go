package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ConsumerVariables holds per-consumer template substitution values
// (firstName, balance, accountNumber, ...). Stored as jsonb.
type ConsumerVariables map[string]string

// Value implements the driver.Valuer interface for ConsumerVariables
func (v ConsumerVariables) Value() (driver.Value, error) {
	if v == nil {
		return json.Marshal(ConsumerVariables{})
	}
	return json.Marshal(v)
}

// Scan implements the sql.Scanner interface for ConsumerVariables
func (v *ConsumerVariables) Scan(value any) error {
	if value == nil {
		*v = ConsumerVariables{}
		return nil
	}
	var bytes []byte
	switch raw := value.(type) {
	case []byte:
		bytes = raw
	case string:
		bytes = []byte(raw)
	default:
		return fmt.Errorf("cannot scan %T into ConsumerVariables", value)
	}
	return json.Unmarshal(bytes, v)
}

// Consumer represents an end recipient owned by a tenant.
//
// SMSOptedOut is the authoritative opt-out signal: it must be consulted before
// any future send regardless of the channel-specific blocked_numbers table.
type Consumer struct {
	ID          uint    `gorm:"primaryKey" json:"id"`
	TenantID    uint    `gorm:"not null;index:idx_consumers_tenant_id" json:"tenant_id"`
	FirstName   string  `gorm:"size:100" json:"first_name"`
	LastName    string  `gorm:"size:100" json:"last_name"`
	Email       string  `gorm:"size:255;index:idx_consumers_email" json:"email"`
	PhoneNumber string  `gorm:"size:20;index:idx_consumers_phone_number" json:"phone_number"`
	FolderID    *uint   `gorm:"index:idx_consumers_folder_id" json:"folder_id,omitempty"`

	SMSOptedOut   bool       `gorm:"not null;default:false;index:idx_consumers_sms_opted_out" json:"sms_opted_out"`
	SMSOptedOutAt *time.Time `json:"sms_opted_out_at,omitempty"`

	Variables ConsumerVariables `gorm:"type:jsonb;not null;default:'{}'" json:"variables"`

	CreatedAt time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func (Consumer) TableName() string { return "consumers" }

// ContactFor returns the destination address for the given channel.
func (c *Consumer) ContactFor(t StepType) string {
	switch t {
	case StepTypeSMS:
		return c.PhoneNumber
	case StepTypeEmail, StepTypeSignatureRequest:
		return c.Email
	default:
		return ""
	}
}

// ConsumerFilter provides filter fields for repository queries
type ConsumerFilter struct {
	ID          *uint
	TenantID    *uint
	Email       *string
	PhoneNumber *string
	FolderID    *uint
	SMSOptedOut *bool
}
