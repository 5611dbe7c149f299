package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// AudienceSpec describes how to resolve the recipient set for a sequence or
// automation. Resolution happens lazily at enrollment or fire time, so the
// spec is declarative rather than a frozen ID list. Stored as jsonb.
type AudienceSpec struct {
	// FolderIDs selects every consumer filed in any of the folders.
	FolderIDs []uint `json:"folder_ids,omitempty"`
	// ConsumerIDs adds an explicit set of consumers.
	//
	// The resolved audience is the union of both selectors; a consumer
	// matching either one is in. When both are empty the audience is the
	// whole tenant.
	ConsumerIDs []uint `json:"consumer_ids,omitempty"`
}

// Empty reports whether the spec selects the whole tenant.
func (a AudienceSpec) Empty() bool {
	return len(a.FolderIDs) == 0 && len(a.ConsumerIDs) == 0
}

// Value implements the driver.Valuer interface for AudienceSpec
func (a AudienceSpec) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements the sql.Scanner interface for AudienceSpec
func (a *AudienceSpec) Scan(value any) error {
	if value == nil {
		*a = AudienceSpec{}
		return nil
	}
	var bytes []byte
	switch raw := value.(type) {
	case []byte:
		bytes = raw
	case string:
		bytes = []byte(raw)
	default:
		return fmt.Errorf("cannot scan %T into AudienceSpec", value)
	}
	return json.Unmarshal(bytes, a)
}
