package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MaxCustomFields caps the free-form key/value fields a member may carry.
const MaxCustomFields = 10

// Relationship keys a member's relationship map may use. Values are the ids
// of other members in the same family.
const (
	RelationParent1 = "parent_1"
	RelationParent2 = "parent_2"
	RelationSpouse  = "spouse"
)

// RelationshipMap links a member to other members, keyed by relation kind.
// Stored as jsonb.
type RelationshipMap map[string]uuid.UUID

// Value implements driver.Valuer for jsonb storage.
func (m RelationshipMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for jsonb storage.
func (m *RelationshipMap) Scan(value interface{}) error {
	return scanJSON(value, m)
}

// CustomFields holds user-defined key/value fields on a member. Stored as
// jsonb, capped at MaxCustomFields entries.
type CustomFields map[string]string

func (f CustomFields) Value() (driver.Value, error) {
	if f == nil {
		return nil, nil
	}
	return json.Marshal(f)
}

func (f *CustomFields) Scan(value interface{}) error {
	return scanJSON(value, f)
}

func scanJSON(value, dest interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", value)
	}
}

// FamilyMember is a node in a family's tree. Member rows are removed with
// their family (ON DELETE CASCADE).
type FamilyMember struct {
	ID            uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	FamilyID      uuid.UUID       `json:"family_id" gorm:"type:uuid;not null;index"`
	Name          string          `json:"name" gorm:"type:varchar(200);not null"`
	PhotoURL      *string         `json:"photo_url,omitempty" gorm:"type:text"`
	Relationships RelationshipMap `json:"relationships,omitempty" gorm:"type:jsonb"`
	CustomFields  CustomFields    `json:"custom_fields,omitempty" gorm:"type:jsonb"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (m *FamilyMember) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return m.Validate()
}

// BeforeUpdate re-runs validation so a partial update can't push a member
// past the custom-field cap or into an unknown relation.
func (m *FamilyMember) BeforeUpdate(tx *gorm.DB) error {
	return m.Validate()
}

// Validate checks the member invariants: a name, known relationship keys with
// no self-reference, and at most MaxCustomFields custom fields.
func (m *FamilyMember) Validate() error {
	if m.Name == "" {
		return errors.New("member name is required")
	}
	for key, target := range m.Relationships {
		switch key {
		case RelationParent1, RelationParent2, RelationSpouse:
		default:
			return fmt.Errorf("unknown relationship key %q", key)
		}
		if target == uuid.Nil {
			return fmt.Errorf("relationship %q has no target member", key)
		}
		if target == m.ID {
			return fmt.Errorf("relationship %q cannot reference the member itself", key)
		}
	}
	if len(m.CustomFields) > MaxCustomFields {
		return fmt.Errorf("at most %d custom fields allowed, got %d", MaxCustomFields, len(m.CustomFields))
	}
	for key := range m.CustomFields {
		if key == "" {
			return errors.New("custom field keys must not be empty")
		}
	}
	return nil
}
