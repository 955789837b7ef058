package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Family is the tenancy unit. Deleting a family cascades to its members but
// only detaches associated users (their family_id is set to null).
type Family struct {
	ID                      uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	FamilyName              string     `json:"family_name" gorm:"type:varchar(100);uniqueIndex;not null"`
	AdminUserID             *uuid.UUID `json:"admin_user_id,omitempty" gorm:"type:uuid;index"`
	FamilyPasswordEncrypted string     `json:"-" gorm:"type:text"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`

	// Relations
	Members []FamilyMember `json:"members,omitempty" gorm:"foreignKey:FamilyID;constraint:OnDelete:CASCADE"`
	Users   []User         `json:"users,omitempty" gorm:"foreignKey:FamilyID;constraint:OnDelete:SET NULL"`
}

func (f *Family) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}
