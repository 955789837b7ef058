package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Roles a user row may carry. A role claim alone grants nothing: elevated
// privileges require ApprovalStatus to be approved as well.
const (
	RoleSuperAdmin    = "super_admin"
	RoleFamilyAdmin   = "family_admin"
	RoleFamilyCoAdmin = "family_co_admin"
	RoleFamilyUser    = "family_user"
)

// Approval states gating whether a role claim is active.
const (
	ApprovalApproved = "approved"
	ApprovalPending  = "pending"
	ApprovalRejected = "rejected"
)

// User represents an account row. The ID is the external auth provider's
// subject id, so deleting the auth identity removes this row with it.
// A user belongs to at most one family; FamilyID is nulled when the family
// is deleted.
type User struct {
	ID             uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	Email          string     `json:"email" gorm:"type:varchar(100);uniqueIndex;not null"`
	FullName       string     `json:"full_name" gorm:"type:varchar(200)"`
	FamilyID       *uuid.UUID `json:"family_id,omitempty" gorm:"type:uuid;index"`
	Role           string     `json:"role" gorm:"type:varchar(50);not null;default:'family_user';check:role IN ('super_admin','family_admin','family_co_admin','family_user')"`
	ApprovalStatus string     `json:"approval_status" gorm:"type:varchar(20);not null;default:'pending';check:approval_status IN ('approved','pending','rejected')"`
	PasswordHash   *string    `json:"-" gorm:"type:varchar(255)"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// BeforeCreate assigns an id when the external auth provider didn't supply one.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// ValidRole reports whether the role value is in the closed set.
func ValidRole(role string) bool {
	switch role {
	case RoleSuperAdmin, RoleFamilyAdmin, RoleFamilyCoAdmin, RoleFamilyUser:
		return true
	}
	return false
}

// ValidApprovalStatus reports whether the approval status is in the closed set.
func ValidApprovalStatus(status string) bool {
	switch status {
	case ApprovalApproved, ApprovalPending, ApprovalRejected:
		return true
	}
	return false
}
