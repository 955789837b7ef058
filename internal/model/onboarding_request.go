package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Onboarding request states. A request moves pending -> approved or
// pending -> rejected exactly once, recording the reviewer and timestamp.
const (
	RequestPending  = "pending"
	RequestApproved = "approved"
	RequestRejected = "rejected"
)

// ErrNotPending is returned when a reviewed request is reviewed again.
var ErrNotPending = errors.New("onboarding request is not pending")

// OnboardingRequest is a prospective family admin's signup awaiting
// super-admin review. The shared family password is sealed with the admin's
// own password at registration; the admin's login hash is captured here and
// copied to the user row on approval.
type OnboardingRequest struct {
	ID                      uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	Email                   string     `json:"email" gorm:"type:varchar(100);not null;index"`
	FullName                string     `json:"full_name" gorm:"type:varchar(200)"`
	FamilyName              string     `json:"family_name" gorm:"type:varchar(100);not null"`
	FamilyPasswordEncrypted string     `json:"-" gorm:"type:text"`
	PasswordHash            string     `json:"-" gorm:"type:varchar(255)"`
	Status                  string     `json:"status" gorm:"type:varchar(20);not null;default:'pending';check:status IN ('pending','approved','rejected')"`
	RejectionReason         *string    `json:"rejection_reason,omitempty" gorm:"type:text"`
	UserID                  *uuid.UUID `json:"user_id,omitempty" gorm:"type:uuid"`
	ReviewedBy              *uuid.UUID `json:"reviewed_by,omitempty" gorm:"type:uuid"`
	ReviewedAt              *time.Time `json:"reviewed_at,omitempty"`
	RequestedAt             time.Time  `json:"requested_at" gorm:"autoCreateTime"`
}

// TableName pins the table name; gorm would otherwise pluralize to
// onboarding_requests.
func (OnboardingRequest) TableName() string {
	return "admin_onboarding_requests"
}

func (r *OnboardingRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Approve transitions the request to approved, recording the reviewer, the
// provisioned user and the review time. Fails unless the request is pending.
func (r *OnboardingRequest) Approve(reviewer, userID uuid.UUID, now time.Time) error {
	if r.Status != RequestPending {
		return fmt.Errorf("%w (status: %s)", ErrNotPending, r.Status)
	}
	r.Status = RequestApproved
	r.UserID = &userID
	r.ReviewedBy = &reviewer
	r.ReviewedAt = &now
	return nil
}

// Reject transitions the request to rejected with a reason. Fails unless the
// request is pending.
func (r *OnboardingRequest) Reject(reviewer uuid.UUID, reason string, now time.Time) error {
	if r.Status != RequestPending {
		return fmt.Errorf("%w (status: %s)", ErrNotPending, r.Status)
	}
	r.Status = RequestRejected
	r.RejectionReason = &reason
	r.ReviewedBy = &reviewer
	r.ReviewedAt = &now
	return nil
}
