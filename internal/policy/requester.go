package policy

import (
	"context"

	"familytree-service/internal/model"

	"github.com/google/uuid"
)

// Requester is the immutable identity snapshot policy rules evaluate against.
// It is resolved exactly once per request, by a single privileged lookup of
// the caller's own user row, and then frozen into the context. Rules never
// query the database, so evaluating the users policy can't recurse into
// itself.
type Requester struct {
	ID             uuid.UUID
	Email          string
	Role           string
	ApprovalStatus string
	FamilyID       *uuid.UUID
}

// FromUser builds a requester snapshot from the caller's own user row.
func FromUser(u *model.User) Requester {
	return Requester{
		ID:             u.ID,
		Email:          u.Email,
		Role:           u.Role,
		ApprovalStatus: u.ApprovalStatus,
		FamilyID:       u.FamilyID,
	}
}

// Approved reports whether the requester's account is approved. Role claims
// grant nothing without it.
func (r *Requester) Approved() bool {
	return r != nil && r.ApprovalStatus == model.ApprovalApproved
}

// IsSuperAdmin reports whether the requester holds active super-admin
// privileges. Both the role and the approval status must check out.
func (r *Requester) IsSuperAdmin() bool {
	return r.Approved() && r.Role == model.RoleSuperAdmin
}

// IsFamilyAdmin reports whether the requester is an approved family admin or
// co-admin. A pending or rejected admin has no elevated privileges.
func (r *Requester) IsFamilyAdmin() bool {
	if !r.Approved() {
		return false
	}
	return r.Role == model.RoleFamilyAdmin || r.Role == model.RoleFamilyCoAdmin
}

// SameFamily reports whether the requester belongs to the given family.
func (r *Requester) SameFamily(familyID uuid.UUID) bool {
	return r != nil && r.FamilyID != nil && *r.FamilyID == familyID
}

// ManagesFamily reports whether the requester is an approved admin/co-admin
// of the given family.
func (r *Requester) ManagesFamily(familyID uuid.UUID) bool {
	return r.IsFamilyAdmin() && r.SameFamily(familyID)
}

type requesterCtxKey struct{}

// WithRequester returns a context with the resolved requester attached.
func WithRequester(ctx context.Context, r *Requester) context.Context {
	return context.WithValue(ctx, requesterCtxKey{}, r)
}

// RequesterFromContext retrieves the requester from the context. Returns nil
// when the request is unauthenticated.
func RequesterFromContext(ctx context.Context) *Requester {
	r, _ := ctx.Value(requesterCtxKey{}).(*Requester)
	return r
}
