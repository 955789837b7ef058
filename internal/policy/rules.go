package policy

import (
	"context"

	"familytree-service/internal/model"
)

// Table policies. Each chain ends implicitly with deny-by-default (see
// TablePolicy.Eval), so unauthenticated requesters and unmatched roles are
// always denied.
var (
	// Users: everyone may touch their own row (read, create, update;
	// never delete); approved family admins may read users of their own
	// family; super admins may do anything.
	Users = TablePolicy{
		SuperAdminRule(),
		SelfUserRule(),
		FamilyPeerReadRule(),
	}

	// Families: readable by approved users of the family, settings
	// updatable by its approved admin/co-admin. Creation and deletion are
	// super-admin territory (provisioning runs under the system context).
	Families = TablePolicy{
		SuperAdminRule(),
		FamilyReadRule(),
		FamilyManageRule(),
	}

	// FamilyMembers: readable by approved users of the family, managed by
	// its approved admin/co-admin.
	FamilyMembers = TablePolicy{
		SuperAdminRule(),
		MemberReadRule(),
		MemberManageRule(),
	}

	// OnboardingRequests: anyone may file one (public signup); reviewing
	// them is super-admin only.
	OnboardingRequests = TablePolicy{
		PublicSignupRule(),
		SuperAdminRule(),
	}
)

// SuperAdminRule allows any operation on any row for an approved super admin.
// The requester snapshot was resolved by a single non-recursive self-lookup,
// so this check never re-enters policy evaluation.
func SuperAdminRule() Rule {
	return RuleFunc(func(ctx context.Context, op Op, row any) error {
		if RequesterFromContext(ctx).IsSuperAdmin() {
			return Allow
		}
		return Skip
	})
}

// SelfUserRule allows a requester to read, create and update the user row
// whose id equals its own. It never covers another user's row, a delete, or a
// self-granted super-admin role.
func SelfUserRule() Rule {
	return RuleFunc(func(ctx context.Context, op Op, row any) error {
		r := RequesterFromContext(ctx)
		if r == nil {
			return Skip
		}
		user, ok := row.(*model.User)
		if !ok {
			return Skip
		}
		if op == OpDelete || user.ID != r.ID {
			return Skip
		}
		// A self-write can never claim the platform role.
		if op != OpSelect && user.Role == model.RoleSuperAdmin {
			return Denyf("policy: self-write may not claim role %s", user.Role)
		}
		return Allow
	})
}

// FamilyPeerReadRule allows an approved family admin/co-admin to read user
// rows belonging to its own family.
func FamilyPeerReadRule() Rule {
	return RuleFunc(func(ctx context.Context, op Op, row any) error {
		r := RequesterFromContext(ctx)
		user, ok := row.(*model.User)
		if !ok || op != OpSelect {
			return Skip
		}
		if user.FamilyID != nil && r.IsFamilyAdmin() && r.SameFamily(*user.FamilyID) {
			return Allow
		}
		return Skip
	})
}

// FamilyReadRule allows approved users of a family to read their own family
// row.
func FamilyReadRule() Rule {
	return RuleFunc(func(ctx context.Context, op Op, row any) error {
		r := RequesterFromContext(ctx)
		family, ok := row.(*model.Family)
		if !ok || op != OpSelect {
			return Skip
		}
		if r.Approved() && r.SameFamily(family.ID) {
			return Allow
		}
		return Skip
	})
}

// FamilyManageRule allows an approved admin/co-admin to update settings of
// its own family.
func FamilyManageRule() Rule {
	return RuleFunc(func(ctx context.Context, op Op, row any) error {
		family, ok := row.(*model.Family)
		if !ok || op != OpUpdate {
			return Skip
		}
		if RequesterFromContext(ctx).ManagesFamily(family.ID) {
			return Allow
		}
		return Skip
	})
}

// MemberReadRule allows approved users of a family to read its members.
func MemberReadRule() Rule {
	return RuleFunc(func(ctx context.Context, op Op, row any) error {
		r := RequesterFromContext(ctx)
		member, ok := row.(*model.FamilyMember)
		if !ok || op != OpSelect {
			return Skip
		}
		if r.Approved() && r.SameFamily(member.FamilyID) {
			return Allow
		}
		return Skip
	})
}

// MemberManageRule allows an approved admin/co-admin to create, update and
// delete members of its own family.
func MemberManageRule() Rule {
	return RuleFunc(func(ctx context.Context, op Op, row any) error {
		member, ok := row.(*model.FamilyMember)
		if !ok || op == OpSelect {
			return Skip
		}
		if RequesterFromContext(ctx).ManagesFamily(member.FamilyID) {
			return Allow
		}
		return Skip
	})
}

// PublicSignupRule allows anyone, authenticated or not, to file an
// onboarding request.
func PublicSignupRule() Rule {
	return RuleFunc(func(ctx context.Context, op Op, row any) error {
		if _, ok := row.(*model.OnboardingRequest); ok && op == OpInsert {
			return Allow
		}
		return Skip
	})
}
