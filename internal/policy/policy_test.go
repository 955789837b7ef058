package policy

import (
	"context"
	"testing"

	"familytree-service/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ctxFor(r *Requester) context.Context {
	if r == nil {
		return context.Background()
	}
	return WithRequester(context.Background(), r)
}

func requesterWith(role, approval string, familyID *uuid.UUID) *Requester {
	return &Requester{
		ID:             uuid.New(),
		Email:          "someone@example.com",
		Role:           role,
		ApprovalStatus: approval,
		FamilyID:       familyID,
	}
}

var allOps = []Op{OpSelect, OpInsert, OpUpdate, OpDelete}

func TestSuperAdminMayDoAnything(t *testing.T) {
	super := requesterWith(model.RoleSuperAdmin, model.ApprovalApproved, nil)
	ctx := ctxFor(super)
	familyID := uuid.New()

	rows := []any{
		&model.User{ID: uuid.New(), FamilyID: &familyID},
		&model.Family{ID: familyID},
		&model.FamilyMember{ID: uuid.New(), FamilyID: familyID},
		&model.OnboardingRequest{ID: uuid.New()},
	}
	for _, row := range rows {
		for _, op := range allOps {
			assert.True(t, Allowed(ctx, op, row), "super admin %s on %T", op, row)
		}
	}
}

func TestPendingSuperAdminIsPowerless(t *testing.T) {
	pending := requesterWith(model.RoleSuperAdmin, model.ApprovalPending, nil)
	ctx := ctxFor(pending)

	assert.False(t, Allowed(ctx, OpSelect, &model.Family{ID: uuid.New()}))
	assert.False(t, Allowed(ctx, OpSelect, &model.OnboardingRequest{}))
	assert.False(t, Allowed(ctx, OpDelete, &model.User{ID: uuid.New()}))
}

func TestUnauthenticatedDeniedEverywhere(t *testing.T) {
	ctx := ctxFor(nil)
	familyID := uuid.New()

	rows := []any{
		&model.User{ID: uuid.New()},
		&model.Family{ID: familyID},
		&model.FamilyMember{ID: uuid.New(), FamilyID: familyID},
	}
	for _, row := range rows {
		for _, op := range allOps {
			assert.False(t, Allowed(ctx, op, row), "anonymous %s on %T", op, row)
		}
	}
}

func TestPublicSignupInsertOnly(t *testing.T) {
	request := &model.OnboardingRequest{Email: "new@example.com"}

	t.Run("anonymous may file a request", func(t *testing.T) {
		assert.True(t, Allowed(ctxFor(nil), OpInsert, request))
	})

	t.Run("anonymous may not read or review", func(t *testing.T) {
		ctx := ctxFor(nil)
		assert.False(t, Allowed(ctx, OpSelect, request))
		assert.False(t, Allowed(ctx, OpUpdate, request))
		assert.False(t, Allowed(ctx, OpDelete, request))
	})

	t.Run("family admin may file but not review", func(t *testing.T) {
		familyID := uuid.New()
		admin := requesterWith(model.RoleFamilyAdmin, model.ApprovalApproved, &familyID)
		ctx := ctxFor(admin)
		assert.True(t, Allowed(ctx, OpInsert, request))
		assert.False(t, Allowed(ctx, OpUpdate, request))
	})
}

func TestSelfUserAccess(t *testing.T) {
	r := requesterWith(model.RoleFamilyUser, model.ApprovalApproved, nil)
	ctx := ctxFor(r)
	own := &model.User{ID: r.ID, Email: r.Email, Role: model.RoleFamilyUser}
	other := &model.User{ID: uuid.New()}

	t.Run("own row", func(t *testing.T) {
		assert.True(t, Allowed(ctx, OpSelect, own))
		assert.True(t, Allowed(ctx, OpInsert, own))
		assert.True(t, Allowed(ctx, OpUpdate, own))
		assert.False(t, Allowed(ctx, OpDelete, own), "self-delete is never allowed")
	})

	t.Run("someone else's row", func(t *testing.T) {
		for _, op := range allOps {
			assert.False(t, Allowed(ctx, op, other))
		}
	})

	t.Run("pending account still reaches its own row", func(t *testing.T) {
		p := requesterWith(model.RoleFamilyUser, model.ApprovalPending, nil)
		row := &model.User{ID: p.ID, Role: model.RoleFamilyUser}
		assert.True(t, Allowed(ctxFor(p), OpSelect, row))
		assert.True(t, Allowed(ctxFor(p), OpUpdate, row))
	})

	t.Run("self-write may not claim the platform role", func(t *testing.T) {
		escalated := &model.User{ID: r.ID, Role: model.RoleSuperAdmin, ApprovalStatus: model.ApprovalApproved}
		assert.False(t, Allowed(ctx, OpInsert, escalated))
		assert.False(t, Allowed(ctx, OpUpdate, escalated))
		assert.True(t, Allowed(ctx, OpSelect, escalated))
	})
}

func TestFamilyPeerRead(t *testing.T) {
	familyID := uuid.New()
	otherFamily := uuid.New()
	peer := &model.User{ID: uuid.New(), FamilyID: &familyID}

	t.Run("approved admin reads family users", func(t *testing.T) {
		admin := requesterWith(model.RoleFamilyAdmin, model.ApprovalApproved, &familyID)
		assert.True(t, Allowed(ctxFor(admin), OpSelect, peer))
	})

	t.Run("approved co-admin reads family users", func(t *testing.T) {
		co := requesterWith(model.RoleFamilyCoAdmin, model.ApprovalApproved, &familyID)
		assert.True(t, Allowed(ctxFor(co), OpSelect, peer))
	})

	t.Run("admin may not write family users", func(t *testing.T) {
		admin := requesterWith(model.RoleFamilyAdmin, model.ApprovalApproved, &familyID)
		assert.False(t, Allowed(ctxFor(admin), OpUpdate, peer))
		assert.False(t, Allowed(ctxFor(admin), OpDelete, peer))
	})

	t.Run("admin of another family sees nothing", func(t *testing.T) {
		admin := requesterWith(model.RoleFamilyAdmin, model.ApprovalApproved, &otherFamily)
		assert.False(t, Allowed(ctxFor(admin), OpSelect, peer))
	})

	t.Run("pending admin has no peer read", func(t *testing.T) {
		admin := requesterWith(model.RoleFamilyAdmin, model.ApprovalPending, &familyID)
		assert.False(t, Allowed(ctxFor(admin), OpSelect, peer))
	})

	t.Run("plain family user has no peer read", func(t *testing.T) {
		member := requesterWith(model.RoleFamilyUser, model.ApprovalApproved, &familyID)
		assert.False(t, Allowed(ctxFor(member), OpSelect, peer))
	})
}

func TestFamilyRowAccess(t *testing.T) {
	familyID := uuid.New()
	family := &model.Family{ID: familyID, FamilyName: "Smith"}

	t.Run("approved member reads own family", func(t *testing.T) {
		member := requesterWith(model.RoleFamilyUser, model.ApprovalApproved, &familyID)
		assert.True(t, Allowed(ctxFor(member), OpSelect, family))
		assert.False(t, Allowed(ctxFor(member), OpUpdate, family))
	})

	t.Run("admin updates own family", func(t *testing.T) {
		admin := requesterWith(model.RoleFamilyAdmin, model.ApprovalApproved, &familyID)
		assert.True(t, Allowed(ctxFor(admin), OpUpdate, family))
		assert.False(t, Allowed(ctxFor(admin), OpDelete, family), "family deletion is super-admin territory")
		assert.False(t, Allowed(ctxFor(admin), OpInsert, family), "family creation is super-admin territory")
	})

	t.Run("admin of another family denied", func(t *testing.T) {
		other := uuid.New()
		admin := requesterWith(model.RoleFamilyAdmin, model.ApprovalApproved, &other)
		assert.False(t, Allowed(ctxFor(admin), OpSelect, family))
		assert.False(t, Allowed(ctxFor(admin), OpUpdate, family))
	})

	t.Run("pending member denied", func(t *testing.T) {
		member := requesterWith(model.RoleFamilyUser, model.ApprovalPending, &familyID)
		assert.False(t, Allowed(ctxFor(member), OpSelect, family))
	})
}

func TestMemberRowAccess(t *testing.T) {
	familyID := uuid.New()
	member := &model.FamilyMember{ID: uuid.New(), FamilyID: familyID, Name: "Grandma"}

	t.Run("approved family user reads members", func(t *testing.T) {
		viewer := requesterWith(model.RoleFamilyUser, model.ApprovalApproved, &familyID)
		assert.True(t, Allowed(ctxFor(viewer), OpSelect, member))
		assert.False(t, Allowed(ctxFor(viewer), OpInsert, member))
		assert.False(t, Allowed(ctxFor(viewer), OpUpdate, member))
		assert.False(t, Allowed(ctxFor(viewer), OpDelete, member))
	})

	t.Run("admin manages members of own family", func(t *testing.T) {
		admin := requesterWith(model.RoleFamilyAdmin, model.ApprovalApproved, &familyID)
		for _, op := range allOps {
			assert.True(t, Allowed(ctxFor(admin), op, member), "admin %s", op)
		}
	})

	t.Run("admin of another family denied", func(t *testing.T) {
		other := uuid.New()
		admin := requesterWith(model.RoleFamilyAdmin, model.ApprovalApproved, &other)
		for _, op := range allOps {
			assert.False(t, Allowed(ctxFor(admin), op, member))
		}
	})

	t.Run("rejected admin denied", func(t *testing.T) {
		admin := requesterWith(model.RoleFamilyAdmin, model.ApprovalRejected, &familyID)
		assert.False(t, Allowed(ctxFor(admin), OpSelect, member))
		assert.False(t, Allowed(ctxFor(admin), OpUpdate, member))
	})
}

func TestDecisionContext(t *testing.T) {
	family := &model.Family{ID: uuid.New()}

	t.Run("system context bypasses every rule", func(t *testing.T) {
		ctx := SystemContext(context.Background())
		for _, op := range allOps {
			assert.True(t, Allowed(ctx, op, family))
		}
	})

	t.Run("forced deny overrides even a super admin", func(t *testing.T) {
		super := requesterWith(model.RoleSuperAdmin, model.ApprovalApproved, nil)
		ctx := DecisionContext(ctxFor(super), Deny)
		err := Decide(ctx, OpSelect, family)
		require.Error(t, err)
		assert.True(t, IsDenied(err))
	})

	t.Run("skip decision leaves evaluation to the rules", func(t *testing.T) {
		super := requesterWith(model.RoleSuperAdmin, model.ApprovalApproved, nil)
		ctx := DecisionContext(ctxFor(super), Skip)
		assert.True(t, Allowed(ctx, OpSelect, family))
	})
}

func TestTablePolicyDefaultDeny(t *testing.T) {
	t.Run("empty chain denies", func(t *testing.T) {
		err := TablePolicy{}.Eval(context.Background(), OpSelect, &model.User{})
		require.Error(t, err)
		assert.True(t, IsDenied(err))
	})

	t.Run("all-skip chain denies", func(t *testing.T) {
		skipper := RuleFunc(func(context.Context, Op, any) error { return Skip })
		err := TablePolicy{skipper, skipper}.Eval(context.Background(), OpUpdate, &model.User{})
		require.Error(t, err)
		assert.True(t, IsDenied(err))
	})

	t.Run("first deny wins over later allow", func(t *testing.T) {
		deny := RuleFunc(func(context.Context, Op, any) error { return Denyf("policy: blocked") })
		allow := RuleFunc(func(context.Context, Op, any) error { return Allow })
		err := TablePolicy{deny, allow}.Eval(context.Background(), OpSelect, &model.User{})
		require.Error(t, err)
		assert.True(t, IsDenied(err))
	})

	t.Run("unknown row type denied", func(t *testing.T) {
		type secret struct{}
		err := Decide(ctxFor(requesterWith(model.RoleSuperAdmin, model.ApprovalApproved, nil)), OpSelect, &secret{})
		require.Error(t, err)
		assert.True(t, IsDenied(err))
	})
}
