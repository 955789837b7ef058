package policy

import (
	"context"
	"testing"

	"familytree-service/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// dryRunDB opens a gorm session that builds SQL without touching a server,
// with the enforcement plugin installed, so the injected filters and write
// checks can be asserted offline.
func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  "host=localhost user=postgres dbname=familytree sslmode=disable",
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		DryRun:                 true,
		DisableAutomaticPing:   true,
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Use(NewEnforcer()))
	return db
}

func builtSQL(tx *gorm.DB) string {
	return tx.Statement.SQL.String()
}

func TestScopeQueryUserFilters(t *testing.T) {
	db := dryRunDB(t)
	familyID := uuid.New()

	t.Run("family admin sees self and own-family rows", func(t *testing.T) {
		admin := requesterWith(model.RoleFamilyAdmin, model.ApprovalApproved, &familyID)
		var users []model.User
		tx := db.WithContext(ctxFor(admin)).Find(&users)
		require.NoError(t, tx.Error)

		sql := builtSQL(tx)
		assert.Contains(t, sql, `"users"."id" =`)
		assert.Contains(t, sql, `"users"."family_id" =`)
		assert.Contains(t, tx.Statement.Vars, admin.ID)
		assert.Contains(t, tx.Statement.Vars, familyID)
	})

	t.Run("plain family user sees only self", func(t *testing.T) {
		member := requesterWith(model.RoleFamilyUser, model.ApprovalApproved, &familyID)
		var users []model.User
		tx := db.WithContext(ctxFor(member)).Find(&users)
		require.NoError(t, tx.Error)

		sql := builtSQL(tx)
		assert.Contains(t, sql, `"users"."id" =`)
		assert.NotContains(t, sql, `"users"."family_id" =`)
		assert.Contains(t, tx.Statement.Vars, member.ID)
	})

	t.Run("super admin is unscoped", func(t *testing.T) {
		super := requesterWith(model.RoleSuperAdmin, model.ApprovalApproved, nil)
		var users []model.User
		tx := db.WithContext(ctxFor(super)).Find(&users)
		require.NoError(t, tx.Error)
		assert.NotContains(t, builtSQL(tx), "WHERE")
	})

	t.Run("anonymous matches no rows", func(t *testing.T) {
		var users []model.User
		tx := db.WithContext(context.Background()).Find(&users)
		require.NoError(t, tx.Error)
		assert.Contains(t, builtSQL(tx), "1 = 0")
	})
}

func TestScopeQueryFamilyAndMemberFilters(t *testing.T) {
	db := dryRunDB(t)
	familyID := uuid.New()

	t.Run("id-addressed family read carries the scope filter", func(t *testing.T) {
		member := requesterWith(model.RoleFamilyUser, model.ApprovalApproved, &familyID)
		var family model.Family
		// Asking for another family's id still gets the own-family filter
		// appended, so the lookup can only come back empty: out-of-scope
		// reads surface as not-found, not forbidden.
		tx := db.WithContext(ctxFor(member)).First(&family, "id = ?", uuid.New())

		sql := builtSQL(tx)
		assert.Contains(t, sql, `"families"."id" =`)
		assert.Contains(t, tx.Statement.Vars, familyID)
	})

	t.Run("pending member sees no family rows", func(t *testing.T) {
		pending := requesterWith(model.RoleFamilyUser, model.ApprovalPending, &familyID)
		var families []model.Family
		tx := db.WithContext(ctxFor(pending)).Find(&families)
		require.NoError(t, tx.Error)
		assert.Contains(t, builtSQL(tx), "1 = 0")
	})

	t.Run("member rows filtered to own family", func(t *testing.T) {
		member := requesterWith(model.RoleFamilyUser, model.ApprovalApproved, &familyID)
		var members []model.FamilyMember
		tx := db.WithContext(ctxFor(member)).Find(&members)
		require.NoError(t, tx.Error)

		sql := builtSQL(tx)
		assert.Contains(t, sql, `"family_members"."family_id" =`)
		assert.Contains(t, tx.Statement.Vars, familyID)
	})

	t.Run("onboarding requests hidden from family admins", func(t *testing.T) {
		admin := requesterWith(model.RoleFamilyAdmin, model.ApprovalApproved, &familyID)
		var requests []model.OnboardingRequest
		tx := db.WithContext(ctxFor(admin)).Find(&requests)
		require.NoError(t, tx.Error)
		assert.Contains(t, builtSQL(tx), "1 = 0")
	})

	t.Run("onboarding requests visible to super admins", func(t *testing.T) {
		super := requesterWith(model.RoleSuperAdmin, model.ApprovalApproved, nil)
		var requests []model.OnboardingRequest
		tx := db.WithContext(ctxFor(super)).Find(&requests)
		require.NoError(t, tx.Error)
		assert.NotContains(t, builtSQL(tx), "1 = 0")
	})

	t.Run("system context is never filtered", func(t *testing.T) {
		var families []model.Family
		tx := db.WithContext(SystemContext(context.Background())).Find(&families)
		require.NoError(t, tx.Error)
		assert.NotContains(t, builtSQL(tx), "WHERE")
	})
}

func TestEnforcerWriteChecks(t *testing.T) {
	db := dryRunDB(t)
	familyID := uuid.New()
	otherFamily := uuid.New()
	admin := requesterWith(model.RoleFamilyAdmin, model.ApprovalApproved, &familyID)

	t.Run("admin creates a member of own family", func(t *testing.T) {
		m := model.FamilyMember{FamilyID: familyID, Name: "Grandpa"}
		tx := db.WithContext(ctxFor(admin)).Create(&m)
		assert.NoError(t, tx.Error)
	})

	t.Run("admin cannot create a member of another family", func(t *testing.T) {
		m := model.FamilyMember{FamilyID: otherFamily, Name: "Stranger"}
		tx := db.WithContext(ctxFor(admin)).Create(&m)
		require.Error(t, tx.Error)
		assert.True(t, IsDenied(tx.Error))
	})

	t.Run("anonymous may file an onboarding request", func(t *testing.T) {
		r := model.OnboardingRequest{Email: "new@example.com", FamilyName: "Smith", Status: model.RequestPending}
		tx := db.WithContext(context.Background()).Create(&r)
		assert.NoError(t, tx.Error)
	})

	t.Run("plain user cannot update the family row", func(t *testing.T) {
		member := requesterWith(model.RoleFamilyUser, model.ApprovalApproved, &familyID)
		f := model.Family{ID: familyID, FamilyName: "Smith"}
		tx := db.WithContext(ctxFor(member)).Save(&f)
		require.Error(t, tx.Error)
		assert.True(t, IsDenied(tx.Error))
	})

	t.Run("admin cannot delete a foreign member row", func(t *testing.T) {
		m := model.FamilyMember{ID: uuid.New(), FamilyID: otherFamily, Name: "Stranger"}
		tx := db.WithContext(ctxFor(admin)).Delete(&m)
		require.Error(t, tx.Error)
		assert.True(t, IsDenied(tx.Error))
	})

	t.Run("table-level update needs the super-admin override", func(t *testing.T) {
		member := requesterWith(model.RoleFamilyUser, model.ApprovalApproved, &familyID)
		tx := db.WithContext(ctxFor(member)).
			Model(&model.Family{}).
			Where("id = ?", familyID).
			Update("family_name", "Jones")
		require.Error(t, tx.Error)
		assert.True(t, IsDenied(tx.Error))

		super := requesterWith(model.RoleSuperAdmin, model.ApprovalApproved, nil)
		tx = db.WithContext(ctxFor(super)).
			Model(&model.Family{}).
			Where("id = ?", familyID).
			Update("family_name", "Jones")
		assert.NoError(t, tx.Error)
	})

	t.Run("system context bypasses write checks", func(t *testing.T) {
		f := model.Family{FamilyName: "Provisioned"}
		tx := db.WithContext(SystemContext(context.Background())).Create(&f)
		assert.NoError(t, tx.Error)
	})
}
