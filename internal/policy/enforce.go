package policy

import (
	"reflect"

	"familytree-service/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Enforcer is a gorm plugin that applies the table policies at the
// data-access boundary, so no caller can reach a protected row without a
// decision. Reads are constrained by injecting row filters derived from the
// requester (the analogue of row-level security on select); writes are
// checked against the row before execution. Contexts carrying a system
// decision bypass enforcement.
type Enforcer struct{}

// NewEnforcer returns the policy enforcement plugin.
func NewEnforcer() *Enforcer {
	return &Enforcer{}
}

// Name implements gorm.Plugin.
func (*Enforcer) Name() string {
	return "familytree:policy"
}

// Initialize registers the enforcement callbacks.
func (*Enforcer) Initialize(db *gorm.DB) error {
	if err := db.Callback().Query().Before("gorm:query").Register("policy:scope_query", scopeQuery); err != nil {
		return err
	}
	if err := db.Callback().Create().Before("gorm:create").Register("policy:check_create", checkWrite(OpInsert)); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").Register("policy:check_update", checkWrite(OpUpdate)); err != nil {
		return err
	}
	return db.Callback().Delete().Before("gorm:delete").Register("policy:check_delete", checkWrite(OpDelete))
}

var (
	userType    = reflect.TypeOf(model.User{})
	familyType  = reflect.TypeOf(model.Family{})
	memberType  = reflect.TypeOf(model.FamilyMember{})
	requestType = reflect.TypeOf(model.OnboardingRequest{})
)

func isProtected(t reflect.Type) bool {
	switch t {
	case userType, familyType, memberType, requestType:
		return true
	}
	return false
}

// protectedRowType resolves the protected model type a statement targets, or
// nil when the statement touches no protected table.
func protectedRowType(db *gorm.DB) reflect.Type {
	for _, v := range []any{db.Statement.Model, db.Statement.Dest} {
		if v == nil {
			continue
		}
		t := reflect.TypeOf(v)
		for t.Kind() == reflect.Ptr || t.Kind() == reflect.Slice {
			t = t.Elem()
		}
		if isProtected(t) {
			return t
		}
	}
	return nil
}

// scopeQuery narrows selects on protected tables to the rows the requester
// may read. Out-of-scope rows simply don't exist from the requester's point
// of view, so id-addressed lookups come back as not-found rather than
// forbidden.
func scopeQuery(db *gorm.DB) {
	ctx := db.Statement.Context
	if decision, ok := DecisionFromContext(ctx); ok {
		if decision != nil {
			db.AddError(decision)
		}
		return
	}

	t := protectedRowType(db)
	if t == nil {
		return
	}

	r := RequesterFromContext(ctx)
	if r.IsSuperAdmin() {
		return
	}

	var expr clause.Expression
	switch t {
	case userType:
		if r == nil {
			expr = denyAll()
			break
		}
		self := colEq("id", r.ID)
		if r.IsFamilyAdmin() && r.FamilyID != nil {
			expr = clause.Or(self, colEq("family_id", *r.FamilyID))
		} else {
			expr = self
		}
	case familyType:
		if r.Approved() && r.FamilyID != nil {
			expr = colEq("id", *r.FamilyID)
		} else {
			expr = denyAll()
		}
	case memberType:
		if r.Approved() && r.FamilyID != nil {
			expr = colEq("family_id", *r.FamilyID)
		} else {
			expr = denyAll()
		}
	case requestType:
		expr = denyAll()
	}

	db.Statement.AddClause(clause.Where{Exprs: []clause.Expression{expr}})
}

// checkWrite evaluates the table policy against every protected row a write
// statement carries, aborting the statement on the first denial. Table-level
// writes without a loaded row (batch updates through a zero model) are
// evaluated against the zero row, so only rules independent of row fields
// (the super-admin override) can let them through.
func checkWrite(op Op) func(*gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		if decision, ok := DecisionFromContext(ctx); ok {
			if decision != nil {
				db.AddError(decision)
			}
			return
		}

		rows := statementRows(db)
		if len(rows) == 0 {
			if t := protectedRowType(db); t != nil {
				if err := Decide(ctx, op, reflect.New(t).Interface()); err != nil {
					db.AddError(err)
				}
			}
			return
		}
		for _, row := range rows {
			if err := Decide(ctx, op, row); err != nil {
				db.AddError(err)
				return
			}
		}
	}
}

// statementRows collects the protected rows referenced by a statement's
// model and destination, including batches.
func statementRows(db *gorm.DB) []any {
	var rows []any
	collect := func(v any) {
		if v == nil {
			return
		}
		rv := reflect.ValueOf(v)
		for rv.Kind() == reflect.Ptr {
			if rv.IsNil() {
				return
			}
			rv = rv.Elem()
		}
		switch rv.Kind() {
		case reflect.Struct:
			if isProtected(rv.Type()) {
				rows = append(rows, addrOf(rv))
			}
		case reflect.Slice:
			for i := 0; i < rv.Len(); i++ {
				ev := rv.Index(i)
				for ev.Kind() == reflect.Ptr {
					if ev.IsNil() {
						break
					}
					ev = ev.Elem()
				}
				if ev.Kind() == reflect.Struct && isProtected(ev.Type()) {
					rows = append(rows, addrOf(ev))
				}
			}
		}
	}
	collect(db.Statement.Dest)
	if db.Statement.Model != nil && !sameReference(db.Statement.Model, db.Statement.Dest) {
		collect(db.Statement.Model)
	}
	return rows
}

func addrOf(rv reflect.Value) any {
	if rv.CanAddr() {
		return rv.Addr().Interface()
	}
	nv := reflect.New(rv.Type())
	nv.Elem().Set(rv)
	return nv.Interface()
}

// sameReference reports whether two statement targets are the same pointer.
// Interface equality would panic on uncomparable targets such as slices.
func sameReference(a, b any) bool {
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Kind() != reflect.Ptr || rb.Kind() != reflect.Ptr {
		return false
	}
	return ra.Pointer() == rb.Pointer()
}

func colEq(name string, value any) clause.Expression {
	return clause.Eq{
		Column: clause.Column{Table: clause.CurrentTable, Name: name},
		Value:  value,
	}
}

func denyAll() clause.Expression {
	return clause.Expr{SQL: "1 = 0"}
}
