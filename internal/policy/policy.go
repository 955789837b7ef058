package policy

import (
	"context"
	"errors"

	"familytree-service/internal/model"
)

// Op is the data operation a policy decision is requested for.
type Op uint8

const (
	OpSelect Op = iota
	OpInsert
	OpUpdate
	OpDelete
)

// String returns the operation name.
func (op Op) String() string {
	switch op {
	case OpSelect:
		return "select"
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// Rule decides whether an operation on a row is allowed. A rule returns
// Allow or Deny to terminate evaluation, or Skip (or nil) to abstain.
type Rule interface {
	Eval(ctx context.Context, op Op, row any) error
}

// RuleFunc adapts an ordinary function to a Rule.
type RuleFunc func(ctx context.Context, op Op, row any) error

// Eval returns f(ctx, op, row).
func (f RuleFunc) Eval(ctx context.Context, op Op, row any) error {
	return f(ctx, op, row)
}

// TablePolicy is an ordered rule chain for one table. Evaluation stops at the
// first Allow or Deny; a chain that exhausts without a match denies, so the
// absence of a matching allow rule is always a denial.
type TablePolicy []Rule

// Eval evaluates the chain for the given operation and row.
func (p TablePolicy) Eval(ctx context.Context, op Op, row any) error {
	for _, rule := range p {
		switch decision := rule.Eval(ctx, op, row); {
		case decision == nil || errors.Is(decision, Skip):
		case errors.Is(decision, Allow):
			return nil
		default:
			return decision
		}
	}
	return Denyf("policy: %s denied by default", op)
}

// Decide is the evaluation entry point: given the context (carrying the
// resolved requester, or a forced system decision) it decides whether the
// operation on the row is allowed. A nil return means allow; anything else
// wraps Deny.
func Decide(ctx context.Context, op Op, row any) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return decision
	}
	switch row.(type) {
	case *model.User:
		return Users.Eval(ctx, op, row)
	case *model.Family:
		return Families.Eval(ctx, op, row)
	case *model.FamilyMember:
		return FamilyMembers.Eval(ctx, op, row)
	case *model.OnboardingRequest:
		return OnboardingRequests.Eval(ctx, op, row)
	}
	return Denyf("policy: no policy for row type %T", row)
}

// Allowed reports whether Decide permits the operation.
func Allowed(ctx context.Context, op Op, row any) bool {
	return Decide(ctx, op, row) == nil
}
