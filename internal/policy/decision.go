// Package policy decides, for every data access, whether the requester may
// perform an operation on a row. Decisions are pure: rules only read the
// requester snapshot resolved into the context at the start of the request
// and the candidate row, never the database.
package policy

import (
	"context"
	"errors"
	"fmt"
)

// Policy decision sentinel errors. Rules return these to steer evaluation;
// check them with errors.Is.
var (
	// Allow terminates evaluation with an allow decision.
	Allow = errors.New("policy: allow rule")

	// Deny terminates evaluation with a deny decision.
	Deny = errors.New("policy: deny rule")

	// Skip abstains and hands evaluation to the next rule in the chain.
	Skip = errors.New("policy: skip rule")
)

// Allowf returns a formatted wrapped Allow decision.
func Allowf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Allow)...)
}

// Denyf returns a formatted wrapped Deny decision.
func Denyf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Deny)...)
}

// Skipf returns a formatted wrapped Skip decision.
func Skipf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Skip)...)
}

// IsDenied reports whether err carries a Deny decision.
func IsDenied(err error) bool {
	return errors.Is(err, Deny)
}

type decisionCtxKey struct{}

// DecisionContext returns a context carrying a forced policy decision.
// Evaluation short-circuits to it without consulting any rule.
func DecisionContext(parent context.Context, decision error) context.Context {
	if decision == nil || errors.Is(decision, Skip) {
		return parent
	}
	return context.WithValue(parent, decisionCtxKey{}, decision)
}

// DecisionFromContext retrieves a forced decision from the context. An Allow
// decision is normalized to nil.
func DecisionFromContext(ctx context.Context) (error, bool) {
	decision, ok := ctx.Value(decisionCtxKey{}).(error)
	if ok && errors.Is(decision, Allow) {
		decision = nil
	}
	return decision, ok
}

// SystemContext returns a context that bypasses policy evaluation entirely.
// It is the in-process analogue of the hosted database's service key: used
// for migration, requester resolution, login lookups and onboarding
// provisioning, never handed to request handlers for row access on behalf of
// a user.
func SystemContext(parent context.Context) context.Context {
	return DecisionContext(parent, Allow)
}
