// Package domain contains core business types and interfaces.
//
// This file defines the quota evaluator: the admission decision made on
// every analysis request.
package domain

// Allowance is the result of a quota evaluation. Unlimited is an explicit
// sentinel, never a numeric overflow value: when Unlimited is true the
// Remaining field is meaningless and must not be shown as a number.
type Allowance struct {
	Unlimited bool
	Remaining int
}

// Admit reports whether a new gated action is permitted.
func (a Allowance) Admit() bool {
	return a.Unlimited || a.Remaining > 0
}

// Evaluate computes the allowance for a role given the reconciled daily
// usage count and the configured daily limit.
//
// Admins and subscribers are always unlimited. Free users are admitted while
// used < limit. The caller increments the usage count by exactly 1 after the
// gated action succeeds, and never for unlimited roles.
func Evaluate(role Role, used, limit int) Allowance {
	if role == RoleAdmin || role == RoleSubscriber {
		return Allowance{Unlimited: true}
	}
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Allowance{Remaining: remaining}
}
