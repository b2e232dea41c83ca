// Package domain contains core business types and interfaces.
//
// This file defines the Entitlement record: the per-user state that governs
// usage rights. It is mutated by three independent paths (the analysis
// request path, Stripe webhook events, and referral redemption) and read
// synchronously on every gated request.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus represents the possible states of a user's subscription.
//
// Transitions are driven by Stripe events plus a user-initiated cancellation:
//
//	free -> active     (checkout completed)
//	active -> cancelled (cancellation requested; access persists to end date)
//	cancelled -> free  (subscription deleted at period end)
//	active -> free     (subscription deleted directly, e.g. payment failure)
type SubscriptionStatus string

const (
	SubscriptionFree      SubscriptionStatus = "free"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Role is the derived access level of a user. It is never stored; it is
// computed from the admin allow-list and the entitlement record.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSubscriber Role = "subscriber"
	RoleFree       Role = "free"
)

// DateLayout is the wire and storage format for UTC calendar dates.
const DateLayout = "2006-01-02"

// DateOf returns the UTC calendar date of t (YYYY-MM-DD).
func DateOf(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// Entitlement is the per-user record governing usage rights.
//
// DailyUsageCount is only meaningful relative to DailyResetDate: any reader
// must reconcile staleness first (see ReconcileWindow).
type Entitlement struct {
	UserID              uuid.UUID
	SubscriptionStatus  SubscriptionStatus
	SubscriptionID      string     // Stripe subscription reference; empty until a subscription exists
	SubscriptionEndDate *time.Time // set when cancellation is scheduled or period end is known
	DailyUsageCount     int
	DailyResetDate      string // UTC calendar date the usage count is valid for
	ReferralCode        string // unique, generated at signup, immutable
	ReferredBy          *uuid.UUID
	BonusCredits        int
	ReferralCount       int
	UpdatedAt           time.Time
}

// ReconcileWindow lazily rolls the daily usage window forward. If the stored
// reset date is not today, the count is zeroed and the date advanced.
// Returns true if the record changed (callers must then persist the reset
// before making an admission decision). Idempotent within a day.
func (e *Entitlement) ReconcileWindow(today string) bool {
	if e.DailyResetDate == today {
		return false
	}
	e.DailyUsageCount = 0
	e.DailyResetDate = today
	return true
}

// HasPaidAccess reports whether the subscription currently grants unlimited
// access. A cancelled subscription keeps access until its end date elapses;
// a cancelled record without a known end date does not.
func (e *Entitlement) HasPaidAccess(now time.Time) bool {
	switch e.SubscriptionStatus {
	case SubscriptionActive:
		return true
	case SubscriptionCancelled:
		return e.SubscriptionEndDate != nil && now.Before(*e.SubscriptionEndDate)
	default:
		return false
	}
}

// ActivateSubscription records a completed checkout. Safe to replay.
func (e *Entitlement) ActivateSubscription(subscriptionID string) {
	e.SubscriptionStatus = SubscriptionActive
	e.SubscriptionID = subscriptionID
}

// UpdateSubscription applies a "subscription updated" event from the payment
// processor. An active processor status keeps the record active; anything
// else means cancellation is pending and access runs to periodEnd.
func (e *Entitlement) UpdateSubscription(processorActive bool, periodEnd time.Time) {
	if processorActive {
		e.SubscriptionStatus = SubscriptionActive
	} else {
		e.SubscriptionStatus = SubscriptionCancelled
	}
	end := periodEnd
	e.SubscriptionEndDate = &end
}

// MarkCancelled records a user-initiated cancellation request, without
// waiting for the processor's confirming event. periodEnd is when paid
// access runs out; a zero value leaves any known end date in place.
func (e *Entitlement) MarkCancelled(periodEnd time.Time) {
	e.SubscriptionStatus = SubscriptionCancelled
	if !periodEnd.IsZero() {
		end := periodEnd
		e.SubscriptionEndDate = &end
	}
}

// ClearSubscription applies a confirmed termination ("subscription deleted").
// The record returns to the free tier and the external reference is dropped.
// Replaying the event leaves the record unchanged.
func (e *Entitlement) ClearSubscription() {
	e.SubscriptionStatus = SubscriptionFree
	e.SubscriptionID = ""
	e.SubscriptionEndDate = nil
}

// CanRedeemReferral reports whether this user may still redeem a referral
// code. Redemption is a once-per-account event.
func (e *Entitlement) CanRedeemReferral() bool {
	return e.ReferredBy == nil
}

// AdminList is the set of email addresses with admin access, normalized to
// lower case. It is built once from configuration at startup and never
// mutated at runtime.
type AdminList map[string]struct{}

// NewAdminList builds an AdminList from raw configured addresses.
func NewAdminList(emails []string) AdminList {
	list := make(AdminList, len(emails))
	for _, email := range emails {
		norm := strings.ToLower(strings.TrimSpace(email))
		if norm != "" {
			list[norm] = struct{}{}
		}
	}
	return list
}

// Contains reports whether email is on the allow-list (case-insensitive).
func (l AdminList) Contains(email string) bool {
	_, ok := l[strings.ToLower(strings.TrimSpace(email))]
	return ok
}

// ResolveRole derives the access role for a user. Admin membership takes
// precedence over everything else; otherwise paid access makes the user a
// subscriber. Pure function, no side effects.
func ResolveRole(admins AdminList, email string, ent *Entitlement, now time.Time) Role {
	if admins.Contains(email) {
		return RoleAdmin
	}
	if ent != nil && ent.HasPaidAccess(now) {
		return RoleSubscriber
	}
	return RoleFree
}
