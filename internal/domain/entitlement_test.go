package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestEntitlement_ReconcileWindow(t *testing.T) {
	tests := []struct {
		name        string
		resetDate   string
		usageCount  int
		today       string
		wantChanged bool
		wantCount   int
		wantDate    string
	}{
		{"stale date resets count", "2026-08-29", 2, "2026-08-30", true, 0, "2026-08-30"},
		{"same day is a no-op", "2026-08-30", 1, "2026-08-30", false, 1, "2026-08-30"},
		{"empty date resets", "", 5, "2026-08-30", true, 0, "2026-08-30"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ent := &Entitlement{DailyResetDate: tt.resetDate, DailyUsageCount: tt.usageCount}
			changed := ent.ReconcileWindow(tt.today)

			assert.Equal(t, tt.wantChanged, changed)
			assert.Equal(t, tt.wantCount, ent.DailyUsageCount)
			assert.Equal(t, tt.wantDate, ent.DailyResetDate)
		})
	}
}

func TestEntitlement_ReconcileWindow_Idempotent(t *testing.T) {
	ent := &Entitlement{DailyResetDate: "2026-08-29", DailyUsageCount: 2}

	assert.True(t, ent.ReconcileWindow("2026-08-30"))
	assert.False(t, ent.ReconcileWindow("2026-08-30"))
	assert.Equal(t, 0, ent.DailyUsageCount)
}

func TestEntitlement_HasPaidAccess(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	future := now.Add(72 * time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name    string
		status  SubscriptionStatus
		endDate *time.Time
		want    bool
	}{
		{"active always has access", SubscriptionActive, nil, true},
		{"cancelled before end date keeps access", SubscriptionCancelled, &future, true},
		{"cancelled after end date loses access", SubscriptionCancelled, &past, false},
		{"cancelled without end date loses access", SubscriptionCancelled, nil, false},
		{"free has no paid access", SubscriptionFree, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ent := &Entitlement{SubscriptionStatus: tt.status, SubscriptionEndDate: tt.endDate}
			assert.Equal(t, tt.want, ent.HasPaidAccess(now))
		})
	}
}

func TestEntitlement_SubscriptionTransitions(t *testing.T) {
	ent := &Entitlement{SubscriptionStatus: SubscriptionFree}

	ent.ActivateSubscription("sub_123")
	assert.Equal(t, SubscriptionActive, ent.SubscriptionStatus)
	assert.Equal(t, "sub_123", ent.SubscriptionID)

	periodEnd := time.Date(2026, 9, 6, 0, 0, 0, 0, time.UTC)
	ent.UpdateSubscription(false, periodEnd)
	assert.Equal(t, SubscriptionCancelled, ent.SubscriptionStatus)
	assert.Equal(t, periodEnd, *ent.SubscriptionEndDate)

	ent.ClearSubscription()
	assert.Equal(t, SubscriptionFree, ent.SubscriptionStatus)
	assert.Empty(t, ent.SubscriptionID)
	assert.Nil(t, ent.SubscriptionEndDate)

	// Replaying the terminal event leaves the record unchanged.
	ent.ClearSubscription()
	assert.Equal(t, SubscriptionFree, ent.SubscriptionStatus)
}

func TestEntitlement_MarkCancelled(t *testing.T) {
	periodEnd := time.Date(2026, 9, 6, 0, 0, 0, 0, time.UTC)
	ent := &Entitlement{SubscriptionStatus: SubscriptionActive, SubscriptionID: "sub_123"}

	ent.MarkCancelled(periodEnd)
	assert.Equal(t, SubscriptionCancelled, ent.SubscriptionStatus)
	assert.Equal(t, periodEnd, *ent.SubscriptionEndDate)

	// A zero period end keeps the end date already on record.
	ent.MarkCancelled(time.Time{})
	assert.Equal(t, periodEnd, *ent.SubscriptionEndDate)
}

func TestEntitlement_UpdateSubscription_Reactivation(t *testing.T) {
	periodEnd := time.Date(2026, 9, 6, 0, 0, 0, 0, time.UTC)
	ent := &Entitlement{SubscriptionStatus: SubscriptionCancelled, SubscriptionID: "sub_123"}

	ent.UpdateSubscription(true, periodEnd)
	assert.Equal(t, SubscriptionActive, ent.SubscriptionStatus)
	assert.Equal(t, periodEnd, *ent.SubscriptionEndDate)
}

func TestResolveRole(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	future := now.Add(48 * time.Hour)
	admins := NewAdminList([]string{" Admin@ThisReply.app ", "ops@thisreply.app"})

	tests := []struct {
		name  string
		email string
		ent   *Entitlement
		want  Role
	}{
		{"allow-list match is admin", "admin@thisreply.app", &Entitlement{}, RoleAdmin},
		{"allow-list match is case-insensitive", "ADMIN@thisreply.APP", &Entitlement{}, RoleAdmin},
		{"admin wins over subscription", "ops@thisreply.app", &Entitlement{SubscriptionStatus: SubscriptionActive}, RoleAdmin},
		{"active subscription is subscriber", "user@example.com", &Entitlement{SubscriptionStatus: SubscriptionActive}, RoleSubscriber},
		{"cancelled with future end date is still subscriber", "user@example.com", &Entitlement{SubscriptionStatus: SubscriptionCancelled, SubscriptionEndDate: &future}, RoleSubscriber},
		{"cancelled without end date is free", "user@example.com", &Entitlement{SubscriptionStatus: SubscriptionCancelled}, RoleFree},
		{"no subscription is free", "user@example.com", &Entitlement{}, RoleFree},
		{"nil entitlement is free", "user@example.com", nil, RoleFree},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveRole(admins, tt.email, tt.ent, now))
		})
	}
}

func TestEntitlement_CanRedeemReferral(t *testing.T) {
	referrer := uuid.New()

	ent := &Entitlement{}
	assert.True(t, ent.CanRedeemReferral())

	ent.ReferredBy = &referrer
	assert.False(t, ent.CanRedeemReferral())
}

func TestDateOf(t *testing.T) {
	// 23:30 in UTC-5 is already the next day in UTC.
	loc := time.FixedZone("EST", -5*3600)
	local := time.Date(2026, 8, 29, 23, 30, 0, 0, loc)

	assert.Equal(t, "2026-08-30", DateOf(local))
}
