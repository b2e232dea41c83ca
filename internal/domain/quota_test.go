package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name          string
		role          Role
		used          int
		limit         int
		wantAdmit     bool
		wantUnlimited bool
		wantRemaining int
	}{
		{"admin is always unlimited", RoleAdmin, 99, 2, true, true, 0},
		{"subscriber is always unlimited", RoleSubscriber, 99, 2, true, true, 0},
		{"free under limit admits", RoleFree, 0, 2, true, false, 2},
		{"free one used admits", RoleFree, 1, 2, true, false, 1},
		{"free at limit denies", RoleFree, 2, 2, false, false, 0},
		{"free over limit clamps to zero", RoleFree, 5, 2, false, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Evaluate(tt.role, tt.used, tt.limit)

			assert.Equal(t, tt.wantAdmit, a.Admit())
			assert.Equal(t, tt.wantUnlimited, a.Unlimited)
			if !a.Unlimited {
				assert.Equal(t, tt.wantRemaining, a.Remaining)
			}
		})
	}
}

func TestEvaluate_DayBoundaryScenario(t *testing.T) {
	// User with one use yesterday: reconcile resets the window, then a
	// fresh evaluation shows the full allowance before the next increment.
	ent := &Entitlement{DailyUsageCount: 1, DailyResetDate: "2026-08-29"}

	changed := ent.ReconcileWindow("2026-08-30")
	assert.True(t, changed)

	before := Evaluate(RoleFree, ent.DailyUsageCount, 2)
	assert.True(t, before.Admit())
	assert.Equal(t, 2, before.Remaining)

	ent.DailyUsageCount++
	after := Evaluate(RoleFree, ent.DailyUsageCount, 2)
	assert.Equal(t, 1, after.Remaining)
}
