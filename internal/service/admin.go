package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/thisreply/thisreply/internal/domain"
	"github.com/thisreply/thisreply/internal/store"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// AdminUsersPageLimit caps how many users one admin listing page returns.
	AdminUsersPageLimit = 100
)

// =============================================================================
// Types
// =============================================================================

// Stats summarizes platform activity for the admin dashboard.
type Stats struct {
	TotalUsers         int64 `json:"totalUsers"`
	NewUsersToday      int64 `json:"newUsersToday"`
	ActiveSubscribers  int64 `json:"activeSubscribers"`
	TotalAnalyses      int64 `json:"totalAnalyses"`
	AnalysesToday      int64 `json:"analysesToday"`
	ReferralsRedeemed  int64 `json:"referralsRedeemed"`
	ReferralCreditsOut int64 `json:"referralCreditsGranted"`
}

// AdminUser is one row in the admin user listing.
type AdminUser struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	Name               string    `json:"name"`
	SubscriptionStatus string    `json:"subscriptionStatus"`
	DailyUsageCount    int       `json:"dailyUsageCount"`
	ReferralCount      int       `json:"referralCount"`
	BonusCredits       int       `json:"bonusCredits"`
	CreatedAt          time.Time `json:"createdAt"`
}

// =============================================================================
// Interface Definition
// =============================================================================

// AdminService exposes operational views for administrators.
type AdminService interface {
	// Stats returns aggregate platform counters. "Today" windows are
	// computed from UTC midnight.
	Stats(ctx context.Context) (*Stats, error)

	// Users returns a page of users with their entitlement state.
	Users(ctx context.Context, page int) ([]AdminUser, error)
}

// =============================================================================
// Service Implementation
// =============================================================================

type adminService struct {
	store  *store.Store
	logger *slog.Logger
}

// NewAdminService creates a new admin service.
func NewAdminService(s *store.Store, logger *slog.Logger) AdminService {
	return &adminService{store: s, logger: logger}
}

var _ AdminService = (*adminService)(nil)

func (s *adminService) Stats(ctx context.Context) (*Stats, error) {
	const op = "AdminService.Stats"

	midnight := time.Now().UTC().Truncate(24 * time.Hour)

	stats := &Stats{}
	var err error

	if stats.TotalUsers, err = s.store.Users.Count(ctx); err != nil {
		return nil, domain.Wrap(err, domain.EINTERNAL, op, "Failed to load stats.")
	}
	if stats.NewUsersToday, err = s.store.Users.CountCreatedSince(ctx, midnight); err != nil {
		return nil, domain.Wrap(err, domain.EINTERNAL, op, "Failed to load stats.")
	}
	if stats.ActiveSubscribers, err = s.store.Entitlements.CountSubscribers(ctx); err != nil {
		return nil, domain.Wrap(err, domain.EINTERNAL, op, "Failed to load stats.")
	}
	if stats.TotalAnalyses, err = s.store.Analyses.Count(ctx); err != nil {
		return nil, domain.Wrap(err, domain.EINTERNAL, op, "Failed to load stats.")
	}
	if stats.AnalysesToday, err = s.store.Analyses.CountCreatedSince(ctx, midnight); err != nil {
		return nil, domain.Wrap(err, domain.EINTERNAL, op, "Failed to load stats.")
	}
	if stats.ReferralsRedeemed, stats.ReferralCreditsOut, err = s.store.Entitlements.ReferralTotals(ctx); err != nil {
		return nil, domain.Wrap(err, domain.EINTERNAL, op, "Failed to load stats.")
	}

	return stats, nil
}

func (s *adminService) Users(ctx context.Context, page int) ([]AdminUser, error) {
	const op = "AdminService.Users"

	if page < 1 {
		page = 1
	}
	offset := (page - 1) * AdminUsersPageLimit

	rows, err := s.store.Users.ListWithEntitlements(ctx, AdminUsersPageLimit, offset)
	if err != nil {
		return nil, domain.Wrap(err, domain.EINTERNAL, op, "Failed to list users.")
	}

	users := make([]AdminUser, 0, len(rows))
	for _, r := range rows {
		users = append(users, AdminUser{
			ID:                 r.ID.String(),
			Email:              r.Email,
			Name:               r.Name,
			SubscriptionStatus: string(r.SubscriptionStatus),
			DailyUsageCount:    r.DailyUsageCount,
			ReferralCount:      r.ReferralCount,
			BonusCredits:       r.BonusCredits,
			CreatedAt:          r.CreatedAt,
		})
	}
	return users, nil
}
