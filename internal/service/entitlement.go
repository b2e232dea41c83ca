// Package service contains the business logic layer.
//
// This file implements the entitlement service: role resolution, the lazy
// daily usage window, and the admission decision made on every analysis
// request.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/thisreply/thisreply/internal/domain"
	"github.com/thisreply/thisreply/internal/metrics"
	"github.com/thisreply/thisreply/internal/store"
)

// =============================================================================
// Interface Definition
// =============================================================================

// UsageReport is the reconciled usage state for one user, suitable for
// direct rendering by the usage endpoint.
type UsageReport struct {
	Role      domain.Role
	Used      int
	Limit     int
	Allowance domain.Allowance
}

// EntitlementService defines operations over the per-user entitlement record.
type EntitlementService interface {
	// Get returns the entitlement with its daily window reconciled to the
	// current UTC day. Returns domain.ENOTFOUND if no record exists.
	Get(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error)

	// Resolve derives the user's access role from the admin allow-list and
	// their entitlement record.
	Resolve(ctx context.Context, user *domain.User) (domain.Role, *domain.Entitlement, error)

	// Admit decides whether the user may run another analysis right now.
	// Returns the role for downstream usage accounting, or a
	// domain.EQUOTA error when the free-tier allowance is used up.
	Admit(ctx context.Context, user *domain.User) (domain.Role, error)

	// RecordUsage counts one completed analysis against the daily window.
	// No-op for unlimited roles. Must be called only after the gated action
	// succeeded.
	RecordUsage(ctx context.Context, userID uuid.UUID, role domain.Role) error

	// Usage returns the reconciled usage state for the usage endpoint.
	Usage(ctx context.Context, user *domain.User) (*UsageReport, error)
}

// =============================================================================
// Implementation
// =============================================================================

// entitlementWindow is the slice of the entitlement store the service
// needs for role resolution and the daily window.
type entitlementWindow interface {
	Get(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error)
	ResetDailyWindow(ctx context.Context, userID uuid.UUID, today string) error
	IncrementDailyUsage(ctx context.Context, userID uuid.UUID, today string) (bool, error)
}

type entitlementService struct {
	entitlements entitlementWindow
	admins       domain.AdminList
	dailyLimit   int
	logger       *slog.Logger
}

// NewEntitlementService creates a new EntitlementService.
func NewEntitlementService(st *store.Store, admins domain.AdminList, dailyLimit int, logger *slog.Logger) EntitlementService {
	return &entitlementService{
		entitlements: st.Entitlements,
		admins:       admins,
		dailyLimit:   dailyLimit,
		logger:       logger,
	}
}

// Get loads the entitlement and reconciles the daily window.
//
// The reset is written back with a date-guarded conditional UPDATE, so two
// racing requests at a day boundary converge on one reset. The count is
// never carried across days.
func (s *entitlementService) Get(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error) {
	const op = "EntitlementService.Get"

	ent, err := s.entitlements.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NotFound(op, "entitlement", userID.String())
		}
		return nil, domain.Internal(err, op, "Failed to retrieve entitlement")
	}

	today := domain.DateOf(time.Now())
	if ent.ReconcileWindow(today) {
		if err := s.entitlements.ResetDailyWindow(ctx, userID, today); err != nil {
			return nil, domain.Internal(err, op, "Failed to reset daily window")
		}
		s.logger.Debug("daily window reset", "user_id", userID, "date", today)
	}

	return ent, nil
}

// Resolve derives the access role for a user.
func (s *entitlementService) Resolve(ctx context.Context, user *domain.User) (domain.Role, *domain.Entitlement, error) {
	ent, err := s.Get(ctx, user.ID)
	if err != nil {
		return "", nil, err
	}
	role := domain.ResolveRole(s.admins, user.Email, ent, time.Now())
	return role, ent, nil
}

// Admit decides whether the user may run another analysis.
func (s *entitlementService) Admit(ctx context.Context, user *domain.User) (domain.Role, error) {
	const op = "EntitlementService.Admit"

	role, ent, err := s.Resolve(ctx, user)
	if err != nil {
		return "", err
	}

	allowance := domain.Evaluate(role, ent.DailyUsageCount, s.dailyLimit)
	if !allowance.Admit() {
		metrics.QuotaDenialsTotal.Inc()
		s.logger.Info("analysis denied: daily quota exhausted",
			"user_id", user.ID,
			"used", ent.DailyUsageCount,
			"limit", s.dailyLimit,
		)
		return "", domain.QuotaExceeded(op, ent.DailyUsageCount, s.dailyLimit)
	}

	return role, nil
}

// RecordUsage counts one completed analysis for a free-tier user.
//
// The increment is date-guarded: it only applies while the stored window is
// still today's. If the UTC day rolled over between admission and completion,
// the window is reset first and the action is counted against the new day.
func (s *entitlementService) RecordUsage(ctx context.Context, userID uuid.UUID, role domain.Role) error {
	const op = "EntitlementService.RecordUsage"

	// Unlimited roles keep a count of zero; nothing to record.
	if role != domain.RoleFree {
		return nil
	}

	for attempt := 0; attempt < 2; attempt++ {
		today := domain.DateOf(time.Now())
		applied, err := s.entitlements.IncrementDailyUsage(ctx, userID, today)
		if err != nil {
			return domain.Internal(err, op, "Failed to record usage")
		}
		if applied {
			return nil
		}
		// Stored window is stale; roll it forward and try once more.
		if err := s.entitlements.ResetDailyWindow(ctx, userID, today); err != nil {
			return domain.Internal(err, op, "Failed to reset daily window")
		}
	}

	// Both attempts raced with day rollovers. The count for the new day is
	// off by at most one in the user's favor; log and move on.
	s.logger.Warn("usage increment dropped after repeated day rollover", "user_id", userID)
	return nil
}

// Usage returns the reconciled usage state for one user.
func (s *entitlementService) Usage(ctx context.Context, user *domain.User) (*UsageReport, error) {
	role, ent, err := s.Resolve(ctx, user)
	if err != nil {
		return nil, err
	}

	return &UsageReport{
		Role:      role,
		Used:      ent.DailyUsageCount,
		Limit:     s.dailyLimit,
		Allowance: domain.Evaluate(role, ent.DailyUsageCount, s.dailyLimit),
	}, nil
}

// Ensure entitlementService implements EntitlementService
var _ EntitlementService = (*entitlementService)(nil)
