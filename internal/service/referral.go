// Package service contains the business logic layer.
//
// This file implements referral redemption: a once-per-account event that
// credits both sides of the referral atomically.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/thisreply/thisreply/internal/domain"
	"github.com/thisreply/thisreply/internal/metrics"
	"github.com/thisreply/thisreply/internal/store"
)

// =============================================================================
// Interface Definition
// =============================================================================

// RedeemResult describes a successful referral redemption.
type RedeemResult struct {
	ReferrerID   uuid.UUID
	BonusCredits int // credits granted to the redeemer
}

// ReferralService defines referral-code operations.
type ReferralService interface {
	// Redeem applies a referral code to the given account. Each side of the
	// referral is credited with the configured bonus. An account can redeem
	// exactly one code, ever.
	//
	// Error codes:
	//   EMISSINGCODE     - no code supplied
	//   EINVALIDCODE     - code does not exist
	//   ESELFREFERRAL    - user submitted their own code
	//   EALREADYREDEEMED - account has already redeemed a code
	Redeem(ctx context.Context, userID uuid.UUID, code string) (*RedeemResult, error)
}

// =============================================================================
// Implementation
// =============================================================================

type referralService struct {
	store  *store.Store
	bonus  int
	logger *slog.Logger
}

// NewReferralService creates a new ReferralService.
func NewReferralService(st *store.Store, bonus int, logger *slog.Logger) ReferralService {
	return &referralService{
		store:  st,
		bonus:  bonus,
		logger: logger,
	}
}

// Redeem applies a referral code to the redeemer's account.
//
// The referred_by marker and both credit grants are written in a single
// transaction guarded by `referred_by IS NULL`, so concurrent submissions of
// the same or different codes produce exactly one redemption and no partial
// credit.
func (s *referralService) Redeem(ctx context.Context, userID uuid.UUID, code string) (*RedeemResult, error) {
	const op = "ReferralService.Redeem"

	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, &domain.Error{Code: domain.EMISSINGCODE, Op: op, Message: "Referral code is required"}
	}

	// Cheap precheck before touching the referrer row. The transactional
	// guard below still protects against races.
	redeemer, err := s.store.Entitlements.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NotFound(op, "entitlement", userID.String())
		}
		return nil, domain.Internal(err, op, "Failed to retrieve entitlement")
	}
	if !redeemer.CanRedeemReferral() {
		return nil, &domain.Error{Code: domain.EALREADYREDEEMED, Op: op, Message: "A referral code has already been redeemed on this account"}
	}

	referrer, err := s.store.Entitlements.GetByReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &domain.Error{Code: domain.EINVALIDCODE, Op: op, Message: "That referral code does not exist"}
		}
		return nil, domain.Internal(err, op, "Failed to look up referral code")
	}
	if referrer.UserID == userID {
		return nil, &domain.Error{Code: domain.ESELFREFERRAL, Op: op, Message: "You cannot redeem your own referral code"}
	}

	var applied bool
	err = s.store.WithTx(ctx, func(tx pgx.Tx) error {
		entitlements := store.NewEntitlementStore(tx)

		ok, err := entitlements.MarkReferred(ctx, userID, referrer.UserID, s.bonus)
		if err != nil {
			return err
		}
		if !ok {
			// Lost a race with another redemption on the same account.
			return nil
		}
		if err := entitlements.GrantReferralBonus(ctx, referrer.UserID, s.bonus); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to redeem referral code")
	}
	if !applied {
		return nil, &domain.Error{Code: domain.EALREADYREDEEMED, Op: op, Message: "A referral code has already been redeemed on this account"}
	}

	metrics.ReferralRedemptionsTotal.Inc()
	s.logger.Info("referral redeemed",
		"redeemer_id", userID,
		"referrer_id", referrer.UserID,
		"bonus", s.bonus,
	)

	return &RedeemResult{ReferrerID: referrer.UserID, BonusCredits: s.bonus}, nil
}

// Ensure referralService implements ReferralService
var _ ReferralService = (*referralService)(nil)
