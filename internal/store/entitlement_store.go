package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/thisreply/thisreply/internal/domain"
)

// EntitlementStore provides data access for the entitlements table.
//
// Daily counter writes are conditional on the stored reset date so that
// requests racing across a UTC day boundary cannot double-reset the window
// or lose an increment: each UPDATE either applies atomically or affects
// zero rows, and the caller re-reads and retries.
type EntitlementStore struct {
	db DBTX
}

// NewEntitlementStore creates an EntitlementStore backed by the given
// connection (pool or transaction).
func NewEntitlementStore(db DBTX) *EntitlementStore {
	return &EntitlementStore{db: db}
}

const entitlementColumns = `user_id, subscription_status, coalesce(subscription_id, ''),
	subscription_end_date, daily_usage_count, to_char(daily_reset_date, 'YYYY-MM-DD'),
	referral_code, referred_by, bonus_credits, referral_count, updated_at`

func scanEntitlement(row interface{ Scan(...any) error }) (*domain.Entitlement, error) {
	var e domain.Entitlement
	err := row.Scan(&e.UserID, &e.SubscriptionStatus, &e.SubscriptionID,
		&e.SubscriptionEndDate, &e.DailyUsageCount, &e.DailyResetDate,
		&e.ReferralCode, &e.ReferredBy, &e.BonusCredits, &e.ReferralCount, &e.UpdatedAt)
	if err != nil {
		return nil, translateErr(err)
	}
	return &e, nil
}

// Create inserts the entitlement record for a new user. Returns ErrDuplicate
// if the referral code collides with an existing one.
func (s *EntitlementStore) Create(ctx context.Context, userID uuid.UUID, referralCode, resetDate string) (*domain.Entitlement, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO entitlements (user_id, referral_code, daily_reset_date)
		VALUES ($1, $2, $3::date)
		RETURNING `+entitlementColumns,
		userID, referralCode, resetDate)
	return scanEntitlement(row)
}

// Get retrieves the entitlement record for a user.
func (s *EntitlementStore) Get(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error) {
	row := s.db.QueryRow(ctx, `SELECT `+entitlementColumns+` FROM entitlements WHERE user_id = $1`, userID)
	return scanEntitlement(row)
}

// GetByReferralCode resolves a referral code to its owner's entitlement.
func (s *EntitlementStore) GetByReferralCode(ctx context.Context, code string) (*domain.Entitlement, error) {
	row := s.db.QueryRow(ctx, `SELECT `+entitlementColumns+` FROM entitlements WHERE referral_code = $1`, code)
	return scanEntitlement(row)
}

// GetBySubscriptionID resolves a Stripe subscription reference to an
// entitlement. Payment events carry only the external reference.
func (s *EntitlementStore) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*domain.Entitlement, error) {
	row := s.db.QueryRow(ctx, `SELECT `+entitlementColumns+` FROM entitlements WHERE subscription_id = $1`, subscriptionID)
	return scanEntitlement(row)
}

// ResetDailyWindow rolls the usage window forward to today. The WHERE clause
// makes this a compare-and-set on the reset date: of two requests racing on
// a stale day boundary, exactly one update applies and the other is a no-op.
// Idempotent within a day either way.
func (s *EntitlementStore) ResetDailyWindow(ctx context.Context, userID uuid.UUID, today string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE entitlements
		SET daily_usage_count = 0, daily_reset_date = $2::date, updated_at = now()
		WHERE user_id = $1 AND daily_reset_date <> $2::date`,
		userID, today)
	return err
}

// IncrementDailyUsage adds one use to today's window, atomically at the
// database. The date guard means an increment never lands on a stale window:
// if the day rolled over mid-action, no row matches and the caller must
// reconcile and retry. Returns true when the increment applied.
func (s *EntitlementStore) IncrementDailyUsage(ctx context.Context, userID uuid.UUID, today string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE entitlements
		SET daily_usage_count = daily_usage_count + 1, updated_at = now()
		WHERE user_id = $1 AND daily_reset_date = $2::date`,
		userID, today)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateSubscription persists the subscription fields after a state machine
// transition.
func (s *EntitlementStore) UpdateSubscription(ctx context.Context, e *domain.Entitlement) error {
	var subID *string
	if e.SubscriptionID != "" {
		subID = &e.SubscriptionID
	}
	_, err := s.db.Exec(ctx, `
		UPDATE entitlements
		SET subscription_status = $2, subscription_id = $3,
		    subscription_end_date = $4, updated_at = now()
		WHERE user_id = $1`,
		e.UserID, e.SubscriptionStatus, subID, e.SubscriptionEndDate)
	return err
}

// MarkReferred sets the redeemer's referred_by reference and grants their
// bonus credits. The `referred_by IS NULL` guard enforces the
// once-per-account invariant even under concurrent duplicate redemptions:
// only one attempt can ever match. Returns true when the update applied.
//
// Must run inside the same transaction as GrantReferralBonus so both sides
// of a redemption commit or roll back together.
func (s *EntitlementStore) MarkReferred(ctx context.Context, redeemerID, referrerID uuid.UUID, bonus int) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE entitlements
		SET referred_by = $2, bonus_credits = bonus_credits + $3, updated_at = now()
		WHERE user_id = $1 AND referred_by IS NULL`,
		redeemerID, referrerID, bonus)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// GrantReferralBonus credits the referrer side of a redemption.
func (s *EntitlementStore) GrantReferralBonus(ctx context.Context, referrerID uuid.UUID, bonus int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE entitlements
		SET referral_count = referral_count + 1,
		    bonus_credits = bonus_credits + $2, updated_at = now()
		WHERE user_id = $1`,
		referrerID, bonus)
	return err
}

// CountSubscribers returns the number of records with an active
// subscription.
func (s *EntitlementStore) CountSubscribers(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM entitlements WHERE subscription_status = $1`,
		domain.SubscriptionActive).Scan(&n)
	return n, err
}

// ReferralTotals returns the total number of redemptions and credits granted
// across all accounts.
func (s *EntitlementStore) ReferralTotals(ctx context.Context) (redemptions, credits int64, err error) {
	err = s.db.QueryRow(ctx,
		`SELECT coalesce(sum(referral_count), 0), coalesce(sum(bonus_credits), 0) FROM entitlements`,
	).Scan(&redemptions, &credits)
	return redemptions, credits, err
}
