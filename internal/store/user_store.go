package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/thisreply/thisreply/internal/domain"
)

// UserStore provides data access for the users, sessions, and email
// verification token tables.
type UserStore struct {
	db DBTX
}

// NewUserStore creates a UserStore backed by the given connection (pool or
// transaction).
func NewUserStore(db DBTX) *UserStore {
	return &UserStore{db: db}
}

const userColumns = `id, email, password_hash, name, email_verified, email_verified_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name,
		&u.EmailVerified, &u.EmailVerifiedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, translateErr(err)
	}
	return &u, nil
}

// Create inserts a new user. Returns ErrDuplicate if the email is taken.
func (s *UserStore) Create(ctx context.Context, u *domain.User) (*domain.User, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, name)
		VALUES ($1, $2, $3)
		RETURNING `+userColumns,
		u.Email, u.PasswordHash, u.Name)
	return scanUser(row)
}

// GetByID retrieves a user by primary key.
func (s *UserStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail retrieves a user by email (stored lower-cased).
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = lower($1)`, email)
	return scanUser(row)
}

// SetEmailVerified marks the user's email as verified.
func (s *UserStore) SetEmailVerified(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE users
		SET email_verified = true, email_verified_at = now(), updated_at = now()
		WHERE id = $1`, id)
	return err
}

// Count returns the total number of users.
func (s *UserStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&n)
	return n, err
}

// CountCreatedSince returns the number of users created at or after t.
func (s *UserStore) CountCreatedSince(ctx context.Context, t time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM users WHERE created_at >= $1`, t).Scan(&n)
	return n, err
}

// AdminUserRow is one row of the admin user listing, a user joined with its
// entitlement summary.
type AdminUserRow struct {
	ID                 uuid.UUID
	Email              string
	Name               string
	SubscriptionStatus domain.SubscriptionStatus
	DailyUsageCount    int
	ReferralCount      int
	BonusCredits       int
	CreatedAt          time.Time
}

// ListWithEntitlements returns a page of users joined with their entitlement
// records, newest first.
func (s *UserStore) ListWithEntitlements(ctx context.Context, limit, offset int) ([]AdminUserRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT u.id, u.email, u.name, e.subscription_status,
		       e.daily_usage_count, e.referral_count, e.bonus_credits, u.created_at
		FROM users u
		JOIN entitlements e ON e.user_id = u.id
		ORDER BY u.created_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AdminUserRow
	for rows.Next() {
		var r AdminUserRow
		if err := rows.Scan(&r.ID, &r.Email, &r.Name, &r.SubscriptionStatus,
			&r.DailyUsageCount, &r.ReferralCount, &r.BonusCredits, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// Sessions
// =============================================================================

// CreateSession inserts a new session row.
func (s *UserStore) CreateSession(ctx context.Context, sess *domain.Session) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO sessions (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)`,
		sess.UserID, sess.TokenHash, sess.ExpiresAt)
	return translateErr(err)
}

// GetUserBySessionHash resolves a session token hash to its user, rejecting
// expired sessions at the query level.
func (s *UserStore) GetUserBySessionHash(ctx context.Context, tokenHash string) (*domain.User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT u.id, u.email, u.password_hash, u.name,
		       u.email_verified, u.email_verified_at, u.created_at, u.updated_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = $1 AND s.expires_at > now()`, tokenHash)
	return scanUser(row)
}

// DeleteSessionByHash removes a single session. Idempotent.
func (s *UserStore) DeleteSessionByHash(ctx context.Context, tokenHash string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash)
	return err
}

// DeleteSessionsForUser removes all of a user's sessions (after a password
// change).
func (s *UserStore) DeleteSessionsForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	return err
}

// DeleteExpiredSessions removes all expired sessions, returning the number
// deleted. Called periodically by the maintenance worker.
func (s *UserStore) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// =============================================================================
// Email verification tokens
// =============================================================================

// CreateVerificationToken replaces any existing verification token for the
// user with a new one.
func (s *UserStore) CreateVerificationToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.Exec(ctx, `DELETE FROM email_verification_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO email_verification_tokens (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)`, userID, tokenHash, expiresAt)
	return translateErr(err)
}

// ConsumeVerificationToken resolves an unexpired verification token to its
// user ID and deletes it. Returns ErrNotFound for unknown or expired tokens.
func (s *UserStore) ConsumeVerificationToken(ctx context.Context, tokenHash string) (uuid.UUID, error) {
	var userID uuid.UUID
	err := s.db.QueryRow(ctx, `
		DELETE FROM email_verification_tokens
		WHERE token_hash = $1 AND expires_at > now()
		RETURNING user_id`, tokenHash).Scan(&userID)
	if err != nil {
		return uuid.Nil, translateErr(err)
	}
	return userID, nil
}
