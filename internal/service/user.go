// Package service contains the business logic layer.
//
// Services orchestrate interactions between the store, external APIs, and
// domain logic. They are responsible for:
// - Input validation
// - Business rule enforcement
// - Transaction coordination
// - Error translation (store errors -> domain errors)
package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/thisreply/thisreply/internal/domain"
	"github.com/thisreply/thisreply/internal/store"
)

// =============================================================================
// Configuration Constants
// =============================================================================

const (
	// BcryptCost is the cost factor for bcrypt password hashing.
	// Cost 12 provides good security (~250ms on modern hardware) while being
	// fast enough for login flows.
	//
	// SECURITY NOTE: This should NOT be configurable at runtime to prevent
	// accidental weakening. If you need to change it, do so here and redeploy.
	BcryptCost = 12

	// SessionTokenBytes is the number of random bytes for session tokens.
	// 32 bytes = 256 bits of entropy. The token is hex-encoded to 64
	// characters for storage and transmission.
	SessionTokenBytes = 32

	// SessionDuration is how long a session remains valid.
	SessionDuration = 30 * 24 * time.Hour

	// VerificationTokenDuration is how long an email verification token
	// remains valid.
	VerificationTokenDuration = 24 * time.Hour

	// MinPasswordLength is the minimum password length.
	// NIST SP 800-63B recommends 8+ characters minimum.
	MinPasswordLength = 8

	// MaxPasswordLength matches bcrypt's 72-byte input limit.
	MaxPasswordLength = 72

	// ReferralCodeLength is the number of characters in a referral code.
	ReferralCodeLength = 6

	// referralCodeAlphabet excludes ambiguous characters (0/O, 1/I/L) so
	// codes survive being read aloud or retyped from a screenshot.
	referralCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

	// referralCodeAttempts bounds retries when a generated code collides
	// with an existing one.
	referralCodeAttempts = 5
)

// =============================================================================
// Interface Definition
// =============================================================================

// UserService defines the interface for account operations.
type UserService interface {
	// Register creates a new user account with its entitlement record.
	// Returns domain.ECONFLICT if the email is already registered.
	// Returns domain.EINVALID for validation errors.
	Register(ctx context.Context, params domain.RegisterParams) (*domain.User, error)

	// Login authenticates a user and creates a new session.
	// Returns the user and raw session token on success.
	// Returns domain.EUNAUTHORIZED for invalid credentials.
	Login(ctx context.Context, email, password string) (*domain.LoginResult, error)

	// Logout invalidates a session by its raw token.
	// Idempotent - calling with an invalid token is not an error.
	Logout(ctx context.Context, token string) error

	// GetByID retrieves a user by their ID.
	// Returns domain.ENOTFOUND if the user does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)

	// GetBySessionToken retrieves a user by their session token.
	// Returns domain.EUNAUTHORIZED if the token is invalid or expired.
	GetBySessionToken(ctx context.Context, token string) (*domain.User, error)

	// CreateEmailVerificationToken creates a new email verification token.
	// Any existing token for the user is replaced.
	CreateEmailVerificationToken(ctx context.Context, userID uuid.UUID) (*domain.EmailVerificationResult, error)

	// VerifyEmail validates a verification token and marks the user verified.
	// Returns domain.ENOTFOUND if the token is invalid or expired.
	VerifyEmail(ctx context.Context, token string) error

	// ResendVerificationEmail creates a new verification token for an
	// unverified account. Returns domain.ENOTFOUND if the email is unknown
	// and domain.ECONFLICT if the account is already verified.
	ResendVerificationEmail(ctx context.Context, email string) (*domain.User, *domain.EmailVerificationResult, error)

	// DeleteExpiredSessions removes all expired sessions. Called
	// periodically by the maintenance worker.
	DeleteExpiredSessions(ctx context.Context) (int64, error)
}

// =============================================================================
// Implementation
// =============================================================================

type userService struct {
	store  *store.Store
	logger *slog.Logger
}

// NewUserService creates a new UserService instance.
func NewUserService(st *store.Store, logger *slog.Logger) UserService {
	return &userService{
		store:  st,
		logger: logger,
	}
}

// Register creates a new user account.
//
// The user row and its entitlement row are created in one transaction so an
// account can never exist without a referral code or usage window.
func (s *userService) Register(ctx context.Context, params domain.RegisterParams) (*domain.User, error) {
	const op = "UserService.Register"

	// Validate and normalize input
	params.Email = strings.ToLower(strings.TrimSpace(params.Email))
	params.Name = strings.TrimSpace(params.Name)

	if err := validateEmail(params.Email); err != nil {
		return nil, domain.Wrap(err, domain.EINVALID, op, "Invalid email address")
	}
	if err := validatePassword(params.Password); err != nil {
		return nil, domain.Wrap(err, domain.EINVALID, op, "Invalid password")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(params.Password), BcryptCost)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to hash password")
	}

	var user *domain.User
	today := domain.DateOf(time.Now())

	// A unique violation aborts the whole transaction, so a code collision
	// is retried by re-running the transaction with a fresh code, never by
	// inserting again inside the aborted one.
	err = retryOnCodeCollision(referralCodeAttempts, func(code string) error {
		return s.store.WithTx(ctx, func(tx pgx.Tx) error {
			users := store.NewUserStore(tx)
			entitlements := store.NewEntitlementStore(tx)

			created, err := users.Create(ctx, &domain.User{
				Email:        params.Email,
				PasswordHash: string(passwordHash),
				Name:         params.Name,
			})
			if err != nil {
				return err
			}

			if _, err := entitlements.Create(ctx, created.ID, code, today); err != nil {
				if errors.Is(err, store.ErrDuplicate) {
					return errReferralCodeTaken
				}
				return err
			}

			user = created
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, domain.Conflict(op, "Email already registered")
		}
		return nil, domain.Internal(err, op, "Failed to create account")
	}

	user.PasswordHash = ""
	s.logger.Info("user registered", "user_id", user.ID, "email", user.Email)

	return user, nil
}

// Login authenticates a user and creates a new session.
//
// Security considerations:
// - Constant-time password comparison via bcrypt
// - Generic error message prevents email enumeration
// - The raw token is returned once and only its SHA-256 hash is stored
func (s *userService) Login(ctx context.Context, email, password string) (*domain.LoginResult, error) {
	const op = "UserService.Login"

	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.store.Users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn a bcrypt comparison anyway so response timing does not
			// reveal whether the email exists.
			dummyHash := "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"
			_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
			return nil, domain.Unauthorized(op, "Invalid email or password")
		}
		return nil, domain.Internal(err, op, "Failed to retrieve user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, domain.Unauthorized(op, "Invalid email or password")
	}

	token, err := generateToken()
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to generate session token")
	}

	sess := &domain.Session{
		UserID:    user.ID,
		TokenHash: hashToken(token),
		ExpiresAt: time.Now().Add(SessionDuration),
	}
	if err := s.store.Users.CreateSession(ctx, sess); err != nil {
		return nil, domain.Internal(err, op, "Failed to create session")
	}

	user.PasswordHash = ""
	s.logger.Info("user logged in", "user_id", user.ID)

	return &domain.LoginResult{User: user, Token: token}, nil
}

// Logout invalidates a session by its raw token.
func (s *userService) Logout(ctx context.Context, token string) error {
	const op = "UserService.Logout"

	if token == "" {
		return nil
	}
	if err := s.store.Users.DeleteSessionByHash(ctx, hashToken(token)); err != nil {
		return domain.Internal(err, op, "Failed to delete session")
	}
	return nil
}

// GetByID retrieves a user by their ID.
func (s *userService) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	const op = "UserService.GetByID"

	user, err := s.store.Users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NotFound(op, "user", id.String())
		}
		return nil, domain.Internal(err, op, "Failed to retrieve user")
	}
	user.PasswordHash = ""
	return user, nil
}

// GetBySessionToken retrieves a user by their raw session token.
func (s *userService) GetBySessionToken(ctx context.Context, token string) (*domain.User, error) {
	const op = "UserService.GetBySessionToken"

	if len(token) != SessionTokenBytes*2 {
		return nil, domain.Unauthorized(op, "Invalid session")
	}

	user, err := s.store.Users.GetUserBySessionHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.Unauthorized(op, "Invalid or expired session")
		}
		return nil, domain.Internal(err, op, "Failed to retrieve session")
	}
	user.PasswordHash = ""
	return user, nil
}

// CreateEmailVerificationToken mints a verification token for the user.
func (s *userService) CreateEmailVerificationToken(ctx context.Context, userID uuid.UUID) (*domain.EmailVerificationResult, error) {
	const op = "UserService.CreateEmailVerificationToken"

	token, err := generateToken()
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to generate verification token")
	}

	expiresAt := time.Now().Add(VerificationTokenDuration)
	if err := s.store.Users.CreateVerificationToken(ctx, userID, hashToken(token), expiresAt); err != nil {
		return nil, domain.Internal(err, op, "Failed to store verification token")
	}

	return &domain.EmailVerificationResult{Token: token, ExpiresAt: expiresAt}, nil
}

// VerifyEmail consumes a verification token and marks the account verified.
func (s *userService) VerifyEmail(ctx context.Context, token string) error {
	const op = "UserService.VerifyEmail"

	if len(token) != SessionTokenBytes*2 {
		return domain.Invalid(op, "Invalid verification token")
	}

	userID, err := s.store.Users.ConsumeVerificationToken(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.NotFound(op, "verification token", "")
		}
		return domain.Internal(err, op, "Failed to consume verification token")
	}

	if err := s.store.Users.SetEmailVerified(ctx, userID); err != nil {
		return domain.Internal(err, op, "Failed to mark email verified")
	}

	s.logger.Info("email verified", "user_id", userID)
	return nil
}

// ResendVerificationEmail mints a fresh token for an unverified account.
func (s *userService) ResendVerificationEmail(ctx context.Context, email string) (*domain.User, *domain.EmailVerificationResult, error) {
	const op = "UserService.ResendVerificationEmail"

	user, err := s.store.Users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, domain.NotFound(op, "user", email)
		}
		return nil, nil, domain.Internal(err, op, "Failed to retrieve user")
	}
	if user.EmailVerified {
		return nil, nil, domain.Conflict(op, "Email already verified")
	}

	result, err := s.CreateEmailVerificationToken(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}

	user.PasswordHash = ""
	return user, result, nil
}

// DeleteExpiredSessions removes expired sessions.
func (s *userService) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	const op = "UserService.DeleteExpiredSessions"

	n, err := s.store.Users.DeleteExpiredSessions(ctx)
	if err != nil {
		return 0, domain.Internal(err, op, "Failed to delete expired sessions")
	}
	return n, nil
}

// =============================================================================
// Helpers
// =============================================================================

// generateToken returns a hex-encoded cryptographically random token.
func generateToken() (string, error) {
	b := make([]byte, SessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// hashToken returns the hex-encoded SHA-256 hash of a raw token.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// errReferralCodeTaken marks a referral code unique violation so the
// surrounding transaction can be re-run with a fresh code.
var errReferralCodeTaken = errors.New("referral code taken")

// retryOnCodeCollision runs attempt with freshly generated referral codes
// until it succeeds, fails with something other than a code collision, or
// the attempt budget runs out.
func retryOnCodeCollision(attempts int, attempt func(code string) error) error {
	for i := 0; i < attempts; i++ {
		code, err := generateReferralCode()
		if err != nil {
			return err
		}
		err = attempt(code)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errReferralCodeTaken) {
			return err
		}
	}
	return fmt.Errorf("referral code generation exhausted retries")
}

// generateReferralCode returns a short share code from the unambiguous
// alphabet. Uniqueness is enforced by the database, not here.
func generateReferralCode() (string, error) {
	b := make([]byte, ReferralCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate referral code: %w", err)
	}
	for i := range b {
		b[i] = referralCodeAlphabet[int(b[i])%len(referralCodeAlphabet)]
	}
	return string(b), nil
}

// validateEmail checks basic email address validity.
func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("malformed email address")
	}
	return nil
}

// validatePassword enforces length bounds on raw passwords.
func validatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return fmt.Errorf("password must be at most %d characters", MaxPasswordLength)
	}
	return nil
}

// Ensure userService implements UserService
var _ UserService = (*userService)(nil)
