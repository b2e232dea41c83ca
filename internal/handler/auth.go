package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/thisreply/thisreply/internal/domain"
	"github.com/thisreply/thisreply/internal/email"
	"github.com/thisreply/thisreply/internal/middleware"
	"github.com/thisreply/thisreply/internal/service"
)

// =============================================================================
// Auth Handler
// =============================================================================

// AuthHandler handles registration, login, logout and email verification.
type AuthHandler struct {
	userService service.UserService
	email       email.EmailService
	limiter     *middleware.AuthRateLimiter
	logger      *slog.Logger
	isSecure    bool
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(userService service.UserService, emailService email.EmailService, limiter *middleware.AuthRateLimiter, logger *slog.Logger, isSecure bool) *AuthHandler {
	return &AuthHandler{
		userService: userService,
		email:       emailService,
		limiter:     limiter,
		logger:      logger,
		isSecure:    isSecure,
	}
}

// RegisterRoutes registers auth routes on the provided mux.
//
// withUser is the optional-auth middleware applied to /api/auth/me.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux, withUser func(http.Handler) http.Handler) {
	mux.Handle("POST /api/auth/register", h.limiter.LimitRegister(http.HandlerFunc(h.Register)))
	mux.Handle("POST /api/auth/login", h.limiter.LimitLogin(http.HandlerFunc(h.Login)))
	mux.HandleFunc("POST /api/auth/logout", h.Logout)
	mux.Handle("GET /api/auth/me", withUser(http.HandlerFunc(h.Me)))
	mux.HandleFunc("GET /verify-email", h.VerifyEmail)
	mux.Handle("POST /api/auth/resend-verification", h.limiter.LimitResendVerification(http.HandlerFunc(h.ResendVerification)))
}

// =============================================================================
// Response Shapes
// =============================================================================

type userResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
}

func newUserResponse(u *domain.User) userResponse {
	return userResponse{
		ID:            u.ID.String(),
		Email:         u.Email,
		Name:          u.Name,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
	}
}

// =============================================================================
// Registration
// =============================================================================

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	user, err := h.userService.Register(r.Context(), domain.RegisterParams{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	h.sendVerification(r, user)

	writeJSON(w, http.StatusCreated, map[string]any{
		"user": newUserResponse(user),
	})
}

// sendVerification creates a verification token and emails it. Registration
// succeeds even when the email cannot be sent; the user can request a
// resend.
func (h *AuthHandler) sendVerification(r *http.Request, user *domain.User) {
	result, err := h.userService.CreateEmailVerificationToken(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("failed to create verification token",
			"user_id", user.ID.String(), "error", err)
		return
	}

	if err := h.email.SendVerificationEmail(r.Context(), user.Email, user.DisplayName(), result.Token); err != nil {
		h.logger.Error("failed to send verification email",
			"user_id", user.ID.String(), "error", err)
	}
}

// =============================================================================
// Login / Logout
// =============================================================================

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	clientIP := middleware.GetClientIP(r)

	result, err := h.userService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		// Failed attempts count against the login rate limit even though
		// the request itself was admitted.
		h.limiter.RecordFailedLogin(clientIP)
		ErrorResponse(w, r, h.logger, err)
		return
	}

	h.limiter.ResetLogin(clientIP)
	middleware.SetSessionCookie(w, result.Token, h.isSecure)

	writeJSON(w, http.StatusOK, map[string]any{
		"user":  newUserResponse(result.User),
		"token": result.Token,
	})
}

// Logout handles POST /api/auth/logout. Idempotent.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil && cookie.Value != "" {
		if err := h.userService.Logout(r.Context(), cookie.Value); err != nil {
			h.logger.Warn("logout failed", "error", err)
		}
	}

	middleware.ClearSessionCookie(w, h.isSecure)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": newUserResponse(user)})
}

// =============================================================================
// Email Verification
// =============================================================================

// VerifyEmail handles GET /verify-email?token=... which is the link sent in
// the verification email.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid("", "Missing verification token"))
		return
	}

	if err := h.userService.VerifyEmail(r.Context(), token); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

// ResendVerification handles POST /api/auth/resend-verification.
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	user, result, err := h.userService.ResendVerificationEmail(r.Context(), req.Email)
	if err != nil {
		// Do not reveal whether the address exists.
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
			return
		}
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if err := h.email.SendVerificationEmail(r.Context(), user.Email, user.DisplayName(), result.Token); err != nil {
		h.logger.Error("failed to send verification email",
			"user_id", user.ID.String(), "error", err)
		InternalErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}
