// Package middleware contains HTTP middleware for the ThisReply API.
//
// Middleware functions follow the standard Go pattern of wrapping
// http.Handler and are composed with Stack.
package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/thisreply/thisreply/internal/domain"
	"github.com/thisreply/thisreply/internal/service"
)

// =============================================================================
// Configuration Constants
// =============================================================================

const (
	// SessionCookieName is the name of the cookie that stores the session token.
	SessionCookieName = "thisreply_session"

	// SessionCookiePath ensures the cookie is sent with all requests.
	SessionCookiePath = "/"

	// SessionCookieMaxAge sets the cookie expiration. This matches
	// SessionDuration in the user service. 30 days = 2592000 seconds.
	SessionCookieMaxAge = 30 * 24 * 60 * 60
)

// =============================================================================
// Context Keys
// =============================================================================

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const userContextKey contextKey = "user"

// =============================================================================
// Context Helpers
// =============================================================================

// GetUser retrieves the authenticated user from the request context.
//
// Returns nil if no user is authenticated.
func GetUser(ctx context.Context) *domain.User {
	user, ok := ctx.Value(userContextKey).(*domain.User)
	if !ok {
		return nil
	}
	return user
}

// SetUser stores a user in the request context. Exported for handler tests.
func SetUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware resolves the authenticated user and enforces access rules.
type AuthMiddleware struct {
	userService service.UserService
	admins      domain.AdminList
	logger      *slog.Logger
	isSecure    bool // Whether to set Secure flag on cookies (true in production)
}

// NewAuthMiddleware creates a new AuthMiddleware instance.
func NewAuthMiddleware(userService service.UserService, admins domain.AdminList, logger *slog.Logger, isSecure bool) *AuthMiddleware {
	return &AuthMiddleware{
		userService: userService,
		admins:      admins,
		logger:      logger,
		isSecure:    isSecure,
	}
}

// WithUser attempts to load the user from the session cookie or a bearer
// token and stores it in the request context. The request continues
// regardless of authentication status.
func (m *AuthMiddleware) WithUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		user, err := m.userService.GetBySessionToken(r.Context(), token)
		if err != nil {
			// Invalid or expired session. Clear the cookie and continue
			// anonymously.
			clearSessionCookie(w, m.isSecure)
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(SetUser(r.Context(), user)))
	})
}

// RequireUser rejects unauthenticated requests with 401.
//
// Must be used after WithUser in the middleware chain.
func (m *AuthMiddleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUser(r.Context()) == nil {
			writeAuthError(w, http.StatusUnauthorized, "unauthorized", "Authentication required.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects requests from non-admin users with 404.
//
// Responding 404 instead of 403 keeps the admin surface invisible to
// regular users probing paths. Must be used after RequireUser.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := GetUser(r.Context())
		if user == nil {
			writeAuthError(w, http.StatusUnauthorized, "unauthorized", "Authentication required.")
			return
		}
		if !m.admins.Contains(user.Email) {
			m.logger.Warn("non-admin request to admin route",
				slog.String("user_id", user.ID.String()),
				slog.String("path", r.URL.Path),
			)
			writeAuthError(w, http.StatusNotFound, "not_found", "Not found.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireVerifiedEmail rejects users who have not confirmed their email
// address. Must be used after RequireUser.
func (m *AuthMiddleware) RequireVerifiedEmail(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := GetUser(r.Context())
		if user == nil {
			writeAuthError(w, http.StatusUnauthorized, "unauthorized", "Authentication required.")
			return
		}
		if !user.EmailVerified {
			writeAuthError(w, http.StatusForbidden, "email_not_verified", "Please verify your email address first.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Cookie Helpers
// =============================================================================

// SetSessionCookie sets the session cookie on the response.
//
// HttpOnly blocks JavaScript access, SameSite Lax blocks cross-site POSTs,
// and Secure is enabled outside development.
func SetSessionCookie(w http.ResponseWriter, token string, isSecure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     SessionCookiePath,
		MaxAge:   SessionCookieMaxAge,
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie removes the session cookie from the client.
func ClearSessionCookie(w http.ResponseWriter, isSecure bool) {
	clearSessionCookie(w, isSecure)
}

func clearSessionCookie(w http.ResponseWriter, isSecure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     SessionCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// =============================================================================
// Request Helpers
// =============================================================================

// sessionToken extracts the session token from the cookie or, for mobile
// clients, from an Authorization bearer header.
func sessionToken(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// writeAuthError writes a minimal JSON error body. The middleware package
// writes its own errors rather than importing the handler package, which
// imports this one.
func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}

// =============================================================================
// Middleware Stack Helpers
// =============================================================================

// Stack composes multiple middleware functions into a single middleware.
//
// Middleware is applied in the order provided: the first middleware in the
// slice is the outermost (runs first on request, last on response).
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// =============================================================================
// Compile-time checks
// =============================================================================

var (
	_ func(http.Handler) http.Handler = (&AuthMiddleware{}).WithUser
	_ func(http.Handler) http.Handler = (&AuthMiddleware{}).RequireUser
	_ func(http.Handler) http.Handler = (&AuthMiddleware{}).RequireAdmin
	_ func(http.Handler) http.Handler = (&AuthMiddleware{}).RequireVerifiedEmail
)
