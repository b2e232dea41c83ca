package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thisreply/thisreply/internal/domain"
)

// =============================================================================
// Mock UserService Implementation
// =============================================================================

// mockUserService implements service.UserService for testing.
type mockUserService struct {
	GetBySessionTokenFunc func(ctx context.Context, token string) (*domain.User, error)
}

func (m *mockUserService) Register(ctx context.Context, params domain.RegisterParams) (*domain.User, error) {
	return nil, errors.New("not implemented")
}

func (m *mockUserService) Login(ctx context.Context, email, password string) (*domain.LoginResult, error) {
	return nil, errors.New("not implemented")
}

func (m *mockUserService) Logout(ctx context.Context, token string) error {
	return nil
}

func (m *mockUserService) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return nil, errors.New("not implemented")
}

func (m *mockUserService) GetBySessionToken(ctx context.Context, token string) (*domain.User, error) {
	if m.GetBySessionTokenFunc != nil {
		return m.GetBySessionTokenFunc(ctx, token)
	}
	return nil, errors.New("not implemented")
}

func (m *mockUserService) CreateEmailVerificationToken(ctx context.Context, userID uuid.UUID) (*domain.EmailVerificationResult, error) {
	return nil, errors.New("not implemented")
}

func (m *mockUserService) VerifyEmail(ctx context.Context, token string) error {
	return errors.New("not implemented")
}

func (m *mockUserService) ResendVerificationEmail(ctx context.Context, email string) (*domain.User, *domain.EmailVerificationResult, error) {
	return nil, nil, errors.New("not implemented")
}

func (m *mockUserService) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	return 0, nil
}

// =============================================================================
// Test Helpers
// =============================================================================

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAuthMiddleware(mock *mockUserService, admins ...string) *AuthMiddleware {
	return NewAuthMiddleware(mock, domain.NewAdminList(admins), newTestLogger(), false)
}

func testUser(email string) *domain.User {
	return &domain.User{
		ID:            uuid.New(),
		Email:         email,
		Name:          "Test User",
		EmailVerified: true,
	}
}

// =============================================================================
// WithUser Tests
// =============================================================================

func TestWithUser_NoCookie_ContinuesWithoutUser(t *testing.T) {
	mw := newTestAuthMiddleware(&mockUserService{})

	handlerCalled := false
	handler := mw.WithUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		assert.Nil(t, GetUser(r.Context()))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/usage", nil))

	assert.True(t, handlerCalled)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWithUser_ValidCookie_SetsUser(t *testing.T) {
	user := testUser("sam@example.com")
	mock := &mockUserService{
		GetBySessionTokenFunc: func(ctx context.Context, token string) (*domain.User, error) {
			assert.Equal(t, "valid-token", token)
			return user, nil
		},
	}
	mw := newTestAuthMiddleware(mock)

	handler := mw.WithUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := GetUser(r.Context())
		require.NotNil(t, got)
		assert.Equal(t, user.ID, got.ID)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/usage", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-token"})
	handler.ServeHTTP(httptest.NewRecorder(), req)
}

func TestWithUser_BearerToken_SetsUser(t *testing.T) {
	user := testUser("sam@example.com")
	mock := &mockUserService{
		GetBySessionTokenFunc: func(ctx context.Context, token string) (*domain.User, error) {
			assert.Equal(t, "mobile-token", token)
			return user, nil
		},
	}
	mw := newTestAuthMiddleware(mock)

	handler := mw.WithUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotNil(t, GetUser(r.Context()))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/usage", nil)
	req.Header.Set("Authorization", "Bearer mobile-token")
	handler.ServeHTTP(httptest.NewRecorder(), req)
}

func TestWithUser_InvalidSession_ClearsCookieAndContinues(t *testing.T) {
	mock := &mockUserService{
		GetBySessionTokenFunc: func(ctx context.Context, token string) (*domain.User, error) {
			return nil, domain.Unauthorized("", "Invalid session")
		},
	}
	mw := newTestAuthMiddleware(mock)

	handlerCalled := false
	handler := mw.WithUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		assert.Nil(t, GetUser(r.Context()))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/usage", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "expired-token"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.True(t, handlerCalled)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookieName, cookies[0].Name)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

// =============================================================================
// RequireUser Tests
// =============================================================================

func TestRequireUser_NoUser_Returns401(t *testing.T) {
	mw := newTestAuthMiddleware(&mockUserService{})

	handler := mw.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "unauthorized")
}

func TestRequireUser_WithUser_CallsNext(t *testing.T) {
	mw := newTestAuthMiddleware(&mockUserService{})

	handlerCalled := false
	handler := mw.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	req = req.WithContext(SetUser(req.Context(), testUser("sam@example.com")))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, handlerCalled)
}

// =============================================================================
// RequireAdmin Tests
// =============================================================================

func TestRequireAdmin(t *testing.T) {
	tests := []struct {
		name       string
		user       *domain.User
		wantStatus int
		wantNext   bool
	}{
		{
			name:       "admin user passes",
			user:       testUser("admin@thisreply.app"),
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
		{
			name:       "regular user gets 404",
			user:       testUser("sam@example.com"),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "anonymous gets 401",
			user:       nil,
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := newTestAuthMiddleware(&mockUserService{}, "admin@thisreply.app")

			nextCalled := false
			handler := mw.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				nextCalled = true
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
			if tt.user != nil {
				req = req.WithContext(SetUser(req.Context(), tt.user))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantNext, nextCalled)
		})
	}
}

// =============================================================================
// RequireVerifiedEmail Tests
// =============================================================================

func TestRequireVerifiedEmail_Unverified_Returns403(t *testing.T) {
	mw := newTestAuthMiddleware(&mockUserService{})

	handler := mw.RequireVerifiedEmail(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	user := testUser("sam@example.com")
	user.EmailVerified = false

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", nil)
	req = req.WithContext(SetUser(req.Context(), user))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "email_not_verified")
}

// =============================================================================
// Stack Tests
// =============================================================================

func TestStack_AppliesInOrder(t *testing.T) {
	var order []string
	mwFor := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	stack := Stack(mwFor("outer"), mwFor("inner"))
	handler := stack(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}
