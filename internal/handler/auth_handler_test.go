package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thisreply/thisreply/internal/domain"
	"github.com/thisreply/thisreply/internal/email"
	"github.com/thisreply/thisreply/internal/middleware"
)

func newAuthHandler(users *fakeUserService) *AuthHandler {
	return NewAuthHandler(
		users,
		email.NewNoopEmailService(newTestLogger()),
		middleware.NewAuthRateLimiter(newTestLogger()),
		newTestLogger(),
		false,
	)
}

func TestRegister_Success(t *testing.T) {
	created := testUser()
	created.EmailVerified = false

	users := &fakeUserService{
		RegisterFunc: func(ctx context.Context, params domain.RegisterParams) (*domain.User, error) {
			assert.Equal(t, "sam@example.com", params.Email)
			assert.Equal(t, "Sam", params.Name)
			return created, nil
		},
	}

	h := newAuthHandler(users)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register",
		strings.NewReader(`{"email":"sam@example.com","password":"hunter2abc","name":"Sam"}`))
	rec := httptest.NewRecorder()
	h.Register(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		User userResponse `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, created.ID.String(), resp.User.ID)
	assert.False(t, resp.User.EmailVerified)
	assert.NotContains(t, rec.Body.String(), "PasswordHash")
}

func TestRegister_DuplicateEmail_Returns409(t *testing.T) {
	users := &fakeUserService{
		RegisterFunc: func(ctx context.Context, params domain.RegisterParams) (*domain.User, error) {
			return nil, domain.Conflict("UserService.Register", "An account with this email already exists")
		},
	}

	h := newAuthHandler(users)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register",
		strings.NewReader(`{"email":"sam@example.com","password":"hunter2abc"}`))
	rec := httptest.NewRecorder()
	h.Register(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegister_MalformedBody_Returns400(t *testing.T) {
	h := newAuthHandler(&fakeUserService{})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()
	h.Register(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogin_Success_SetsSessionCookie(t *testing.T) {
	user := testUser()
	users := &fakeUserService{
		LoginFunc: func(ctx context.Context, loginEmail, password string) (*domain.LoginResult, error) {
			assert.Equal(t, "sam@example.com", loginEmail)
			return &domain.LoginResult{User: user, Token: "raw-session-token"}, nil
		},
	}

	h := newAuthHandler(users)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"sam@example.com","password":"hunter2abc"}`))
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, middleware.SessionCookieName, cookies[0].Name)
	assert.Equal(t, "raw-session-token", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "raw-session-token", resp.Token)
}

func TestLogin_BadCredentials_Returns401(t *testing.T) {
	users := &fakeUserService{
		LoginFunc: func(ctx context.Context, loginEmail, password string) (*domain.LoginResult, error) {
			return nil, domain.Unauthorized("UserService.Login", "Invalid email or password")
		},
	}

	h := newAuthHandler(users)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"sam@example.com","password":"wrong"}`))
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestVerifyEmail_MissingToken_Returns400(t *testing.T) {
	h := newAuthHandler(&fakeUserService{})

	req := httptest.NewRequest(http.MethodGet, "/verify-email", nil)
	rec := httptest.NewRecorder()
	h.VerifyEmail(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResendVerification_UnknownEmail_DoesNotLeak(t *testing.T) {
	h := NewAuthHandler(
		&resendNotFoundUserService{&fakeUserService{}},
		email.NewNoopEmailService(newTestLogger()),
		middleware.NewAuthRateLimiter(newTestLogger()),
		newTestLogger(),
		false,
	)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/resend-verification",
		strings.NewReader(`{"email":"nobody@example.com"}`))
	rec := httptest.NewRecorder()
	h.ResendVerification(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sent")
}

type resendNotFoundUserService struct {
	*fakeUserService
}

func (s *resendNotFoundUserService) ResendVerificationEmail(ctx context.Context, userEmail string) (*domain.User, *domain.EmailVerificationResult, error) {
	return nil, nil, domain.NotFound("UserService.ResendVerificationEmail", "user", userEmail)
}
