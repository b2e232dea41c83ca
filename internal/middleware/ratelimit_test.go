package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rl := NewRateLimiter(3, time.Minute, logger)

	assert.True(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))

	// Other keys are unaffected
	assert.True(t, rl.Allow("5.6.7.8"))
}

func TestRateLimiter_FailuresCountAgainstLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rl := NewRateLimiter(2, time.Minute, logger)

	rl.RecordFailure("1.2.3.4")
	rl.RecordFailure("1.2.3.4")

	assert.False(t, rl.Allow("1.2.3.4"))
}

func TestRateLimiter_ResetClearsKey(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rl := NewRateLimiter(1, time.Minute, logger)

	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))

	rl.Reset("1.2.3.4")
	assert.True(t, rl.Allow("1.2.3.4"))
}

func TestRateLimitMiddleware_Returns429WithRetryAfter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mw := NewRateLimitMiddleware(NewRateLimiter(1, time.Minute, logger), logger)

	handler := mw.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = "9.9.9.9:1234"
	handler.ServeHTTP(first, req)
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, req)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Contains(t, second.Body.String(), "rate_limit_exceeded")
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{
			name:    "x-forwarded-for single",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.7"},
			remote:  "10.0.0.1:1234",
			want:    "203.0.113.7",
		},
		{
			name:    "x-forwarded-for chain uses first",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.2"},
			remote:  "10.0.0.1:1234",
			want:    "203.0.113.7",
		},
		{
			name:    "x-real-ip fallback",
			headers: map[string]string{"X-Real-IP": "203.0.113.9"},
			remote:  "10.0.0.1:1234",
			want:    "203.0.113.9",
		},
		{
			name:   "remote addr",
			remote: "198.51.100.4:5678",
			want:   "198.51.100.4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, GetClientIP(req))
		})
	}
}
