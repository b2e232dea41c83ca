package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thisreply/thisreply/internal/domain"
)

func TestErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{domain.EINVALID, http.StatusBadRequest},
		{domain.EMISSINGCODE, http.StatusBadRequest},
		{domain.ESELFREFERRAL, http.StatusBadRequest},
		{domain.EUNAUTHORIZED, http.StatusUnauthorized},
		{domain.EPAYMENT, http.StatusPaymentRequired},
		{domain.EFORBIDDEN, http.StatusForbidden},
		{domain.ENOTFOUND, http.StatusNotFound},
		{domain.EINVALIDCODE, http.StatusNotFound},
		{domain.ECONFLICT, http.StatusConflict},
		{domain.EALREADYREDEEMED, http.StatusConflict},
		{domain.ETOOLARGE, http.StatusRequestEntityTooLarge},
		{domain.ERATELIMIT, http.StatusTooManyRequests},
		{domain.EQUOTA, http.StatusTooManyRequests},
		{domain.EUPSTREAM, http.StatusBadGateway},
		{domain.EINTERNAL, http.StatusInternalServerError},
		{"bogus", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCodeToHTTPStatus(tt.code))
		})
	}
}

func TestErrorResponse_WritesJSONBody(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/usage", nil)

	ErrorResponse(rec, req, newTestLogger(), domain.QuotaExceeded("EntitlementService.Admit", 2, 2))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body JSONError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, domain.EQUOTA, body.Error.Code)
	assert.Contains(t, body.Error.Message, "Daily limit reached")
	assert.Contains(t, rec.Body.String(), `"upgradeUrl":"/subscribe"`)
}

func TestErrorResponse_HidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/usage", nil)

	ErrorResponse(rec, req, newTestLogger(), domain.Internal(assert.AnError, "AdminService.Stats", "Failed to load stats."))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}
