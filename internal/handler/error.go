// Package handler contains HTTP handlers for the ThisReply API.
//
// All endpoints speak JSON. Errors are written through ErrorResponse, which
// maps domain error codes to HTTP status codes and never leaks internal
// detail to clients.
package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/thisreply/thisreply/internal/domain"
)

// ErrorResponse writes a JSON error response to the client.
func ErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code := domain.ErrorCode(err)
	message := domain.ErrorMessage(err)
	op := domain.ErrorOp(err)

	status := ErrorCodeToHTTPStatus(code)

	logError(logger, r, err, code, op, status)
	writeJSONError(w, status, code, message)
}

// ErrorCodeToHTTPStatus maps domain error codes to HTTP status codes.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID, domain.EMISSINGCODE, domain.ESELFREFERRAL:
		return http.StatusBadRequest // 400
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized // 401
	case domain.EPAYMENT:
		return http.StatusPaymentRequired // 402
	case domain.EFORBIDDEN:
		return http.StatusForbidden // 403
	case domain.ENOTFOUND, domain.EINVALIDCODE:
		return http.StatusNotFound // 404
	case domain.ECONFLICT, domain.EALREADYREDEEMED:
		return http.StatusConflict // 409
	case domain.ETOOLARGE:
		return http.StatusRequestEntityTooLarge // 413
	case domain.ERATELIMIT, domain.EQUOTA:
		return http.StatusTooManyRequests // 429
	case domain.EUPSTREAM:
		return http.StatusBadGateway // 502
	case domain.EINTERNAL:
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// UnauthorizedResponse is a convenience wrapper for 401 errors.
func UnauthorizedResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	ErrorResponse(w, r, logger, domain.Errorf(domain.EUNAUTHORIZED, "", "Authentication required"))
}

// InternalErrorResponse logs the error and returns a generic 500 response.
func InternalErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	ErrorResponse(w, r, logger, domain.Internal(err, "", "An unexpected error occurred"))
}

// logError logs the error with a level appropriate to the status code. 5xx
// is server-side, 4xx is an expected client error.
func logError(logger *slog.Logger, r *http.Request, err error, code, op string, status int) {
	attrs := []any{
		"error", err.Error(),
		"code", code,
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
	}

	if op != "" {
		attrs = append(attrs, "op", op)
	}

	if status >= 500 {
		logger.Error("server error", attrs...)
	} else if status >= 400 {
		logger.Info("client error", attrs...)
	}
}

// upgradePath is included in quota denials so clients can deep-link to the
// subscription screen.
const upgradePath = "/subscribe"

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	body := map[string]string{
		"code":    code,
		"message": message,
	}
	if code == domain.EQUOTA {
		body["upgradeUrl"] = upgradePath
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": body})
}

// writeJSON writes a JSON success response.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// maxJSONBodyBytes caps request bodies on JSON endpoints.
const maxJSONBodyBytes = 1 << 20 // 1MB

// decodeJSON decodes a JSON request body into dst, rejecting unknown fields
// and oversized bodies.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return domain.Invalid("", fmt.Sprintf("Invalid request body: %v", err))
	}
	return nil
}

// JSONError is a typed response structure for API errors.
type JSONError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
