package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/thisreply/thisreply/internal/service"
)

// =============================================================================
// Admin Handler
// =============================================================================

// AdminHandler serves the admin analytics endpoints.
type AdminHandler struct {
	adminService service.AdminService
	logger       *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(adminService service.AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		adminService: adminService,
		logger:       logger,
	}
}

// RegisterRoutes registers admin routes on the provided mux.
//
// requireAdmin must enforce both authentication and the admin allow-list.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux, requireAdmin func(http.Handler) http.Handler) {
	mux.Handle("GET /api/admin/stats", requireAdmin(http.HandlerFunc(h.Stats)))
	mux.Handle("GET /api/admin/users", requireAdmin(http.HandlerFunc(h.Users)))
}

// Stats handles GET /api/admin/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.adminService.Stats(r.Context())
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Users handles GET /api/admin/users?page=N.
func (h *AdminHandler) Users(w http.ResponseWriter, r *http.Request) {
	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			page = n
		}
	}

	users, err := h.adminService.Users(r.Context(), page)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"page":  page,
	})
}
