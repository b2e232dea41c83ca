package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/thisreply/thisreply/internal/middleware"
	"github.com/thisreply/thisreply/internal/service"
)

// =============================================================================
// Billing Handler
// =============================================================================

// BillingHandler handles subscription state and Stripe Checkout flows.
type BillingHandler struct {
	subscriptions service.SubscriptionService
	entitlements  service.EntitlementService
	logger        *slog.Logger
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(subscriptions service.SubscriptionService, entitlements service.EntitlementService, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		subscriptions: subscriptions,
		entitlements:  entitlements,
		logger:        logger,
	}
}

// RegisterRoutes registers billing routes on the provided mux.
func (h *BillingHandler) RegisterRoutes(mux *http.ServeMux, requireUser func(http.Handler) http.Handler) {
	mux.Handle("GET /api/subscription", requireUser(http.HandlerFunc(h.Subscription)))
	mux.Handle("POST /api/subscription/checkout", requireUser(http.HandlerFunc(h.Checkout)))
	mux.Handle("POST /api/subscription/cancel", requireUser(http.HandlerFunc(h.Cancel)))
}

// =============================================================================
// Handlers
// =============================================================================

// Subscription handles GET /api/subscription.
func (h *BillingHandler) Subscription(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	ent, err := h.entitlements.Get(r.Context(), user.ID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	var endDate *time.Time
	if ent.SubscriptionEndDate != nil {
		utc := ent.SubscriptionEndDate.UTC()
		endDate = &utc
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":              string(ent.SubscriptionStatus),
		"isSubscribed":        ent.HasPaidAccess(time.Now().UTC()),
		"subscriptionEndDate": endDate,
	})
}

// Checkout handles POST /api/subscription/checkout.
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	var req struct {
		Plan string `json:"plan"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	url, err := h.subscriptions.CreateCheckout(r.Context(), user, req.Plan)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"checkoutUrl": url})
}

// Cancel handles POST /api/subscription/cancel.
//
// Cancellation is scheduled at the Stripe period end; access continues
// until then.
func (h *BillingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	if err := h.subscriptions.Cancel(r.Context(), user.ID); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancellation_scheduled"})
}
