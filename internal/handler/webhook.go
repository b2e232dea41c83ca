// Stripe webhook handler.
//
// Route:
//   - POST /webhooks/stripe -> HandleStripeWebhook
//
// This route is PUBLIC (no auth middleware) because Stripe calls it
// directly. Authentication is via the Stripe webhook signature.
package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/thisreply/thisreply/internal/billing"
	"github.com/thisreply/thisreply/internal/service"
)

// maxWebhookBodyBytes caps Stripe webhook payloads.
const maxWebhookBodyBytes = 65536

// WebhookHandler handles incoming webhook events from Stripe.
type WebhookHandler struct {
	billing       billing.Service
	subscriptions service.SubscriptionService
	logger        *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
// billingService may be nil when Stripe is not configured.
func NewWebhookHandler(billingService billing.Service, subscriptions service.SubscriptionService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		billing:       billingService,
		subscriptions: subscriptions,
		logger:        logger,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook processes incoming Stripe webhook events.
//
// Responds 200 once the event is applied so Stripe stops retrying, and 500
// on processing failure so it retries later. Event application is
// idempotent, so replays are harmless.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		h.logger.Warn("stripe webhook received but billing is not configured")
		w.WriteHeader(http.StatusOK)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	event, err := h.billing.VerifyWebhookSignature(body, signature)
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.logger.Info("stripe webhook received", "type", event.Type, "id", event.ID)

	if err := h.subscriptions.HandleWebhookEvent(r.Context(), event); err != nil {
		h.logger.Error("failed to process webhook event",
			"type", event.Type, "id", event.ID, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
