package handler

import (
	"log/slog"
	"net/http"

	"github.com/thisreply/thisreply/internal/email"
	"github.com/thisreply/thisreply/internal/middleware"
	"github.com/thisreply/thisreply/internal/service"
)

// =============================================================================
// Entitlement Handler
// =============================================================================

// EntitlementHandler serves the usage and referral endpoints.
type EntitlementHandler struct {
	entitlements service.EntitlementService
	referrals    service.ReferralService
	userService  service.UserService
	email        email.EmailService
	logger       *slog.Logger
}

// NewEntitlementHandler creates a new EntitlementHandler.
func NewEntitlementHandler(entitlements service.EntitlementService, referrals service.ReferralService, userService service.UserService, emailService email.EmailService, logger *slog.Logger) *EntitlementHandler {
	return &EntitlementHandler{
		entitlements: entitlements,
		referrals:    referrals,
		userService:  userService,
		email:        emailService,
		logger:       logger,
	}
}

// RegisterRoutes registers usage and referral routes on the provided mux.
func (h *EntitlementHandler) RegisterRoutes(mux *http.ServeMux, requireUser func(http.Handler) http.Handler) {
	mux.Handle("GET /api/usage", requireUser(http.HandlerFunc(h.Usage)))
	mux.Handle("GET /api/referral", requireUser(http.HandlerFunc(h.Referral)))
	mux.Handle("POST /api/referral", requireUser(http.HandlerFunc(h.RedeemReferral)))
}

// =============================================================================
// Usage
// =============================================================================

// Usage handles GET /api/usage.
func (h *EntitlementHandler) Usage(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	report, err := h.entitlements.Usage(r.Context(), user)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := map[string]any{
		"dailyAnalysesUsed": report.Used,
		"isSubscribed":      report.Allowance.Unlimited,
		"unlimited":         report.Allowance.Unlimited,
		"role":              string(report.Role),
	}
	// Unlimited access is a sentinel, never a large number. The numeric
	// fields are null for subscribers and admins.
	if report.Allowance.Unlimited {
		resp["dailyLimit"] = nil
		resp["remainingAnalyses"] = nil
	} else {
		resp["dailyLimit"] = report.Limit
		resp["remainingAnalyses"] = report.Allowance.Remaining
	}

	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Referral
// =============================================================================

// Referral handles GET /api/referral, returning the user's own code and
// referral stats.
func (h *EntitlementHandler) Referral(w http.ResponseWriter, r *http.Request) {
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

	writeJSON(w, http.StatusOK, map[string]any{
		"referralCode":  ent.ReferralCode,
		"referralCount": ent.ReferralCount,
		"bonusCredits":  ent.BonusCredits,
		"hasRedeemed":   ent.ReferredBy != nil,
	})
}

// RedeemReferral handles POST /api/referral.
func (h *EntitlementHandler) RedeemReferral(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	var req struct {
		ReferralCode string `json:"referralCode"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	result, err := h.referrals.Redeem(r.Context(), user.ID, req.ReferralCode)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	h.notifyReferrer(r, result)

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"bonusCredits": result.BonusCredits,
	})
}

// notifyReferrer emails the code owner about their new credits. Best
// effort, the redemption already committed.
func (h *EntitlementHandler) notifyReferrer(r *http.Request, result *service.RedeemResult) {
	referrer, err := h.userService.GetByID(r.Context(), result.ReferrerID)
	if err != nil {
		h.logger.Warn("failed to load referrer for notification",
			"referrer_id", result.ReferrerID.String(), "error", err)
		return
	}

	if err := h.email.SendReferralRedeemedEmail(r.Context(), referrer.Email, referrer.DisplayName(), result.BonusCredits); err != nil {
		h.logger.Warn("failed to send referral notification",
			"referrer_id", referrer.ID.String(), "error", err)
	}
}
