// Package service contains the business logic layer.
//
// This file implements the subscription state machine. All durable state
// transitions are driven by verified Stripe webhook events; the local
// cancellation request is the only user-initiated transition.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"

	"github.com/thisreply/thisreply/internal/billing"
	"github.com/thisreply/thisreply/internal/domain"
	"github.com/thisreply/thisreply/internal/metrics"
	"github.com/thisreply/thisreply/internal/store"
)

// Webhook event types this service consumes. Anything else is acknowledged
// and ignored.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SubscriptionService defines subscription lifecycle operations.
type SubscriptionService interface {
	// CreateCheckout starts a Stripe Checkout flow for the given plan
	// ("weekly" or "monthly") and returns the redirect URL.
	CreateCheckout(ctx context.Context, user *domain.User, plan string) (string, error)

	// Cancel requests cancellation at period end. The local record flips to
	// cancelled immediately; access persists until the paid period ends.
	Cancel(ctx context.Context, userID uuid.UUID) error

	// HandleWebhookEvent applies one verified Stripe event to local state.
	// Unknown event types and events for unknown subscriptions are no-ops,
	// and every handler is idempotent under event replay.
	HandleWebhookEvent(ctx context.Context, event stripe.Event) error
}

// =============================================================================
// Implementation
// =============================================================================

// subscriptionEntitlements is the slice of the entitlement store this
// service needs, kept narrow so tests can fake it.
type subscriptionEntitlements interface {
	Get(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error)
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (*domain.Entitlement, error)
	UpdateSubscription(ctx context.Context, e *domain.Entitlement) error
}

type subscriptionService struct {
	entitlements subscriptionEntitlements
	billing      billing.Service
	baseURL      string
	logger       *slog.Logger
}

// NewSubscriptionService creates a new SubscriptionService. bs may be nil
// when billing is not configured; checkout and cancel then fail with a
// payment error instead of reaching for Stripe.
func NewSubscriptionService(st *store.Store, bs billing.Service, baseURL string, logger *slog.Logger) SubscriptionService {
	return &subscriptionService{
		entitlements: st.Entitlements,
		billing:      bs,
		baseURL:      baseURL,
		logger:       logger,
	}
}

// CreateCheckout starts a Stripe Checkout flow.
func (s *subscriptionService) CreateCheckout(ctx context.Context, user *domain.User, plan string) (string, error) {
	const op = "SubscriptionService.CreateCheckout"

	if s.billing == nil {
		return "", domain.Errorf(domain.EPAYMENT, op, "Billing is not configured")
	}
	if s.billing.PriceIDForPlan(plan) == "" {
		return "", domain.Invalid(op, fmt.Sprintf("Unknown plan %q", plan))
	}

	successURL := s.baseURL + "/subscribe/success"
	cancelURL := s.baseURL + "/subscribe/cancelled"

	url, err := s.billing.CreateCheckoutSession(user.ID.String(), plan, successURL, cancelURL)
	if err != nil {
		return "", domain.Wrap(err, domain.EPAYMENT, op, "Failed to start checkout")
	}

	s.logger.Info("checkout session created", "user_id", user.ID, "plan", plan)
	return url, nil
}

// Cancel requests cancellation at period end.
func (s *subscriptionService) Cancel(ctx context.Context, userID uuid.UUID) error {
	const op = "SubscriptionService.Cancel"

	if s.billing == nil {
		return domain.Errorf(domain.EPAYMENT, op, "Billing is not configured")
	}

	ent, err := s.entitlements.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.NotFound(op, "entitlement", userID.String())
		}
		return domain.Internal(err, op, "Failed to retrieve entitlement")
	}
	if ent.SubscriptionID == "" {
		return domain.Invalid(op, "No active subscription to cancel")
	}

	sub, err := s.billing.CancelSubscription(ent.SubscriptionID)
	if err != nil {
		return domain.Wrap(err, domain.EPAYMENT, op, "Failed to cancel subscription")
	}

	// Flip the local record immediately rather than waiting for the
	// confirming webhook, and take the period end from the cancel response
	// so paid access keeps running until the period is actually over.
	var periodEnd time.Time
	if sub != nil && sub.CurrentPeriodEnd > 0 {
		periodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	ent.MarkCancelled(periodEnd)
	if err := s.entitlements.UpdateSubscription(ctx, ent); err != nil {
		return domain.Internal(err, op, "Failed to update entitlement")
	}

	s.logger.Info("subscription cancellation requested", "user_id", userID, "subscription_id", ent.SubscriptionID)
	return nil
}

// HandleWebhookEvent applies one verified Stripe event.
func (s *subscriptionService) HandleWebhookEvent(ctx context.Context, event stripe.Event) error {
	const op = "SubscriptionService.HandleWebhookEvent"

	var err error
	switch string(event.Type) {
	case EventCheckoutCompleted:
		err = s.handleCheckoutCompleted(ctx, event)
	case EventSubscriptionUpdated:
		err = s.handleSubscriptionUpdated(ctx, event)
	case EventSubscriptionDeleted:
		err = s.handleSubscriptionDeleted(ctx, event)
	default:
		s.logger.Debug("ignoring webhook event", "type", event.Type)
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "ignored").Inc()
		return nil
	}

	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "error").Inc()
		return domain.Internal(err, op, "Failed to process webhook event")
	}
	metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "ok").Inc()
	return nil
}

// handleCheckoutCompleted activates the subscription for the account named
// in the session metadata. Replay-safe: activating an already active record
// writes the same state.
func (s *subscriptionService) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("unmarshal checkout session: %w", err)
	}

	rawID := session.Metadata["userId"]
	userID, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("checkout session %s has invalid userId metadata %q", session.ID, rawID)
	}

	var subscriptionID string
	if session.Subscription != nil {
		subscriptionID = session.Subscription.ID
	}
	if subscriptionID == "" {
		return fmt.Errorf("checkout session %s has no subscription", session.ID)
	}

	ent, err := s.entitlements.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("load entitlement for %s: %w", userID, err)
	}

	ent.ActivateSubscription(subscriptionID)
	if err := s.entitlements.UpdateSubscription(ctx, ent); err != nil {
		return fmt.Errorf("persist activation: %w", err)
	}

	s.logger.Info("subscription activated", "user_id", userID, "subscription_id", subscriptionID)
	return nil
}

// handleSubscriptionUpdated reconciles local state with the processor's view
// of the subscription. Events for subscriptions we do not know are ignored;
// they can arrive out of order around checkout completion and the next
// update will catch up.
func (s *subscriptionService) handleSubscriptionUpdated(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}

	ent, err := s.entitlements.GetBySubscriptionID(ctx, sub.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Debug("subscription.updated for unknown subscription", "subscription_id", sub.ID)
			return nil
		}
		return fmt.Errorf("load entitlement for subscription %s: %w", sub.ID, err)
	}

	active := sub.Status == stripe.SubscriptionStatusActive
	periodEnd := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	ent.UpdateSubscription(active, periodEnd)

	if err := s.entitlements.UpdateSubscription(ctx, ent); err != nil {
		return fmt.Errorf("persist subscription update: %w", err)
	}

	s.logger.Info("subscription updated",
		"user_id", ent.UserID,
		"subscription_id", sub.ID,
		"processor_status", sub.Status,
		"period_end", periodEnd,
	)
	return nil
}

// handleSubscriptionDeleted returns the account to the free tier. Replaying
// the event finds no matching subscription and is a no-op.
func (s *subscriptionService) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}

	ent, err := s.entitlements.GetBySubscriptionID(ctx, sub.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Debug("subscription.deleted for unknown subscription", "subscription_id", sub.ID)
			return nil
		}
		return fmt.Errorf("load entitlement for subscription %s: %w", sub.ID, err)
	}

	ent.ClearSubscription()
	if err := s.entitlements.UpdateSubscription(ctx, ent); err != nil {
		return fmt.Errorf("persist subscription deletion: %w", err)
	}

	s.logger.Info("subscription ended", "user_id", ent.UserID, "subscription_id", sub.ID)
	return nil
}

// Ensure subscriptionService implements SubscriptionService
var _ SubscriptionService = (*subscriptionService)(nil)
