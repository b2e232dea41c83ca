// Package billing provides Stripe billing integration for subscription management.
package billing

import (
	"fmt"

	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/subscription"
	"github.com/stripe/stripe-go/v79/webhook"
)

// Plan identifiers for the subscription tiers.
const (
	PlanWeekly  = "weekly"
	PlanMonthly = "monthly"
)

// Service defines the interface for billing operations.
type Service interface {
	// CreateCheckoutSession creates a Stripe Checkout session for subscribing.
	// The user ID is attached as metadata so the completed-checkout webhook
	// can be tied back to an account. Returns the checkout URL to redirect
	// the user to.
	CreateCheckoutSession(userID, plan, successURL, cancelURL string) (string, error)

	// CancelSubscription sets a subscription to cancel at period end and
	// returns the updated subscription, whose CurrentPeriodEnd tells the
	// caller how long paid access persists.
	CancelSubscription(subscriptionID string) (*stripe.Subscription, error)

	// VerifyWebhookSignature verifies the Stripe webhook signature and returns the event.
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)

	// PriceIDForPlan returns the Stripe price ID for a plan name, or "" if
	// the plan is unknown.
	PriceIDForPlan(plan string) string
}

// PriceConfig holds the Stripe price IDs for each plan.
type PriceConfig struct {
	WeeklyPriceID  string
	MonthlyPriceID string
}

// stripeService is the concrete implementation of Service.
type stripeService struct {
	webhookSecret string
	planToPrice   map[string]string // maps plan name -> price ID
}

// NewStripeService creates a new Stripe billing service.
//
// The secretKey is used to authenticate Stripe API calls.
// The webhookSecret is used to verify incoming webhook signatures.
// The prices configure which Stripe price IDs back which plans.
func NewStripeService(secretKey, webhookSecret string, prices PriceConfig) Service {
	stripe.Key = secretKey

	planToPrice := make(map[string]string)
	if prices.WeeklyPriceID != "" {
		planToPrice[PlanWeekly] = prices.WeeklyPriceID
	}
	if prices.MonthlyPriceID != "" {
		planToPrice[PlanMonthly] = prices.MonthlyPriceID
	}

	return &stripeService{
		webhookSecret: webhookSecret,
		planToPrice:   planToPrice,
	}
}

func (s *stripeService) CreateCheckoutSession(userID, plan, successURL, cancelURL string) (string, error) {
	priceID := s.PriceIDForPlan(plan)
	if priceID == "" {
		return "", fmt.Errorf("unknown plan: %s", plan)
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		Metadata: map[string]string{
			"userId": userID,
		},
	}
	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create checkout session: %w", err)
	}
	return sess.URL, nil
}

func (s *stripeService) CancelSubscription(subscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	sub, err := subscription.Update(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe cancel subscription: %w", err)
	}
	return sub, nil
}

func (s *stripeService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe webhook signature verification failed: %w", err)
	}
	return event, nil
}

func (s *stripeService) PriceIDForPlan(plan string) string {
	return s.planToPrice[plan]
}
