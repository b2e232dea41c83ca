package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v79"
)

func TestStripeWebhook_InvalidSignature_Returns400(t *testing.T) {
	billing := &fakeBillingService{
		VerifyWebhookSignatureFunc: func(payload []byte, signature string) (stripe.Event, error) {
			return stripe.Event{}, errors.New("signature mismatch")
		},
	}

	h := NewWebhookHandler(billing, &fakeSubscriptionService{}, newTestLogger())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=bad")
	rec := httptest.NewRecorder()
	h.HandleStripeWebhook(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStripeWebhook_VerifiedEvent_Dispatched(t *testing.T) {
	event := stripe.Event{ID: "evt_1", Type: "customer.subscription.deleted"}

	billing := &fakeBillingService{
		VerifyWebhookSignatureFunc: func(payload []byte, signature string) (stripe.Event, error) {
			return event, nil
		},
	}

	var handled []string
	subs := &fakeSubscriptionService{
		HandleWebhookEventFunc: func(ctx context.Context, e stripe.Event) error {
			handled = append(handled, string(e.Type))
			return nil
		},
	}

	h := NewWebhookHandler(billing, subs, newTestLogger())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=good")
	rec := httptest.NewRecorder()
	h.HandleStripeWebhook(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"customer.subscription.deleted"}, handled)
}

func TestStripeWebhook_ProcessingFailure_Returns500ForRetry(t *testing.T) {
	billing := &fakeBillingService{
		VerifyWebhookSignatureFunc: func(payload []byte, signature string) (stripe.Event, error) {
			return stripe.Event{ID: "evt_2", Type: "checkout.session.completed"}, nil
		},
	}
	subs := &fakeSubscriptionService{
		HandleWebhookEventFunc: func(ctx context.Context, e stripe.Event) error {
			return errors.New("db down")
		},
	}

	h := NewWebhookHandler(billing, subs, newTestLogger())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.HandleStripeWebhook(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStripeWebhook_BillingNotConfigured_Returns200(t *testing.T) {
	h := NewWebhookHandler(nil, &fakeSubscriptionService{}, newTestLogger())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.HandleStripeWebhook(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
