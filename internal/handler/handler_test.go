package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"

	"github.com/thisreply/thisreply/internal/billing"
	"github.com/thisreply/thisreply/internal/domain"
	"github.com/thisreply/thisreply/internal/service"
	"github.com/thisreply/thisreply/internal/storage"
)

// Shared fakes for handler tests. Each fake delegates to optional func
// fields and fails closed otherwise.

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testUser() *domain.User {
	return &domain.User{
		ID:            uuid.New(),
		Email:         "sam@example.com",
		Name:          "Sam",
		EmailVerified: true,
		CreatedAt:     time.Now().UTC(),
	}
}

// =============================================================================
// Fake AnalysisService
// =============================================================================

type fakeAnalysisService struct {
	AnalyzeFunc func(ctx context.Context, user *domain.User, imageData []byte, contentType string) (*domain.Analysis, error)
	HistoryFunc func(ctx context.Context, userID uuid.UUID) ([]domain.Analysis, error)
}

func (f *fakeAnalysisService) Analyze(ctx context.Context, user *domain.User, imageData []byte, contentType string) (*domain.Analysis, error) {
	if f.AnalyzeFunc != nil {
		return f.AnalyzeFunc(ctx, user, imageData, contentType)
	}
	return nil, errors.New("not implemented")
}

func (f *fakeAnalysisService) History(ctx context.Context, userID uuid.UUID) ([]domain.Analysis, error) {
	if f.HistoryFunc != nil {
		return f.HistoryFunc(ctx, userID)
	}
	return nil, errors.New("not implemented")
}

var _ service.AnalysisService = (*fakeAnalysisService)(nil)

// =============================================================================
// Fake EntitlementService
// =============================================================================

type fakeEntitlementService struct {
	GetFunc   func(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error)
	UsageFunc func(ctx context.Context, user *domain.User) (*service.UsageReport, error)
}

func (f *fakeEntitlementService) Get(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error) {
	if f.GetFunc != nil {
		return f.GetFunc(ctx, userID)
	}
	return nil, errors.New("not implemented")
}

func (f *fakeEntitlementService) Resolve(ctx context.Context, user *domain.User) (domain.Role, *domain.Entitlement, error) {
	return domain.RoleFree, nil, errors.New("not implemented")
}

func (f *fakeEntitlementService) Admit(ctx context.Context, user *domain.User) (domain.Role, error) {
	return domain.RoleFree, errors.New("not implemented")
}

func (f *fakeEntitlementService) RecordUsage(ctx context.Context, userID uuid.UUID, role domain.Role) error {
	return errors.New("not implemented")
}

func (f *fakeEntitlementService) Usage(ctx context.Context, user *domain.User) (*service.UsageReport, error) {
	if f.UsageFunc != nil {
		return f.UsageFunc(ctx, user)
	}
	return nil, errors.New("not implemented")
}

var _ service.EntitlementService = (*fakeEntitlementService)(nil)

// =============================================================================
// Fake ReferralService
// =============================================================================

type fakeReferralService struct {
	RedeemFunc func(ctx context.Context, userID uuid.UUID, code string) (*service.RedeemResult, error)
}

func (f *fakeReferralService) Redeem(ctx context.Context, userID uuid.UUID, code string) (*service.RedeemResult, error) {
	if f.RedeemFunc != nil {
		return f.RedeemFunc(ctx, userID, code)
	}
	return nil, errors.New("not implemented")
}

var _ service.ReferralService = (*fakeReferralService)(nil)

// =============================================================================
// Fake UserService
// =============================================================================

type fakeUserService struct {
	RegisterFunc func(ctx context.Context, params domain.RegisterParams) (*domain.User, error)
	LoginFunc    func(ctx context.Context, email, password string) (*domain.LoginResult, error)
	GetByIDFunc  func(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

func (f *fakeUserService) Register(ctx context.Context, params domain.RegisterParams) (*domain.User, error) {
	if f.RegisterFunc != nil {
		return f.RegisterFunc(ctx, params)
	}
	return nil, errors.New("not implemented")
}

func (f *fakeUserService) Login(ctx context.Context, email, password string) (*domain.LoginResult, error) {
	if f.LoginFunc != nil {
		return f.LoginFunc(ctx, email, password)
	}
	return nil, errors.New("not implemented")
}

func (f *fakeUserService) Logout(ctx context.Context, token string) error {
	return nil
}

func (f *fakeUserService) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	if f.GetByIDFunc != nil {
		return f.GetByIDFunc(ctx, id)
	}
	return nil, errors.New("not implemented")
}

func (f *fakeUserService) GetBySessionToken(ctx context.Context, token string) (*domain.User, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeUserService) CreateEmailVerificationToken(ctx context.Context, userID uuid.UUID) (*domain.EmailVerificationResult, error) {
	return &domain.EmailVerificationResult{Token: "test-token", ExpiresAt: time.Now().Add(24 * time.Hour)}, nil
}

func (f *fakeUserService) VerifyEmail(ctx context.Context, token string) error {
	return errors.New("not implemented")
}

func (f *fakeUserService) ResendVerificationEmail(ctx context.Context, email string) (*domain.User, *domain.EmailVerificationResult, error) {
	return nil, nil, errors.New("not implemented")
}

func (f *fakeUserService) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	return 0, nil
}

var _ service.UserService = (*fakeUserService)(nil)

// =============================================================================
// Fake SubscriptionService
// =============================================================================

type fakeSubscriptionService struct {
	CreateCheckoutFunc     func(ctx context.Context, user *domain.User, plan string) (string, error)
	CancelFunc             func(ctx context.Context, userID uuid.UUID) error
	HandleWebhookEventFunc func(ctx context.Context, event stripe.Event) error
}

func (f *fakeSubscriptionService) CreateCheckout(ctx context.Context, user *domain.User, plan string) (string, error) {
	if f.CreateCheckoutFunc != nil {
		return f.CreateCheckoutFunc(ctx, user, plan)
	}
	return "", errors.New("not implemented")
}

func (f *fakeSubscriptionService) Cancel(ctx context.Context, userID uuid.UUID) error {
	if f.CancelFunc != nil {
		return f.CancelFunc(ctx, userID)
	}
	return errors.New("not implemented")
}

func (f *fakeSubscriptionService) HandleWebhookEvent(ctx context.Context, event stripe.Event) error {
	if f.HandleWebhookEventFunc != nil {
		return f.HandleWebhookEventFunc(ctx, event)
	}
	return errors.New("not implemented")
}

var _ service.SubscriptionService = (*fakeSubscriptionService)(nil)

// =============================================================================
// Fake Billing Service
// =============================================================================

type fakeBillingService struct {
	VerifyWebhookSignatureFunc func(payload []byte, signature string) (stripe.Event, error)
}

func (f *fakeBillingService) CreateCheckoutSession(userID, plan, successURL, cancelURL string) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeBillingService) CancelSubscription(subscriptionID string) (*stripe.Subscription, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBillingService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	if f.VerifyWebhookSignatureFunc != nil {
		return f.VerifyWebhookSignatureFunc(payload, signature)
	}
	return stripe.Event{}, errors.New("not implemented")
}

func (f *fakeBillingService) PriceIDForPlan(plan string) string {
	return ""
}

var _ billing.Service = (*fakeBillingService)(nil)

// =============================================================================
// Fake Storage
// =============================================================================

type fakeStorage struct {
	URLFunc func(ctx context.Context, key string, expires time.Duration) (string, error)
}

func (f *fakeStorage) Put(ctx context.Context, key string, data io.Reader, opts storage.PutOptions) error {
	return nil
}

func (f *fakeStorage) Get(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	return nil, storage.ObjectInfo{}, storage.ErrNotFound
}

func (f *fakeStorage) Delete(ctx context.Context, key string) error {
	return nil
}

func (f *fakeStorage) URL(ctx context.Context, key string, expires time.Duration) (string, error) {
	if f.URLFunc != nil {
		return f.URLFunc(ctx, key, expires)
	}
	return "https://cdn.example.com/" + key, nil
}

func (f *fakeStorage) Exists(ctx context.Context, key string) (bool, error) {
	return false, nil
}

var _ storage.Storage = (*fakeStorage)(nil)
