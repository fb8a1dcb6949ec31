package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"talecraft/internal/models"
	"talecraft/internal/repositories"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// Mock repositories and services

type MockSubscriptionRepository struct {
	mock.Mock
}

func (m *MockSubscriptionRepository) Create(ctx context.Context, sub *models.Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) GetByID(ctx context.Context, id string) (*models.Subscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) GetByEmailAndID(ctx context.Context, email, id string) (*models.Subscription, error) {
	args := m.Called(ctx, email, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) Update(ctx context.Context, sub *models.Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) ListByEmail(ctx context.Context, email string) ([]*models.Subscription, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) GetAccessHolder(ctx context.Context, email string) (*models.Subscription, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) HasAccess(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

func (m *MockSubscriptionRepository) HasNewerActive(ctx context.Context, email string, subscribedAfter time.Time) (bool, error) {
	args := m.Called(ctx, email, subscribedAfter)
	return args.Bool(0), args.Error(1)
}

func (m *MockSubscriptionRepository) DeletePendingByEmail(ctx context.Context, email string) (int64, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockSubscriptionRepository) DeleteStalePending(ctx context.Context, email string, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, email, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockSubscriptionRepository) DeleteStalePendingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockSubscriptionRepository) ExpireDue(ctx context.Context, now time.Time) ([]*models.Subscription, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Subscription), args.Error(1)
}

type MockCatalogService struct {
	mock.Mock
}

func (m *MockCatalogService) ListOffers(ctx context.Context) ([]*models.Offer, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Offer), args.Error(1)
}

func (m *MockCatalogService) GetOffer(ctx context.Context, offerID string) (*models.Offer, error) {
	args := m.Called(ctx, offerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Offer), args.Error(1)
}

func (m *MockCatalogService) RefreshOffers(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type MockInvoiceService struct {
	mock.Mock
}

func (m *MockInvoiceService) CreateInvoice(ctx context.Context, req *CreateInvoiceRequest) (*Invoice, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Invoice), args.Error(1)
}

type MockEntitlementService struct {
	mock.Mock
}

func (m *MockEntitlementService) ModelFor(subscriptionType string) string {
	args := m.Called(subscriptionType)
	return args.String(0)
}

func (m *MockEntitlementService) SyncForPlan(ctx context.Context, email, subscriptionType string) {
	m.Called(ctx, email, subscriptionType)
}

func (m *MockEntitlementService) Revert(ctx context.Context, email string) {
	m.Called(ctx, email)
}

type lifecycleFixture struct {
	svc          *subscriptionService
	repo         *MockSubscriptionRepository
	catalog      *MockCatalogService
	invoices     *MockInvoiceService
	entitlements *MockEntitlementService
	now          time.Time
}

func newLifecycleFixture() *lifecycleFixture {
	repo := new(MockSubscriptionRepository)
	catalog := new(MockCatalogService)
	invoices := new(MockInvoiceService)
	entitlements := new(MockEntitlementService)

	svc := NewSubscriptionService(repo, catalog, invoices, entitlements,
		"https://talecraft.app/pay/success", "https://talecraft.app/pay/failure", "USD").(*subscriptionService)

	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	return &lifecycleFixture{
		svc:          svc,
		repo:         repo,
		catalog:      catalog,
		invoices:     invoices,
		entitlements: entitlements,
		now:          now,
	}
}

func heroOffer() *models.Offer {
	return &models.Offer{
		OfferID:   "sub1",
		OfferName: "Hero's Journey",
		Price:     250,
		Duration:  models.Duration{Magnitude: 1, Unit: models.UnitMonth},
	}
}

func TestCreate_Success(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	f.repo.On("GetAccessHolder", ctx, "a@b.com").Return(nil, repositories.ErrNotFound)
	f.catalog.On("GetOffer", ctx, "sub1").Return(heroOffer(), nil)

	var created *models.Subscription
	f.repo.On("Create", ctx, mock.AnythingOfType("*models.Subscription")).Run(func(args mock.Arguments) {
		created = args.Get(1).(*models.Subscription)
	}).Return(nil)
	f.entitlements.On("SyncForPlan", ctx, "a@b.com", "Hero's Journey").Return()

	f.invoices.On("CreateInvoice", ctx, mock.MatchedBy(func(req *CreateInvoiceRequest) bool {
		return strings.HasPrefix(req.ExternalID, "subscription-sub_20260901_") &&
			req.Amount == 250 && req.PayerEmail == "a@b.com"
	})).Return(&Invoice{ID: "inv-1", InvoiceURL: "https://pay.example/inv-1"}, nil)

	result, err := f.svc.Create(ctx, "a@b.com", "sub1", false)
	assert.NoError(t, err)
	assert.Equal(t, "https://pay.example/inv-1", result.PaymentLink)

	assert.Equal(t, models.StatusPending, created.Status)
	assert.Equal(t, "Hero's Journey", created.SubscriptionType)
	assert.Equal(t, f.now, created.StartDate)
	assert.Nil(t, created.EndDate)
	assert.Regexp(t, `^sub_20260901_[A-Za-z0-9]{6}$`, created.ID)

	f.repo.AssertExpectations(t)
	f.invoices.AssertExpectations(t)
	f.entitlements.AssertExpectations(t)
}

func TestCreate_RejectsMissingFields(t *testing.T) {
	f := newLifecycleFixture()

	_, err := f.svc.Create(context.Background(), "", "sub1", false)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Create(context.Background(), "a@b.com", "", false)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreate_ConflictBeforeGatewayCall(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	holder := &models.Subscription{ID: "sub_x", Email: "a@b.com", Status: models.StatusActive}
	f.repo.On("GetAccessHolder", ctx, "a@b.com").Return(holder, nil)

	_, err := f.svc.Create(ctx, "a@b.com", "sub1", false)
	assert.ErrorIs(t, err, ErrSubscriptionConflict)

	// The gateway must never see a request that was doomed locally.
	f.invoices.AssertNotCalled(t, "CreateInvoice", mock.Anything, mock.Anything)
	f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreate_CancelledRecordAlsoConflicts(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	holder := &models.Subscription{ID: "sub_x", Email: "a@b.com", Status: models.StatusCancelled}
	f.repo.On("GetAccessHolder", ctx, "a@b.com").Return(holder, nil)

	_, err := f.svc.Create(ctx, "a@b.com", "sub1", false)
	assert.ErrorIs(t, err, ErrSubscriptionConflict)
}

func TestCreate_UnknownOffer(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	f.repo.On("GetAccessHolder", ctx, "a@b.com").Return(nil, repositories.ErrNotFound)
	f.catalog.On("GetOffer", ctx, "nope").Return(nil, repositories.ErrNotFound)

	_, err := f.svc.Create(ctx, "a@b.com", "nope", false)
	assert.ErrorIs(t, err, ErrOfferNotFound)
}

func TestCreate_CleanupPendingFlag(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	f.repo.On("DeletePendingByEmail", ctx, "a@b.com").Return(int64(2), nil)
	f.repo.On("GetAccessHolder", ctx, "a@b.com").Return(nil, repositories.ErrNotFound)
	f.catalog.On("GetOffer", ctx, "sub1").Return(heroOffer(), nil)
	f.repo.On("Create", ctx, mock.Anything).Return(nil)
	f.entitlements.On("SyncForPlan", ctx, "a@b.com", "Hero's Journey").Return()
	f.invoices.On("CreateInvoice", ctx, mock.Anything).Return(&Invoice{ID: "inv-1", InvoiceURL: "https://pay.example/inv-1"}, nil)

	_, err := f.svc.Create(ctx, "a@b.com", "sub1", true)
	assert.NoError(t, err)
	f.repo.AssertCalled(t, "DeletePendingByEmail", ctx, "a@b.com")
}

func TestCreate_CompensatesOnGatewayFailure(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	f.repo.On("GetAccessHolder", ctx, "a@b.com").Return(nil, repositories.ErrNotFound)
	f.catalog.On("GetOffer", ctx, "sub1").Return(heroOffer(), nil)

	var created *models.Subscription
	f.repo.On("Create", ctx, mock.Anything).Run(func(args mock.Arguments) {
		created = args.Get(1).(*models.Subscription)
	}).Return(nil)
	f.entitlements.On("SyncForPlan", ctx, "a@b.com", "Hero's Journey").Return()

	gwErr := &GatewayError{StatusCode: 400, Body: `{"message":"invalid api key"}`}
	f.invoices.On("CreateInvoice", ctx, mock.Anything).Return(nil, gwErr)
	f.repo.On("Delete", ctx, mock.AnythingOfType("string")).Return(nil)

	_, err := f.svc.Create(ctx, "a@b.com", "sub1", false)

	var got *GatewayError
	assert.ErrorAs(t, err, &got)
	assert.Equal(t, 400, got.StatusCode)
	f.repo.AssertCalled(t, "Delete", ctx, created.ID)
}

func TestCreate_RetriesOnIDCollision(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	f.repo.On("GetAccessHolder", ctx, "a@b.com").Return(nil, repositories.ErrNotFound)
	f.catalog.On("GetOffer", ctx, "sub1").Return(heroOffer(), nil)

	var ids []string
	f.repo.On("Create", ctx, mock.Anything).Run(func(args mock.Arguments) {
		ids = append(ids, args.Get(1).(*models.Subscription).ID)
	}).Return(repositories.ErrDuplicate).Once()
	f.repo.On("Create", ctx, mock.Anything).Run(func(args mock.Arguments) {
		ids = append(ids, args.Get(1).(*models.Subscription).ID)
	}).Return(nil).Once()
	f.entitlements.On("SyncForPlan", ctx, "a@b.com", "Hero's Journey").Return()
	f.invoices.On("CreateInvoice", ctx, mock.Anything).Return(&Invoice{ID: "inv-1", InvoiceURL: "https://pay.example/inv-1"}, nil)

	_, err := f.svc.Create(ctx, "a@b.com", "sub1", false)
	assert.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
}

func TestCreate_FallsBackToUUIDAfterCollisions(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	f.repo.On("GetAccessHolder", ctx, "a@b.com").Return(nil, repositories.ErrNotFound)
	f.catalog.On("GetOffer", ctx, "sub1").Return(heroOffer(), nil)

	f.repo.On("Create", ctx, mock.Anything).Return(repositories.ErrDuplicate).Times(10)
	var fallbackID string
	f.repo.On("Create", ctx, mock.Anything).Run(func(args mock.Arguments) {
		fallbackID = args.Get(1).(*models.Subscription).ID
	}).Return(nil).Once()
	f.entitlements.On("SyncForPlan", ctx, "a@b.com", "Hero's Journey").Return()
	f.invoices.On("CreateInvoice", ctx, mock.Anything).Return(&Invoice{ID: "inv-1", InvoiceURL: "https://pay.example/inv-1"}, nil)

	_, err := f.svc.Create(ctx, "a@b.com", "sub1", false)
	assert.NoError(t, err)
	// The fallback format is distinguishable from the 6-char suffix.
	assert.Regexp(t, `^sub_20260901_[0-9a-f-]{36}$`, fallbackID)
}

func TestHandleCallback_PaidActivatesPending(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	sub := &models.Subscription{
		ID:               "sub_20260901_abc123",
		Email:            "a@b.com",
		SubscriptionType: "Hero's Journey",
		Status:           models.StatusPending,
		Duration:         models.Duration{Magnitude: 1, Unit: models.UnitMonth},
		SubscribedAt:     f.now.Add(-time.Hour),
		StartDate:        f.now.Add(-time.Hour),
	}
	f.repo.On("GetByID", ctx, "sub_20260901_abc123").Return(sub, nil)
	f.repo.On("Update", ctx, sub).Return(nil)
	f.entitlements.On("SyncForPlan", ctx, "a@b.com", "Hero's Journey").Return()

	result, err := f.svc.HandleCallback(ctx, &CallbackEvent{
		EventID:    "evt-1",
		Status:     "PAID",
		PaidAmount: 250,
		ExternalID: "subscription-sub_20260901_abc123",
	})
	assert.NoError(t, err)
	assert.Equal(t, OutcomeActivated, result.Outcome)
	assert.Equal(t, models.StatusActive, sub.Status)
	// Effective start is payment time, not invoice-creation time.
	assert.Equal(t, f.now, sub.StartDate)
	assert.Equal(t, f.now.AddDate(0, 1, 0), *sub.EndDate)

	f.entitlements.AssertExpectations(t)
}

func TestHandleCallback_PaidRedeliveryIsIdempotent(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	start := f.now.Add(-24 * time.Hour)
	end := start.AddDate(0, 1, 0)
	sub := &models.Subscription{
		ID:               "sub_20260901_abc123",
		Email:            "a@b.com",
		SubscriptionType: "Hero's Journey",
		Status:           models.StatusActive,
		Duration:         models.Duration{Magnitude: 1, Unit: models.UnitMonth},
		StartDate:        start,
		EndDate:          &end,
	}
	f.repo.On("GetByID", ctx, "sub_20260901_abc123").Return(sub, nil)
	f.repo.On("Update", ctx, sub).Return(nil)
	f.entitlements.On("SyncForPlan", ctx, "a@b.com", "Hero's Journey").Return()

	result, err := f.svc.HandleCallback(ctx, &CallbackEvent{
		EventID:    "evt-1",
		Status:     "PAID",
		ExternalID: "subscription-sub_20260901_abc123",
	})
	assert.NoError(t, err)
	assert.Equal(t, OutcomeActivated, result.Outcome)
	// Recomputed from the stored start date: unchanged, never extended.
	assert.Equal(t, start, sub.StartDate)
	assert.Equal(t, end, *sub.EndDate)
}

func TestHandleCallback_SettledTreatedAsPaid(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	sub := &models.Subscription{
		ID:               "sub_20260901_abc123",
		Email:            "a@b.com",
		SubscriptionType: "Hero's Journey",
		Status:           models.StatusPending,
		Duration:         models.Duration{Magnitude: 1, Unit: models.UnitMonth},
	}
	f.repo.On("GetByID", ctx, "sub_20260901_abc123").Return(sub, nil)
	f.repo.On("Update", ctx, sub).Return(nil)
	f.entitlements.On("SyncForPlan", ctx, "a@b.com", "Hero's Journey").Return()

	result, err := f.svc.HandleCallback(ctx, &CallbackEvent{
		Status:     "SETTLED",
		ExternalID: "subscription-sub_20260901_abc123",
	})
	assert.NoError(t, err)
	assert.Equal(t, OutcomeActivated, result.Outcome)
}

func TestHandleCallback_ExpiredDeletesAndReverts(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	sub := &models.Subscription{
		ID:     "sub_20260901_abc123",
		Email:  "a@b.com",
		Status: models.StatusPending,
	}
	f.repo.On("GetByID", ctx, "sub_20260901_abc123").Return(sub, nil)
	f.repo.On("Delete", ctx, "sub_20260901_abc123").Return(nil)
	f.entitlements.On("Revert", ctx, "a@b.com").Return()

	result, err := f.svc.HandleCallback(ctx, &CallbackEvent{
		Status:     "EXPIRED",
		ExternalID: "subscription-sub_20260901_abc123",
	})
	assert.NoError(t, err)
	assert.Equal(t, OutcomeDeleted, result.Outcome)
	f.entitlements.AssertCalled(t, "Revert", ctx, "a@b.com")
}

func TestHandleCallback_RequiresActionPassesPayloadThrough(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	sub := &models.Subscription{ID: "sub_20260901_abc123", Status: models.StatusPending}
	f.repo.On("GetByID", ctx, "sub_20260901_abc123").Return(sub, nil)

	actions := map[string]any{"redirect_url": "https://3ds.example/challenge"}
	result, err := f.svc.HandleCallback(ctx, &CallbackEvent{
		Status:     "REQUIRES_ACTION",
		ExternalID: "subscription-sub_20260901_abc123",
		Actions:    actions,
	})
	assert.NoError(t, err)
	assert.Equal(t, OutcomeActionRequired, result.Outcome)
	assert.Equal(t, actions, result.Actions)
	f.repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestHandleCallback_UnknownStatusAcknowledged(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	sub := &models.Subscription{ID: "sub_20260901_abc123", Status: models.StatusPending}
	f.repo.On("GetByID", ctx, "sub_20260901_abc123").Return(sub, nil)

	result, err := f.svc.HandleCallback(ctx, &CallbackEvent{
		Status:     "PENDING",
		ExternalID: "subscription-sub_20260901_abc123",
	})
	assert.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, result.Outcome)
	f.repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestHandleCallback_PaidForCancelledRecordIgnored(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	end := f.now.AddDate(0, 1, 0)
	sub := &models.Subscription{
		ID:       "sub_20260901_abc123",
		Status:   models.StatusCancelled,
		Duration: models.Duration{Magnitude: 1, Unit: models.UnitMonth},
		EndDate:  &end,
	}
	f.repo.On("GetByID", ctx, "sub_20260901_abc123").Return(sub, nil)

	result, err := f.svc.HandleCallback(ctx, &CallbackEvent{
		Status:     "PAID",
		ExternalID: "subscription-sub_20260901_abc123",
	})
	assert.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, result.Outcome)
	assert.Equal(t, models.StatusCancelled, sub.Status)
}

func TestHandleCallback_UnknownRecord(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	f.repo.On("GetByID", ctx, "sub_gone").Return(nil, repositories.ErrNotFound)

	_, err := f.svc.HandleCallback(ctx, &CallbackEvent{
		Status:     "PAID",
		ExternalID: "subscription-sub_gone",
	})
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestHandleCallback_ForeignExternalIDRejected(t *testing.T) {
	f := newLifecycleFixture()

	// A coin-purchase payment sharing the webhook endpoint must not be
	// mistaken for a subscription payment.
	_, err := f.svc.HandleCallback(context.Background(), &CallbackEvent{
		Status:     "PAID",
		ExternalID: "coins-order-42",
	})
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	f.repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestUnsubscribe_ActiveKeepsEndDate(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	end := f.now.AddDate(0, 1, 0)
	sub := &models.Subscription{
		ID:      "sub_20260901_abc123",
		Email:   "a@b.com",
		Status:  models.StatusActive,
		EndDate: &end,
	}
	f.repo.On("GetByEmailAndID", ctx, "a@b.com", "sub_20260901_abc123").Return(sub, nil)
	f.repo.On("Update", ctx, sub).Return(nil)

	got, err := f.svc.Unsubscribe(ctx, "a@b.com", "sub_20260901_abc123")
	assert.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, end, *got.EndDate)
}

func TestUnsubscribe_PendingRejected(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	sub := &models.Subscription{ID: "sub_x", Email: "a@b.com", Status: models.StatusPending}
	f.repo.On("GetByEmailAndID", ctx, "a@b.com", "sub_x").Return(sub, nil)

	_, err := f.svc.Unsubscribe(ctx, "a@b.com", "sub_x")
	assert.ErrorIs(t, err, ErrNotActive)
	f.repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestUnsubscribe_AlreadyCancelled(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	sub := &models.Subscription{ID: "sub_x", Email: "a@b.com", Status: models.StatusCancelled}
	f.repo.On("GetByEmailAndID", ctx, "a@b.com", "sub_x").Return(sub, nil)

	_, err := f.svc.Unsubscribe(ctx, "a@b.com", "sub_x")
	assert.ErrorIs(t, err, ErrAlreadyCancelled)
}

func TestUnsubscribe_NotFound(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	f.repo.On("GetByEmailAndID", ctx, "a@b.com", "sub_x").Return(nil, repositories.ErrNotFound)

	_, err := f.svc.Unsubscribe(ctx, "a@b.com", "sub_x")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestExpire_PastEndDateRevertsWhenNoNewer(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	end := f.now.Add(-time.Hour)
	sub := &models.Subscription{
		ID:           "sub_x",
		Email:        "a@b.com",
		Status:       models.StatusActive,
		SubscribedAt: f.now.Add(-31 * 24 * time.Hour),
		EndDate:      &end,
	}
	f.repo.On("GetByEmailAndID", ctx, "a@b.com", "sub_x").Return(sub, nil)
	f.repo.On("Update", ctx, sub).Return(nil)
	f.repo.On("HasNewerActive", ctx, "a@b.com", sub.SubscribedAt).Return(false, nil)
	f.entitlements.On("Revert", ctx, "a@b.com").Return()

	result, err := f.svc.Expire(ctx, "a@b.com", "sub_x")
	assert.NoError(t, err)
	assert.True(t, result.Expired)
	assert.Equal(t, models.StatusInactive, sub.Status)
	f.entitlements.AssertCalled(t, "Revert", ctx, "a@b.com")
}

func TestExpire_KeepsEntitlementWithNewerActive(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	end := f.now.Add(-time.Hour)
	sub := &models.Subscription{
		ID:           "sub_x",
		Email:        "a@b.com",
		Status:       models.StatusActive,
		SubscribedAt: f.now.Add(-31 * 24 * time.Hour),
		EndDate:      &end,
	}
	f.repo.On("GetByEmailAndID", ctx, "a@b.com", "sub_x").Return(sub, nil)
	f.repo.On("Update", ctx, sub).Return(nil)
	f.repo.On("HasNewerActive", ctx, "a@b.com", sub.SubscribedAt).Return(true, nil)

	result, err := f.svc.Expire(ctx, "a@b.com", "sub_x")
	assert.NoError(t, err)
	assert.True(t, result.Expired)
	// The user started a newer overlapping subscription; their model stays.
	f.entitlements.AssertNotCalled(t, "Revert", mock.Anything, mock.Anything)
}

func TestExpire_NotYetDueIsNoOp(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	end := f.now.Add(time.Hour)
	sub := &models.Subscription{
		ID:      "sub_x",
		Email:   "a@b.com",
		Status:  models.StatusActive,
		EndDate: &end,
	}
	f.repo.On("GetByEmailAndID", ctx, "a@b.com", "sub_x").Return(sub, nil)

	result, err := f.svc.Expire(ctx, "a@b.com", "sub_x")
	assert.NoError(t, err)
	assert.False(t, result.Expired)
	assert.Equal(t, models.StatusActive, sub.Status)
	f.repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestExpire_StripsExternalIDPrefix(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	end := f.now.Add(time.Hour)
	sub := &models.Subscription{ID: "sub_x", Email: "a@b.com", Status: models.StatusActive, EndDate: &end}
	f.repo.On("GetByEmailAndID", ctx, "a@b.com", "sub_x").Return(sub, nil)

	_, err := f.svc.Expire(ctx, "a@b.com", "subscription-sub_x")
	assert.NoError(t, err)
	f.repo.AssertCalled(t, "GetByEmailAndID", ctx, "a@b.com", "sub_x")
}

func TestListForEmail_CleansStalePendingFirst(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	cutoff := f.now.Add(-24 * time.Hour)
	f.repo.On("DeleteStalePending", ctx, "a@b.com", cutoff).Return(int64(1), nil)
	f.repo.On("ListByEmail", ctx, "a@b.com").Return([]*models.Subscription{}, nil)

	_, err := f.svc.ListForEmail(ctx, "a@b.com")
	assert.NoError(t, err)
	f.repo.AssertCalled(t, "DeleteStalePending", ctx, "a@b.com", cutoff)
}

func TestListForEmail_CleanupFailureDoesNotBlockListing(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	f.repo.On("DeleteStalePending", ctx, "a@b.com", mock.Anything).Return(int64(0), errors.New("db down"))
	subs := []*models.Subscription{{ID: "sub_x", Email: "a@b.com", Status: models.StatusInactive}}
	f.repo.On("ListByEmail", ctx, "a@b.com").Return(subs, nil)

	got, err := f.svc.ListForEmail(ctx, "a@b.com")
	assert.NoError(t, err)
	assert.Equal(t, subs, got)
}
