package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"talecraft/internal/models"
	"talecraft/internal/repositories"

	"github.com/google/uuid"
	"github.com/labstack/gommon/random"
)

// ExternalIDPrefix tags gateway invoices created for subscriptions. The
// webhook endpoint is shared with other payment types, so the prefix is how
// subscription callbacks are told apart from everything else.
const ExternalIDPrefix = "subscription-"

// stalePendingAge is how old an unpaid pending record must be before cleanup
// treats it as an abandoned checkout.
const stalePendingAge = 24 * time.Hour

const idGenAttempts = 10

var (
	ErrOfferNotFound        = errors.New("invalid offer")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrSubscriptionConflict means the email already holds an active or
	// cancelled subscription; the caller must cancel or wait it out first.
	ErrSubscriptionConflict = errors.New("an active subscription already exists for this email")
	ErrAlreadyCancelled     = errors.New("subscription is already cancelled")
	ErrNotActive            = errors.New("subscription is not active")
	ErrValidation           = errors.New("validation failed")
)

// Gateway webhook statuses.
const (
	CallbackStatusPaid           = "PAID"
	CallbackStatusSettled        = "SETTLED"
	CallbackStatusExpired        = "EXPIRED"
	CallbackStatusRequiresAction = "REQUIRES_ACTION"
)

// CallbackEvent is the parsed gateway webhook payload.
type CallbackEvent struct {
	EventID    string
	Status     string
	PaidAmount float64
	ExternalID string
	Actions    map[string]any
}

type CallbackOutcome string

const (
	OutcomeActivated      CallbackOutcome = "activated"
	OutcomeDeleted        CallbackOutcome = "deleted"
	OutcomeActionRequired CallbackOutcome = "action_required"
	OutcomeIgnored        CallbackOutcome = "ignored"
)

type CallbackResult struct {
	Outcome      CallbackOutcome
	Subscription *models.Subscription
	Actions      map[string]any
}

type CreateResult struct {
	Subscription *models.Subscription
	PaymentLink  string
}

type ExpireResult struct {
	Expired      bool
	Subscription *models.Subscription
}

// SubscriptionService is the subscription lifecycle manager: it creates
// pending records against the offer catalog, activates them from gateway
// callbacks, handles user cancellation and expiry, and keeps the user's
// AI-model entitlement in sync with subscription state.
type SubscriptionService interface {
	Create(ctx context.Context, email, offerID string, cleanupPending bool) (*CreateResult, error)
	HandleCallback(ctx context.Context, event *CallbackEvent) (*CallbackResult, error)
	Unsubscribe(ctx context.Context, email, subscriptionID string) (*models.Subscription, error)
	Expire(ctx context.Context, email, subscriptionID string) (*ExpireResult, error)
	ListForEmail(ctx context.Context, email string) ([]*models.Subscription, error)
	CleanupStalePending(ctx context.Context, email string) (int64, error)
}

type subscriptionService struct {
	subscriptionRepo repositories.SubscriptionRepository
	catalog          CatalogService
	invoiceSvc       InvoiceService
	entitlements     EntitlementService
	successURL       string
	failureURL       string
	currency         string
	now              func() time.Time
}

func NewSubscriptionService(
	subscriptionRepo repositories.SubscriptionRepository,
	catalog CatalogService,
	invoiceSvc InvoiceService,
	entitlements EntitlementService,
	successURL, failureURL, currency string,
) SubscriptionService {
	return &subscriptionService{
		subscriptionRepo: subscriptionRepo,
		catalog:          catalog,
		invoiceSvc:       invoiceSvc,
		entitlements:     entitlements,
		successURL:       successURL,
		failureURL:       failureURL,
		currency:         currency,
		now:              time.Now,
	}
}

// Create reserves a pending subscription record and opens a hosted invoice for
// it. The conflict check runs before any gateway call so a rejected request
// never leaves an orphaned invoice on the gateway side, and the pending record
// is deleted again if invoice creation definitively fails.
func (s *subscriptionService) Create(ctx context.Context, email, offerID string, cleanupPending bool) (*CreateResult, error) {
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrValidation)
	}
	if offerID == "" {
		return nil, fmt.Errorf("%w: offer id is required", ErrValidation)
	}

	// Lets a user abandon an incomplete checkout and retry cleanly.
	if cleanupPending {
		if _, err := s.subscriptionRepo.DeletePendingByEmail(ctx, email); err != nil {
			return nil, fmt.Errorf("failed to clean up pending subscriptions: %w", err)
		}
	}

	if _, err := s.subscriptionRepo.GetAccessHolder(ctx, email); err == nil {
		return nil, ErrSubscriptionConflict
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing subscriptions: %w", err)
	}

	offer, err := s.catalog.GetOffer(ctx, offerID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrOfferNotFound
		}
		return nil, fmt.Errorf("failed to look up offer: %w", err)
	}

	now := s.now()
	sub := &models.Subscription{
		Email:            email,
		SubscriptionType: offer.OfferName,
		Status:           models.StatusPending,
		Duration:         offer.Duration,
		SubscribedAt:     now,
		StartDate:        now,
		EndDate:          nil,
	}
	if err := s.insertWithFreshID(ctx, sub); err != nil {
		return nil, err
	}

	// Optimistic upgrade: the user gets the plan's model right away instead of
	// waiting for the payment to confirm. Intentionally not reverted if the
	// invoice below fails.
	s.entitlements.SyncForPlan(ctx, email, offer.OfferName)

	invoice, err := s.invoiceSvc.CreateInvoice(ctx, &CreateInvoiceRequest{
		ExternalID:         ExternalIDPrefix + sub.ID,
		Amount:             offer.Price,
		PayerEmail:         email,
		Description:        fmt.Sprintf("Subscription: %s (%s)", offer.OfferName, offer.Duration),
		SuccessRedirectURL: s.successURL,
		FailureRedirectURL: s.failureURL,
		Currency:           s.currency,
	})
	if err != nil {
		// Compensate so the failed attempt doesn't linger as a pending record
		// until stale cleanup catches it a day later.
		if delErr := s.subscriptionRepo.Delete(ctx, sub.ID); delErr != nil {
			log.Printf("failed to delete subscription %s after invoice failure: %v", sub.ID, delErr)
		}
		return nil, err
	}

	return &CreateResult{Subscription: sub, PaymentLink: invoice.InvoiceURL}, nil
}

// insertWithFreshID generates subscription IDs until one inserts cleanly.
// Collisions on the 6-char suffix are vanishingly rare, so after a bounded
// number of attempts the generator falls back to a UUID suffix, which is
// distinguishable in the stored data and cannot collide again in practice.
func (s *subscriptionService) insertWithFreshID(ctx context.Context, sub *models.Subscription) error {
	date := s.now().Format("20060102")
	for i := 0; i < idGenAttempts; i++ {
		sub.ID = fmt.Sprintf("sub_%s_%s", date, random.String(6, random.Alphanumeric))
		err := s.subscriptionRepo.Create(ctx, sub)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repositories.ErrDuplicate) {
			return fmt.Errorf("failed to create subscription: %w", err)
		}
	}

	sub.ID = fmt.Sprintf("sub_%s_%s", date, uuid.NewString())
	if err := s.subscriptionRepo.Create(ctx, sub); err != nil {
		return fmt.Errorf("failed to create subscription after id collisions: %w", err)
	}
	return nil
}

// HandleCallback processes a gateway webhook. Delivery is at least once and
// possibly out of order, so every branch must tolerate replays: activation
// recomputes the end date from the stored start date rather than extending it,
// which makes a redelivered PAID event a no-op.
func (s *subscriptionService) HandleCallback(ctx context.Context, event *CallbackEvent) (*CallbackResult, error) {
	if !strings.HasPrefix(event.ExternalID, ExternalIDPrefix) {
		return nil, ErrSubscriptionNotFound
	}
	id := strings.TrimPrefix(event.ExternalID, ExternalIDPrefix)

	sub, err := s.subscriptionRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to look up subscription %s: %w", id, err)
	}

	switch event.Status {
	case CallbackStatusPaid, CallbackStatusSettled:
		return s.activate(ctx, sub)

	case CallbackStatusExpired:
		// The gateway pre-emptively expired the invoice. Distinct from the
		// period lapsing: the record is removed outright.
		if err := s.subscriptionRepo.Delete(ctx, sub.ID); err != nil && !errors.Is(err, repositories.ErrNotFound) {
			return nil, fmt.Errorf("failed to delete expired subscription %s: %w", sub.ID, err)
		}
		s.entitlements.Revert(ctx, sub.Email)
		return &CallbackResult{Outcome: OutcomeDeleted, Subscription: sub}, nil

	case CallbackStatusRequiresAction:
		return &CallbackResult{Outcome: OutcomeActionRequired, Subscription: sub, Actions: event.Actions}, nil

	default:
		log.Printf("subscription callback: ignoring status %q for %s", event.Status, sub.ID)
		return &CallbackResult{Outcome: OutcomeIgnored, Subscription: sub}, nil
	}
}

func (s *subscriptionService) activate(ctx context.Context, sub *models.Subscription) (*CallbackResult, error) {
	switch sub.Status {
	case models.StatusPending:
		// The effective start is now, absorbing the gap between invoice
		// creation and payment.
		start := s.now()
		end := sub.Duration.AddTo(start)
		sub.Status = models.StatusActive
		sub.StartDate = start
		sub.EndDate = &end

	case models.StatusActive:
		// Replay: recompute from the stored start date. The result is
		// identical to the first delivery, never an extension.
		end := sub.Duration.AddTo(sub.StartDate)
		sub.EndDate = &end

	default:
		// A cancelled or inactive record has no reactivation path; a late
		// PAID event for one is acknowledged without a state change.
		log.Printf("subscription callback: ignoring payment for %s subscription %s", sub.Status, sub.ID)
		return &CallbackResult{Outcome: OutcomeIgnored, Subscription: sub}, nil
	}

	if err := s.subscriptionRepo.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to activate subscription %s: %w", sub.ID, err)
	}
	s.entitlements.SyncForPlan(ctx, sub.Email, sub.SubscriptionType)
	return &CallbackResult{Outcome: OutcomeActivated, Subscription: sub}, nil
}

// Unsubscribe cancels an active subscription. The end date is kept: access
// continues until the period the user paid for runs out.
func (s *subscriptionService) Unsubscribe(ctx context.Context, email, subscriptionID string) (*models.Subscription, error) {
	if email == "" || subscriptionID == "" {
		return nil, fmt.Errorf("%w: email and subscription id are required", ErrValidation)
	}

	sub, err := s.subscriptionRepo.GetByEmailAndID(ctx, email, subscriptionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to look up subscription: %w", err)
	}

	switch sub.Status {
	case models.StatusCancelled:
		return nil, ErrAlreadyCancelled
	case models.StatusActive:
	default:
		return nil, fmt.Errorf("%w: status is %s", ErrNotActive, sub.Status)
	}

	sub.Status = models.StatusCancelled
	if err := s.subscriptionRepo.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to cancel subscription %s: %w", sub.ID, err)
	}
	return sub, nil
}

// Expire checks a single active subscription on demand and flips it to
// inactive when its end date has passed. The entitlement only reverts when the
// user has not since started a newer active subscription, so an overlapping
// upgrade is never clobbered.
func (s *subscriptionService) Expire(ctx context.Context, email, subscriptionID string) (*ExpireResult, error) {
	if email == "" || subscriptionID == "" {
		return nil, fmt.Errorf("%w: email and subscription id are required", ErrValidation)
	}
	subscriptionID = strings.TrimPrefix(subscriptionID, ExternalIDPrefix)

	sub, err := s.subscriptionRepo.GetByEmailAndID(ctx, email, subscriptionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to look up subscription: %w", err)
	}
	if sub.Status != models.StatusActive {
		return nil, fmt.Errorf("%w: status is %s", ErrNotActive, sub.Status)
	}

	if !sub.IsExpiredAt(s.now()) {
		return &ExpireResult{Expired: false, Subscription: sub}, nil
	}

	sub.Status = models.StatusInactive
	if err := s.subscriptionRepo.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to expire subscription %s: %w", sub.ID, err)
	}

	newer, err := s.subscriptionRepo.HasNewerActive(ctx, email, sub.SubscribedAt)
	if err != nil {
		log.Printf("failed to check for newer subscriptions for %s: %v", email, err)
	} else if !newer {
		s.entitlements.Revert(ctx, email)
	}

	return &ExpireResult{Expired: true, Subscription: sub}, nil
}

// ListForEmail returns the email's subscription history. Stale pending records
// are cleaned up first as an explicit step; a cleanup failure is logged and
// does not block the listing.
func (s *subscriptionService) ListForEmail(ctx context.Context, email string) ([]*models.Subscription, error) {
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrValidation)
	}

	if _, err := s.CleanupStalePending(ctx, email); err != nil {
		log.Printf("stale pending cleanup failed for %s: %v", email, err)
	}

	return s.subscriptionRepo.ListByEmail(ctx, email)
}

// CleanupStalePending deletes the email's pending records older than 24 hours.
// Anything younger is a checkout that may still complete and is left alone.
func (s *subscriptionService) CleanupStalePending(ctx context.Context, email string) (int64, error) {
	if email == "" {
		return 0, fmt.Errorf("%w: email is required", ErrValidation)
	}
	cutoff := s.now().Add(-stalePendingAge)
	return s.subscriptionRepo.DeleteStalePending(ctx, email, cutoff)
}
