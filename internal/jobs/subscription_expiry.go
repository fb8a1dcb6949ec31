package jobs

import (
	"context"
	"log"
	"time"

	"talecraft/internal/repositories"
	"talecraft/internal/services"
)

// stalePendingAge matches the lifecycle manager's threshold for abandoned
// checkouts.
const stalePendingAge = 24 * time.Hour

// SubscriptionExpiryService runs the scheduled maintenance over subscription
// records: flipping lapsed subscriptions to inactive and deleting abandoned
// pending checkouts. Both passes are safe to run concurrently with user
// actions and webhook deliveries; they only ever move records forward.
type SubscriptionExpiryService struct {
	subscriptionRepo repositories.SubscriptionRepository
	entitlements     services.EntitlementService
	now              func() time.Time
}

func NewSubscriptionExpiryService(subscriptionRepo repositories.SubscriptionRepository, entitlements services.EntitlementService) *SubscriptionExpiryService {
	return &SubscriptionExpiryService{
		subscriptionRepo: subscriptionRepo,
		entitlements:     entitlements,
		now:              time.Now,
	}
}

// CheckForExpiredSubscriptions bulk-expires every active or cancelled record
// past its end date, in a single conditional update so concurrent runs cannot
// half-apply. Users whose last qualifying record just expired are reverted to
// the free-tier model; a user holding another still-valid subscription keeps
// their entitlement.
func (s *SubscriptionExpiryService) CheckForExpiredSubscriptions(ctx context.Context) (int, error) {
	expired, err := s.subscriptionRepo.ExpireDue(ctx, s.now())
	if err != nil {
		log.Printf("expiry sweep: failed to expire due subscriptions: %v", err)
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	emails := make(map[string]struct{}, len(expired))
	for _, sub := range expired {
		emails[sub.Email] = struct{}{}
	}

	for email := range emails {
		hasAccess, err := s.subscriptionRepo.HasAccess(ctx, email)
		if err != nil {
			log.Printf("expiry sweep: failed to check remaining access for %s: %v", email, err)
			continue
		}
		if !hasAccess {
			s.entitlements.Revert(ctx, email)
		}
	}

	log.Printf("expiry sweep: marked %d subscriptions inactive across %d users", len(expired), len(emails))
	return len(expired), nil
}

// CleanupStalePending deletes pending records older than the stale threshold
// across all users. Checkout attempts younger than the threshold are left
// alone: the gateway may still call back for them.
func (s *SubscriptionExpiryService) CleanupStalePending(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-stalePendingAge)
	deleted, err := s.subscriptionRepo.DeleteStalePendingBefore(ctx, cutoff)
	if err != nil {
		log.Printf("stale pending cleanup failed: %v", err)
		return 0, err
	}
	if deleted > 0 {
		log.Printf("stale pending cleanup: removed %d abandoned checkouts", deleted)
	}
	return deleted, nil
}
