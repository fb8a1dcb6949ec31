package services

import (
	"context"
	"errors"
	"log"

	"talecraft/internal/repositories"
)

// EntitlementService projects subscription state onto the user's AI-model
// entitlement. The projection is best effort: a subscription record stays
// valid even when the matching user row is missing, so sync failures are
// logged and swallowed rather than surfaced to callers.
type EntitlementService interface {
	ModelFor(subscriptionType string) string
	SyncForPlan(ctx context.Context, email, subscriptionType string)
	Revert(ctx context.Context, email string)
}

// EntitlementConfig maps plan names to AI model identifiers. The mapping and
// the default are injected so deployments can reconfigure plans without a code
// change and tests can substitute fakes.
type EntitlementConfig struct {
	PlanModels   map[string]string
	DefaultModel string
}

type entitlementService struct {
	userRepo repositories.UserRepository
	config   EntitlementConfig
}

func NewEntitlementService(userRepo repositories.UserRepository, config EntitlementConfig) EntitlementService {
	return &entitlementService{
		userRepo: userRepo,
		config:   config,
	}
}

// ModelFor resolves a plan name to the AI model it entitles. Unknown or free
// plans resolve to the default model.
func (s *entitlementService) ModelFor(subscriptionType string) string {
	if model, ok := s.config.PlanModels[subscriptionType]; ok {
		return model
	}
	return s.config.DefaultModel
}

func (s *entitlementService) SyncForPlan(ctx context.Context, email, subscriptionType string) {
	s.write(ctx, email, s.ModelFor(subscriptionType))
}

// Revert resets the user back to the free-tier model.
func (s *entitlementService) Revert(ctx context.Context, email string) {
	s.write(ctx, email, s.config.DefaultModel)
}

func (s *entitlementService) write(ctx context.Context, email, model string) {
	err := s.userRepo.UpdateModel(ctx, email, model)
	if err == nil {
		return
	}
	if errors.Is(err, repositories.ErrNotFound) {
		log.Printf("entitlement sync: no user found for %s, skipping model update", email)
		return
	}
	log.Printf("entitlement sync: failed to set model %s for %s: %v", model, email, err)
}
