package services

import (
	"context"
	"log"
	"time"

	"talecraft/internal/caching"
	"talecraft/internal/models"
	"talecraft/internal/repositories"
)

const offerCacheTTL = 10 * time.Minute

// CatalogService reads the offer catalog through a cache. Offers change
// rarely, so cache staleness is bounded by a short TTL rather than
// invalidation hooks.
type CatalogService interface {
	ListOffers(ctx context.Context) ([]*models.Offer, error)
	GetOffer(ctx context.Context, offerID string) (*models.Offer, error)
	// RefreshOffers drops the cached catalog so the next read hits the
	// database. Offers are edited out of band; this is the hook for making an
	// edit visible before the TTL runs out.
	RefreshOffers(ctx context.Context) error
}

type catalogService struct {
	offerRepo repositories.OfferRepository
	cacheSvc  caching.CacheService
}

func NewCatalogService(offerRepo repositories.OfferRepository, cacheSvc caching.CacheService) CatalogService {
	return &catalogService{
		offerRepo: offerRepo,
		cacheSvc:  cacheSvc,
	}
}

func (s *catalogService) ListOffers(ctx context.Context) ([]*models.Offer, error) {
	if offers, err := s.cacheSvc.GetOffers(ctx); err == nil && offers != nil {
		return offers, nil
	}

	offers, err := s.offerRepo.List(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.cacheSvc.SetOffers(ctx, offers, offerCacheTTL); err != nil {
		log.Printf("failed to cache offers: %v", err)
	}
	return offers, nil
}

func (s *catalogService) GetOffer(ctx context.Context, offerID string) (*models.Offer, error) {
	if offer, err := s.cacheSvc.GetOffer(ctx, offerID); err == nil && offer != nil {
		return offer, nil
	}

	offer, err := s.offerRepo.GetByID(ctx, offerID)
	if err != nil {
		return nil, err
	}

	if err := s.cacheSvc.SetOffer(ctx, offer, offerCacheTTL); err != nil {
		log.Printf("failed to cache offer %s: %v", offerID, err)
	}
	return offer, nil
}

func (s *catalogService) RefreshOffers(ctx context.Context) error {
	return s.cacheSvc.InvalidateOffers(ctx)
}
