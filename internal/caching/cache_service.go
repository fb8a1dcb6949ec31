package caching

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"talecraft/internal/models"

	"github.com/redis/go-redis/v9"
)

type CacheService interface {
	// Offer catalog caching
	GetOffers(ctx context.Context) ([]*models.Offer, error)
	SetOffers(ctx context.Context, offers []*models.Offer, ttl time.Duration) error
	GetOffer(ctx context.Context, offerID string) (*models.Offer, error)
	SetOffer(ctx context.Context, offer *models.Offer, ttl time.Duration) error
	InvalidateOffers(ctx context.Context) error

	// Webhook event markers. MarkWebhookEvent records a gateway event id once
	// the event has been fully processed; WebhookEventProcessed checks for the
	// marker. This is a fast-path dedupe only: callback processing stays
	// idempotent without it.
	WebhookEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkWebhookEvent(ctx context.Context, eventID string, ttl time.Duration) error

	Ping(ctx context.Context) error
}

type redisCacheService struct {
	client *redis.Client
}

func NewRedisCacheService(addr, password string, db int) CacheService {
	// Accept redis://host:port URLs as well as bare host:port
	parsedAddr := addr
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		if hostPort := strings.TrimPrefix(strings.TrimPrefix(addr, "redis://"), "rediss://"); hostPort != addr {
			parsedAddr = hostPort
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     parsedAddr,
		Password: password,
		DB:       db,
	})

	if pingErr := client.Ping(context.Background()).Err(); pingErr != nil {
		log.Printf("WARN: Redis ping failed on initialization: %v (address: %s)", pingErr, parsedAddr)
	}

	return &redisCacheService{client: client}
}

const (
	offersKey       = "talecraft:offers"
	offerKeyFmt     = "talecraft:offer:%s"
	webhookEventFmt = "talecraft:webhook:event:%s"
)

func (r *redisCacheService) GetOffers(ctx context.Context) ([]*models.Offer, error) {
	data, err := r.client.Get(ctx, offersKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // cache miss
		}
		return nil, err
	}

	var offers []*models.Offer
	if err := json.Unmarshal(data, &offers); err != nil {
		return nil, err
	}
	return offers, nil
}

func (r *redisCacheService) SetOffers(ctx context.Context, offers []*models.Offer, ttl time.Duration) error {
	data, err := json.Marshal(offers)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, offersKey, data, ttl).Err()
}

func (r *redisCacheService) GetOffer(ctx context.Context, offerID string) (*models.Offer, error) {
	data, err := r.client.Get(ctx, fmt.Sprintf(offerKeyFmt, offerID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // cache miss
		}
		return nil, err
	}

	var offer models.Offer
	if err := json.Unmarshal(data, &offer); err != nil {
		return nil, err
	}
	return &offer, nil
}

func (r *redisCacheService) SetOffer(ctx context.Context, offer *models.Offer, ttl time.Duration) error {
	data, err := json.Marshal(offer)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, fmt.Sprintf(offerKeyFmt, offer.OfferID), data, ttl).Err()
}

func (r *redisCacheService) InvalidateOffers(ctx context.Context) error {
	keys, err := r.client.Keys(ctx, "talecraft:offer*").Result()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *redisCacheService) WebhookEventProcessed(ctx context.Context, eventID string) (bool, error) {
	n, err := r.client.Exists(ctx, fmt.Sprintf(webhookEventFmt, eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *redisCacheService) MarkWebhookEvent(ctx context.Context, eventID string, ttl time.Duration) error {
	return r.client.Set(ctx, fmt.Sprintf(webhookEventFmt, eventID), "1", ttl).Err()
}

func (r *redisCacheService) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
