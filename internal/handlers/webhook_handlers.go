package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"talecraft/internal/caching"
	"talecraft/internal/services"

	"github.com/labstack/echo/v4"
)

const maxWebhookBodyBytes = 65536

const webhookEventMarkerTTL = 72 * time.Hour

// WebhookHandlers handles payment gateway callbacks. The gateway delivers
// events at least once and retries anything that is not acknowledged with a
// 2xx, so every branch except malformed input and unknown records must answer
// success, and internal failures must answer 5xx so the retry happens.
type WebhookHandlers struct {
	subscriptionSvc services.SubscriptionService
	cacheSvc        caching.CacheService
	callbackToken   string
}

// NewWebhookHandlers creates a new webhook handlers instance
func NewWebhookHandlers(subscriptionSvc services.SubscriptionService, cacheSvc caching.CacheService, callbackToken string) *WebhookHandlers {
	return &WebhookHandlers{
		subscriptionSvc: subscriptionSvc,
		cacheSvc:        cacheSvc,
		callbackToken:   callbackToken,
	}
}

type webhookPayload struct {
	ID         string         `json:"id"`
	Status     string         `json:"status"`
	PaidAmount float64        `json:"paid_amount"`
	ExternalID string         `json:"external_id"`
	Actions    map[string]any `json:"actions"`
}

// PaymentCallback handles POST /webhooks/payments
func (h *WebhookHandlers) PaymentCallback(c echo.Context) error {
	token := c.Request().Header.Get("x-callback-token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.callbackToken)) != 1 {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid callback token")
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBodyBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to read request body")
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid webhook payload")
	}
	if payload.ID == "" || payload.ExternalID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Webhook payload missing id or external_id")
	}

	// Fast-path dedupe on the gateway event id. A marker exists only for
	// events that finished processing, so hitting one means this delivery is
	// a pure replay. Processing is idempotent either way, so a cache failure
	// here is only logged.
	processed, err := h.cacheSvc.WebhookEventProcessed(c.Request().Context(), payload.ID)
	if err != nil {
		log.Printf("webhook: failed to check event marker %s: %v", payload.ID, err)
	} else if processed {
		return c.JSON(http.StatusOK, map[string]string{
			"message": "Event already processed",
		})
	}

	result, err := h.subscriptionSvc.HandleCallback(c.Request().Context(), &services.CallbackEvent{
		EventID:    payload.ID,
		Status:     payload.Status,
		PaidAmount: payload.PaidAmount,
		ExternalID: payload.ExternalID,
		Actions:    payload.Actions,
	})
	if err != nil {
		if errors.Is(err, services.ErrSubscriptionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "No subscription matches this payment")
		}
		log.Printf("webhook: failed to process event %s: %v", payload.ID, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to process payment event")
	}

	// Mark only after the event is fully handled: a failure above leaves no
	// marker behind, so the gateway's retry gets a real processing attempt.
	if err := h.cacheSvc.MarkWebhookEvent(c.Request().Context(), payload.ID, webhookEventMarkerTTL); err != nil {
		log.Printf("webhook: failed to mark event %s: %v", payload.ID, err)
	}

	switch result.Outcome {
	case services.OutcomeActivated:
		return c.JSON(http.StatusOK, map[string]interface{}{
			"message":      "Subscription activated",
			"subscription": result.Subscription,
		})
	case services.OutcomeDeleted:
		return c.JSON(http.StatusOK, map[string]string{
			"message": "Subscription removed after gateway expiry",
		})
	case services.OutcomeActionRequired:
		return c.JSON(http.StatusOK, map[string]interface{}{
			"message": "Further action required",
			"actions": result.Actions,
		})
	default:
		return c.JSON(http.StatusOK, map[string]string{
			"message": "Event acknowledged",
		})
	}
}
