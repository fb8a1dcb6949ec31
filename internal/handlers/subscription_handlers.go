package handlers

import (
	"errors"
	"log"
	"net/http"

	"talecraft/internal/common"
	"talecraft/internal/services"

	"github.com/labstack/echo/v4"
)

// SubscriptionHandlers handles HTTP requests for subscriptions
type SubscriptionHandlers struct {
	subscriptionSvc services.SubscriptionService
}

// NewSubscriptionHandlers creates a new subscription handlers instance
func NewSubscriptionHandlers(subscriptionSvc services.SubscriptionService) *SubscriptionHandlers {
	return &SubscriptionHandlers{
		subscriptionSvc: subscriptionSvc,
	}
}

// CreateSubscription handles POST /subscriptions
func (h *SubscriptionHandlers) CreateSubscription(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		Email          string `json:"email"`
		OfferID        string `json:"offerId"`
		CleanupPending bool   `json:"cleanupPending"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}
	if req.Email == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Email is required")
	}
	if req.OfferID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Offer ID is required")
	}

	result, err := h.subscriptionSvc.Create(ctx, req.Email, req.OfferID, req.CleanupPending)
	if err != nil {
		return subscriptionError(err)
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"paymentLink":    result.PaymentLink,
		"subscriptionId": result.Subscription.ID,
	})
}

// ListSubscriptions handles GET /subscriptions?email=
func (h *SubscriptionHandlers) ListSubscriptions(c echo.Context) error {
	ctx := c.Request().Context()

	email := c.QueryParam("email")
	if email == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Email is required")
	}

	subs, err := h.subscriptionSvc.ListForEmail(ctx, email)
	if err != nil {
		return subscriptionError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"subscriptions": subs,
	})
}

// Unsubscribe handles POST /subscriptions/unsubscribe
func (h *SubscriptionHandlers) Unsubscribe(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		Email          string `json:"email"`
		SubscriptionID string `json:"subscriptionId"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}

	sub, err := h.subscriptionSvc.Unsubscribe(ctx, req.Email, req.SubscriptionID)
	if err != nil {
		return subscriptionError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":      "Subscription cancelled, access continues until the end date",
		"subscription": sub,
	})
}

// ExpireSubscription handles POST /subscriptions/expire
func (h *SubscriptionHandlers) ExpireSubscription(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		Email          string `json:"email"`
		SubscriptionID string `json:"subscriptionId"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}

	result, err := h.subscriptionSvc.Expire(ctx, req.Email, req.SubscriptionID)
	if err != nil {
		return subscriptionError(err)
	}

	if !result.Expired {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"message":      "Subscription has not reached its end date",
			"subscription": result.Subscription,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":      "Subscription expired",
		"subscription": result.Subscription,
	})
}

// CleanupPending handles DELETE /subscriptions/pending/:email (admin)
func (h *SubscriptionHandlers) CleanupPending(c echo.Context) error {
	ctx := c.Request().Context()

	email := c.Param("email")
	if admin, ok := common.GetUserEmailFromContext(ctx); ok {
		log.Printf("admin %s requested pending cleanup for %s", admin, email)
	}
	deleted, err := h.subscriptionSvc.CleanupStalePending(ctx, email)
	if err != nil {
		return subscriptionError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"deleted": deleted,
	})
}

// subscriptionError maps lifecycle manager errors onto HTTP statuses. Gateway
// rejections keep their upstream status/body so callers can tell a rejected
// invoice from an unreachable provider.
func subscriptionError(err error) error {
	var gwErr *services.GatewayError
	switch {
	case errors.Is(err, services.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrOfferNotFound):
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid offer")
	case errors.Is(err, services.ErrSubscriptionConflict):
		return echo.NewHTTPError(http.StatusConflict, "You already have an active subscription - cancel it first")
	case errors.Is(err, services.ErrSubscriptionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Subscription not found")
	case errors.Is(err, services.ErrAlreadyCancelled):
		return echo.NewHTTPError(http.StatusBadRequest, "Subscription is already cancelled")
	case errors.Is(err, services.ErrNotActive):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &gwErr):
		return echo.NewHTTPError(gwErr.StatusCode, gwErr.Body)
	case errors.Is(err, services.ErrGatewayUnreachable):
		return echo.NewHTTPError(http.StatusBadGateway, "No response from payment provider, please retry")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
