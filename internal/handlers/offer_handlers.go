package handlers

import (
	"log"
	"net/http"

	"talecraft/internal/common"
	"talecraft/internal/services"

	"github.com/labstack/echo/v4"
)

// OfferHandlers handles HTTP requests for the subscription plan catalog
type OfferHandlers struct {
	catalogSvc services.CatalogService
}

// NewOfferHandlers creates a new offer handlers instance
func NewOfferHandlers(catalogSvc services.CatalogService) *OfferHandlers {
	return &OfferHandlers{
		catalogSvc: catalogSvc,
	}
}

// ListOffers handles GET /offers
func (h *OfferHandlers) ListOffers(c echo.Context) error {
	offers, err := h.catalogSvc.ListOffers(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load offers")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"offers": offers,
	})
}

// RefreshOffers handles POST /admin/offers/refresh. Offers are edited out of
// band, so this is how an edit is made visible before the cache TTL runs out.
func (h *OfferHandlers) RefreshOffers(c echo.Context) error {
	ctx := c.Request().Context()

	if email, ok := common.GetUserEmailFromContext(ctx); ok {
		log.Printf("admin %s requested offer cache refresh", email)
	}

	if err := h.catalogSvc.RefreshOffers(ctx); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to refresh offer cache")
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Offer cache refreshed",
	})
}
