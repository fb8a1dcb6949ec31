package handlers

import (
	"log"
	"net/http"

	"talecraft/internal/common"
	"talecraft/internal/jobs"

	"github.com/labstack/echo/v4"
)

// JobHandlers exposes manual triggers for the scheduled maintenance jobs.
type JobHandlers struct {
	expirySvc *jobs.SubscriptionExpiryService
}

func NewJobHandlers(expirySvc *jobs.SubscriptionExpiryService) *JobHandlers {
	return &JobHandlers{
		expirySvc: expirySvc,
	}
}

// RunExpirySweep handles POST /subscriptions/sweep (admin)
func (h *JobHandlers) RunExpirySweep(c echo.Context) error {
	ctx := c.Request().Context()

	if email, ok := common.GetUserEmailFromContext(ctx); ok {
		log.Printf("admin %s triggered expiry sweep", email)
	}

	expired, err := h.expirySvc.CheckForExpiredSubscriptions(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Expiry sweep failed")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Expiry sweep completed",
		"expired": expired,
	})
}

// RunStalePendingCleanup handles POST /subscriptions/cleanup (admin)
func (h *JobHandlers) RunStalePendingCleanup(c echo.Context) error {
	ctx := c.Request().Context()

	if email, ok := common.GetUserEmailFromContext(ctx); ok {
		log.Printf("admin %s triggered stale pending cleanup", email)
	}

	deleted, err := h.expirySvc.CleanupStalePending(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Stale pending cleanup failed")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Stale pending cleanup completed",
		"deleted": deleted,
	})
}
