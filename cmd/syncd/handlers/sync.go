package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/clubops/membersync/cmd/syncd/models"
	"github.com/clubops/membersync/cmd/syncd/service"
	"github.com/clubops/membersync/common/logger"
	"github.com/clubops/membersync/common/syncerr"
	"github.com/labstack/echo/v4"
)

// SyncHandler exposes the administrative sync triggers and stats
type SyncHandler struct {
	orchestrator *service.OrchestratorService
	stats        *service.StatsService
	log          *logger.Logger
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(orchestrator *service.OrchestratorService, stats *service.StatsService, log *logger.Logger) *SyncHandler {
	return &SyncHandler{
		orchestrator: orchestrator,
		stats:        stats,
		log:          log,
	}
}

// TriggerBulk handles POST /api/v1/sync/:platform.
// Optional scoping (campaign, list, guild, event ids) comes from the
// JSON body and is passed through to the platform adapter.
func (h *SyncHandler) TriggerBulk(c echo.Context) error {
	pf := models.Platform(c.Param("platform"))

	var scope map[string]string
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&scope); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "malformed scope",
			})
		}
	}

	opID, err := h.orchestrator.QueueBulkSync(c.Request().Context(), pf, scope)
	if err != nil {
		if errors.Is(err, syncerr.ErrUnknownPlatform) {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error": "unknown platform",
			})
		}
		h.log.Error("bulk sync trigger failed", "platform", pf, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to queue bulk sync",
		})
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"status":            "queued",
		"sync_operation_id": opID,
	})
}

// TriggerManual handles POST /api/v1/sync/:platform/:external_id
func (h *SyncHandler) TriggerManual(c echo.Context) error {
	pf := models.Platform(c.Param("platform"))
	externalID := c.Param("external_id")

	opID, err := h.orchestrator.QueueManualSync(c.Request().Context(), pf, externalID, nil)
	if err != nil {
		if errors.Is(err, syncerr.ErrUnknownPlatform) {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error": "unknown platform",
			})
		}
		h.log.Error("manual sync trigger failed", "platform", pf, "external_id", externalID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to queue manual sync",
		})
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"status":            "queued",
		"sync_operation_id": opID,
	})
}

// GetStats handles GET /api/v1/stats?hours=24
func (h *SyncHandler) GetStats(c echo.Context) error {
	var window time.Duration
	if hours := c.QueryParam("hours"); hours != "" {
		n, err := strconv.Atoi(hours)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "hours must be a positive integer",
			})
		}
		window = time.Duration(n) * time.Hour
	}

	stats, err := h.stats.GetJobStats(c.Request().Context(), window)
	if err != nil {
		h.log.Error("stats query failed", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to aggregate stats",
		})
	}

	return c.JSON(http.StatusOK, stats)
}

// GetRateLimits handles GET /api/v1/stats/rate-limits
func (h *SyncHandler) GetRateLimits(c echo.Context) error {
	platforms := make([]string, 0, 4)
	for _, pf := range []models.Platform{
		models.PlatformTicketing,
		models.PlatformPatronage,
		models.PlatformMailer,
		models.PlatformChat,
	} {
		platforms = append(platforms, string(pf))
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"platforms": h.stats.RateLimitUsage(platforms),
	})
}
