package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/clubops/membersync/cmd/syncd/models"
	"github.com/clubops/membersync/cmd/syncd/service"
	"github.com/clubops/membersync/common/logger"
	"github.com/clubops/membersync/common/signature"
	"github.com/clubops/membersync/common/syncerr"
	"github.com/labstack/echo/v4"
)

// WebhookHandler receives platform event notifications
type WebhookHandler struct {
	verifier     *signature.Verifier
	orchestrator *service.OrchestratorService
	log          *logger.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(verifier *signature.Verifier, orchestrator *service.OrchestratorService, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		verifier:     verifier,
		orchestrator: orchestrator,
		log:          log,
	}
}

// Receive handles POST /webhooks/:platform.
// The platform gets 200 as soon as the job is persisted; reconciliation
// outcome is visible in the ledger, not in this response. Signature
// failures get 401 and nothing is enqueued or audited.
func (h *WebhookHandler) Receive(c echo.Context) error {
	platformName := c.Param("platform")
	pf := models.Platform(platformName)

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "unreadable body",
		})
	}

	if err := h.verifier.Verify(platformName, body, c.Request().Header); err != nil {
		if errors.Is(err, syncerr.ErrUnknownPlatform) {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error": "unknown platform",
			})
		}
		h.log.Warn("webhook rejected",
			"platform", platformName,
			"remote", c.RealIP(),
			"error", err)
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "signature verification failed",
		})
	}

	eventType := c.Request().Header.Get("x-event-type")

	opID, err := h.orchestrator.EnqueueWebhook(c.Request().Context(), pf, eventType, body)
	if err != nil {
		if errors.Is(err, syncerr.ErrUnknownPlatform) {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error": "unknown platform",
			})
		}
		h.log.Error("webhook enqueue failed", "platform", platformName, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to accept webhook",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":            "accepted",
		"sync_operation_id": opID,
	})
}
