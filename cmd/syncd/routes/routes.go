package routes

import (
	"github.com/clubops/membersync/cmd/syncd/container"
	"github.com/clubops/membersync/cmd/syncd/handlers"
	"github.com/labstack/echo/v4"
)

// RegisterWebhookRoutes registers the platform webhook endpoints
func RegisterWebhookRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewWebhookHandler(c.Verifier, c.Orchestrator, c.Components.Logger)

	e.POST("/webhooks/:platform", h.Receive)
}

// RegisterSyncRoutes registers the administrative sync API
func RegisterSyncRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewSyncHandler(c.Orchestrator, c.Stats, c.Components.Logger)

	api := e.Group("/api/v1")
	{
		api.POST("/sync/:platform", h.TriggerBulk)
		api.POST("/sync/:platform/:external_id", h.TriggerManual)
		api.GET("/stats", h.GetStats)
		api.GET("/stats/rate-limits", h.GetRateLimits)
	}
}
