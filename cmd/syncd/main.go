package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clubops/membersync/cmd/syncd/container"
	"github.com/clubops/membersync/cmd/syncd/routes"
	"github.com/clubops/membersync/common/bootstrap"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	// Local development convenience; absent .env is fine
	_ = godotenv.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bootstrap common components (config, logger, DB, Redis)
	components, err := bootstrap.Setup(ctx, "syncd")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap syncd: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	// Initialize service container (repositories and services wired once)
	serviceContainer, err := container.NewContainer(ctx, components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	// Start the job consumer and the recurring bulk-sync schedules
	go func() {
		if err := serviceContainer.Queue.Consume(ctx, serviceContainer.Orchestrator.HandleJob); err != nil {
			components.Logger.Error("job consumer exited", "error", err)
		}
	}()

	if err := serviceContainer.Scheduler.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start scheduler: %v\n", err)
		os.Exit(1)
	}

	// Initialize Echo server
	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e, components)
	registerRoutes(e, serviceContainer)

	// Start server, then drain on shutdown signal
	startServer(ctx, cancel, e, components, serviceContainer)
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "syncd",
		})
	})
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterWebhookRoutes(e, serviceContainer)
	routes.RegisterSyncRoutes(e, serviceContainer)
}

// startServer runs the Echo server until a shutdown signal arrives,
// then stops the scheduler and drains in-flight requests.
func startServer(ctx context.Context, cancel context.CancelFunc, e *echo.Echo, components *bootstrap.Components, serviceContainer *container.Container) {
	port := components.Config.Service.Port
	components.Logger.Info("starting syncd", "port", port)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- e.Start(fmt.Sprintf(":%d", port))
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		components.Logger.Error("server error", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		components.Logger.Info("shutdown signal received", "signal", sig.String())

		// Stop new work first: scheduler ticks and the job consumer
		serviceContainer.Scheduler.Stop()
		cancel()

		drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer drainCancel()

		if err := e.Shutdown(drainCtx); err != nil {
			components.Logger.Error("graceful shutdown failed", "error", err)
		}
	}
}
