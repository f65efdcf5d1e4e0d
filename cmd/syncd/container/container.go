package container

import (
	"context"
	"fmt"

	"github.com/clubops/membersync/cmd/syncd/clients"
	"github.com/clubops/membersync/cmd/syncd/platform"
	"github.com/clubops/membersync/cmd/syncd/repository"
	"github.com/clubops/membersync/cmd/syncd/service"
	"github.com/clubops/membersync/common/bootstrap"
	"github.com/clubops/membersync/common/queue"
	"github.com/clubops/membersync/common/ratelimit"
	"github.com/clubops/membersync/common/signature"
)

// Container holds all initialized services and repositories. Everything
// is constructed here and passed down explicitly; nothing reaches for
// ambient global state.
type Container struct {
	Components *bootstrap.Components

	// Core collaborators
	Registry *platform.Registry
	Verifier *signature.Verifier
	Limiter  *ratelimit.Limiter
	Queue    *queue.Queue

	// Repositories
	SyncOpRepo      *repository.SyncOperationRepository
	MemberRepo      *repository.MemberRepository
	IntegrationRepo *repository.IntegrationRepository
	MembershipRepo  *repository.MembershipRepository

	// Services
	Ledger       *service.LedgerService
	Reconciler   *service.ReconcilerService
	Orchestrator *service.OrchestratorService
	Scheduler    *service.SchedulerService
	Stats        *service.StatsService
}

// NewContainer initializes all services and repositories once
func NewContainer(ctx context.Context, components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	// Platform adapters and the signature table they define
	registry := platform.DefaultRegistry()

	secrets := make(map[string]string, len(cfg.Platforms))
	for name, platformCfg := range cfg.Platforms {
		secrets[name] = platformCfg.WebhookSecret
	}
	verifier := signature.NewVerifier(registry.SignatureSchemes(), secrets, log)

	limiter := ratelimit.NewLimiter(ratelimit.ConfigsFromPlatforms(cfg), log)

	jobQueue, err := queue.New(ctx, components.Redis, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create job queue: %w", err)
	}

	fetcher := clients.NewPlatformClient(cfg.Platforms, cfg.Sync.JobTimeout, log)

	// Initialize repositories
	syncOpRepo := repository.NewSyncOperationRepository(components.DB)
	memberRepo := repository.NewMemberRepository(components.DB)
	integrationRepo := repository.NewIntegrationRepository(components.DB)
	membershipRepo := repository.NewMembershipRepository(components.DB)

	// Initialize services (bottom-up: dependencies first)
	ledger := service.NewLedgerService(syncOpRepo, log)
	reconciler := service.NewReconcilerService(memberRepo, integrationRepo, membershipRepo, ledger, log)
	orchestrator := service.NewOrchestratorService(cfg, registry, jobQueue, limiter, reconciler, ledger, fetcher, log)
	scheduler := service.NewSchedulerService(cfg, registry, orchestrator, limiter, log)
	stats := service.NewStatsService(ledger, limiter, jobQueue, cfg.Sync.StatsWindow, log)

	return &Container{
		Components:      components,
		Registry:        registry,
		Verifier:        verifier,
		Limiter:         limiter,
		Queue:           jobQueue,
		SyncOpRepo:      syncOpRepo,
		MemberRepo:      memberRepo,
		IntegrationRepo: integrationRepo,
		MembershipRepo:  membershipRepo,
		Ledger:          ledger,
		Reconciler:      reconciler,
		Orchestrator:    orchestrator,
		Scheduler:       scheduler,
		Stats:           stats,
	}, nil
}
