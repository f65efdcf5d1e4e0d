package service

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/clubops/membersync/cmd/syncd/models"
	"github.com/clubops/membersync/cmd/syncd/platform"
	"github.com/clubops/membersync/common/backoff"
	"github.com/clubops/membersync/common/config"
	"github.com/clubops/membersync/common/logger"
	"github.com/clubops/membersync/common/ratelimit"
	"github.com/robfig/cron/v3"
)

// SchedulerService runs one recurring bulk-sync entry per platform.
// Intervals differ per platform: hours-scale for low-change-rate
// platforms, shorter for the chatty ones. A failed firing is logged and
// the schedule continues to the next interval.
type SchedulerService struct {
	cfg          *config.Config
	registry     *platform.Registry
	orchestrator *OrchestratorService
	limiter      *ratelimit.Limiter
	cron         *cron.Cron
	log          *logger.Logger
}

// NewSchedulerService creates a new scheduler
func NewSchedulerService(
	cfg *config.Config,
	registry *platform.Registry,
	orchestrator *OrchestratorService,
	limiter *ratelimit.Limiter,
	log *logger.Logger,
) *SchedulerService {
	return &SchedulerService{
		cfg:          cfg,
		registry:     registry,
		orchestrator: orchestrator,
		limiter:      limiter,
		cron:         cron.New(),
		log:          log,
	}
}

// Start registers the per-platform entries and starts the cron runner.
// ctx cancellation stops firings started after the cancel.
func (s *SchedulerService) Start(ctx context.Context) error {
	for _, pf := range s.registry.Platforms() {
		platformCfg, ok := s.cfg.Platform(string(pf))
		if !ok {
			return fmt.Errorf("no config for scheduled platform %s", pf)
		}

		pf := pf
		spec := fmt.Sprintf("@every %s", platformCfg.SyncInterval)
		_, err := s.cron.AddFunc(spec, func() {
			s.fire(ctx, pf, platformCfg)
		})
		if err != nil {
			return fmt.Errorf("schedule bulk sync for %s: %w", pf, err)
		}

		s.log.Info("bulk sync scheduled",
			"platform", pf,
			"interval", platformCfg.SyncInterval)
	}

	s.cron.Start()
	return nil
}

// Stop halts the cron runner and waits for running firings
func (s *SchedulerService) Stop() {
	stopped := s.cron.Stop()
	<-stopped.Done()
	s.log.Info("scheduler stopped")
}

// fire runs one scheduled bulk-sync firing. The enqueue is wrapped in
// the platform's adaptive retry policy; if every attempt fails the
// error is logged and the schedule itself survives to the next tick.
func (s *SchedulerService) fire(ctx context.Context, pf models.Platform, platformCfg config.PlatformConfig) {
	if ctx.Err() != nil {
		return
	}

	// Small randomized delay so platform sweeps don't all burst at once
	jitter := time.Duration(rand.Int63n(int64(30 * time.Second)))
	if jitter > platformCfg.SyncInterval/10 {
		jitter = platformCfg.SyncInterval / 10
	}
	select {
	case <-ctx.Done():
		return
	case <-time.After(jitter):
	}

	schedule, err := s.limiter.AdaptiveSchedule(string(pf))
	if err != nil {
		s.log.Error("cannot build retry schedule, skipping firing", "platform", pf, "error", err)
		return
	}

	s.log.Info("scheduled bulk sync firing", "platform", pf)

	err = backoff.Retry(ctx, s.log, schedule, func(ctx context.Context) error {
		_, err := s.orchestrator.QueueBulkSync(ctx, pf, nil)
		return err
	})
	if err != nil {
		// Never fatal. The ledger and logs carry the evidence; the
		// next interval gets a fresh chance.
		s.log.Error("scheduled bulk sync failed after all retries",
			"platform", pf,
			"error", err)
	}
}
