package service

import (
	"context"
	"fmt"
	"time"

	"github.com/clubops/membersync/cmd/syncd/models"
	"github.com/clubops/membersync/common/logger"
	"github.com/clubops/membersync/common/ratelimit"
)

// JobStats is the operator-facing view of recent sync activity
type JobStats struct {
	Sync       *models.OperationStats `json:"sync"`
	QueueDepth map[string]int64       `json:"queue_depth"`
	Period     string                 `json:"period"`
}

// depther reports pending job counts per stream
type depther interface {
	Depth(ctx context.Context) (map[string]int64, error)
}

// StatsService answers read-only observability queries
type StatsService struct {
	ledger  *LedgerService
	limiter *ratelimit.Limiter
	queue   depther
	window  time.Duration
	log     *logger.Logger
}

// NewStatsService creates a new stats service
func NewStatsService(ledger *LedgerService, limiter *ratelimit.Limiter, queue depther, window time.Duration, log *logger.Logger) *StatsService {
	return &StatsService{
		ledger:  ledger,
		limiter: limiter,
		queue:   queue,
		window:  window,
		log:     log,
	}
}

// GetJobStats aggregates ledger counts over the rolling window.
// A zero window falls back to the configured default (24h).
func (s *StatsService) GetJobStats(ctx context.Context, window time.Duration) (*JobStats, error) {
	if window <= 0 {
		window = s.window
	}

	stats, err := s.ledger.Stats(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("aggregate job stats: %w", err)
	}

	depths, err := s.queue.Depth(ctx)
	if err != nil {
		// Ledger counts are still useful without queue depth
		s.log.Warn("queue depth snapshot failed", "error", err)
	}

	return &JobStats{
		Sync:       stats,
		QueueDepth: depths,
		Period:     window.String(),
	}, nil
}

// RateLimitUsage snapshots every platform's current budget
func (s *StatsService) RateLimitUsage(platforms []string) []ratelimit.Usage {
	usages := make([]ratelimit.Usage, 0, len(platforms))
	for _, platform := range platforms {
		usage, err := s.limiter.MonitorUsage(platform)
		if err != nil {
			s.log.Warn("usage snapshot failed", "platform", platform, "error", err)
			continue
		}
		usages = append(usages, usage)
	}
	return usages
}
