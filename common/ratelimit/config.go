package ratelimit

import (
	"time"

	"github.com/clubops/membersync/common/config"
)

// Config defines the request budget for one platform
type Config struct {
	RequestsPerWindow  int
	WindowDuration     time.Duration
	ConcurrentRequests int
	RetryAttempts      int
}

// ConfigsFromPlatforms derives limiter configs from the service
// configuration. Each platform keeps its own window and caps; there is
// no shared global budget.
func ConfigsFromPlatforms(cfg *config.Config) map[string]Config {
	configs := make(map[string]Config, len(cfg.Platforms))
	for name, platform := range cfg.Platforms {
		configs[name] = Config{
			RequestsPerWindow:  platform.RequestsPerWindow,
			WindowDuration:     platform.WindowDuration,
			ConcurrentRequests: platform.ConcurrentRequests,
			RetryAttempts:      cfg.Sync.RetryAttempts,
		}
	}
	return configs
}
