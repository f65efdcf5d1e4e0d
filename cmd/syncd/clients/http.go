package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/clubops/membersync/common/config"
	"github.com/clubops/membersync/common/syncerr"
)

// Logger interface for HTTP client logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// PlatformClient performs authenticated requests against platform APIs.
// Responses are classified into the sync error taxonomy: timeouts,
// 429 and 5xx are transient; other non-2xx are permanent.
type PlatformClient struct {
	client    *http.Client
	platforms map[string]config.PlatformConfig
	logger    Logger
}

// NewPlatformClient creates a platform API client
func NewPlatformClient(platforms map[string]config.PlatformConfig, timeout time.Duration, logger Logger) *PlatformClient {
	return &PlatformClient{
		client: &http.Client{
			Timeout: timeout,
		},
		platforms: platforms,
		logger:    logger,
	}
}

// GetJSON performs an authenticated GET and decodes the JSON response
func (c *PlatformClient) GetJSON(ctx context.Context, platform string, url string, out interface{}) error {
	cfg, ok := c.platforms[platform]
	if !ok {
		return syncerr.ErrUnknownPlatform
	}
	if cfg.ClientSecret == "" {
		return &syncerr.ConfigError{
			Platform: platform,
			Reason:   "client secret is not configured",
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.ClientSecret)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("platform API request", "platform", platform, "url", url)

	resp, err := c.client.Do(req)
	if err != nil {
		// Transport failures and timeouts are retryable by a later sweep
		return syncerr.Transient(fmt.Errorf("request to %s failed: %w", platform, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return syncerr.Transient(fmt.Errorf("read response from %s: %w", platform, err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// Decoded below
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.logger.Warn("platform API transient error",
			"platform", platform,
			"status", resp.StatusCode)
		return syncerr.Transient(fmt.Errorf("%s returned %d", platform, resp.StatusCode))
	default:
		return syncerr.Permanent(fmt.Errorf("%s returned %d: %s", platform, resp.StatusCode, truncate(body, 200)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return syncerr.Permanent(fmt.Errorf("decode %s response: %w", platform, err))
	}

	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
