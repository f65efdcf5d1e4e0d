package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/clubops/membersync/common/backoff"
	"github.com/clubops/membersync/common/syncerr"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Usage is a read-only snapshot of a platform's budget for observability
type Usage struct {
	Platform         string `json:"platform"`
	RequestsAllowed  int    `json:"requests_allowed"`
	RequestsInWindow int    `json:"requests_in_window"`
	InFlight         int    `json:"in_flight"`
	Status           string `json:"status"`
}

// budget tracks one platform's fixed window and in-flight count.
// Invariants: requestsInWindow never exceeds the configured cap inside
// one window; inFlight never exceeds the concurrency cap.
type budget struct {
	windowStart      time.Time
	requestsInWindow int
	inFlight         int
}

// Limiter enforces per-platform request budgets: a fixed window request
// cap plus a concurrency cap. Counters are shared across all job
// goroutines for a platform, guarded by one mutex.
type Limiter struct {
	mu      sync.Mutex
	configs map[string]Config
	budgets map[string]*budget
	logger  Logger
	now     func() time.Time
}

// NewLimiter creates a limiter from per-platform configs
func NewLimiter(configs map[string]Config, logger Logger) *Limiter {
	return &Limiter{
		configs: configs,
		budgets: make(map[string]*budget),
		logger:  logger,
		now:     time.Now,
	}
}

// CanMakeRequest reports whether a request would be admitted right now.
// An expired window rolls over automatically.
func (l *Limiter) CanMakeRequest(platform string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg, b, err := l.lookup(platform)
	if err != nil {
		return false
	}

	l.rollWindow(cfg, b)
	return b.requestsInWindow < cfg.RequestsPerWindow && b.inFlight < cfg.ConcurrentRequests
}

// RecordRequest consumes one window slot and one concurrency slot.
// Every successful RecordRequest must be paired with exactly one Release,
// on the failure path too.
func (l *Limiter) RecordRequest(platform string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg, b, err := l.lookup(platform)
	if err != nil {
		return err
	}

	l.rollWindow(cfg, b)

	if b.requestsInWindow >= cfg.RequestsPerWindow {
		l.logger.Warn("rate limit window exhausted",
			"platform", platform,
			"requests_in_window", b.requestsInWindow,
			"limit", cfg.RequestsPerWindow)
		return syncerr.Transient(fmt.Errorf("rate limit window exhausted for %s", platform))
	}

	if b.inFlight >= cfg.ConcurrentRequests {
		l.logger.Warn("concurrency cap reached",
			"platform", platform,
			"in_flight", b.inFlight,
			"cap", cfg.ConcurrentRequests)
		return syncerr.Transient(fmt.Errorf("concurrency cap reached for %s", platform))
	}

	b.requestsInWindow++
	b.inFlight++

	l.logger.Debug("rate limit permit granted",
		"platform", platform,
		"requests_in_window", b.requestsInWindow,
		"in_flight", b.inFlight)

	return nil
}

// Release returns a concurrency slot. Window slots are not returned;
// they expire with the window.
func (l *Limiter) Release(platform string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.budgets[platform]
	if !ok || b.inFlight == 0 {
		l.logger.Warn("release without matching record", "platform", platform)
		return
	}

	b.inFlight--
}

// WithRateLimit acquires a permit (waiting while the budget is
// exhausted), runs op, and releases the permit on every exit path.
func (l *Limiter) WithRateLimit(ctx context.Context, platform string, op func(ctx context.Context) error) error {
	if _, ok := l.configs[platform]; !ok {
		return syncerr.ErrUnknownPlatform
	}

	wait := 50 * time.Millisecond
	for {
		if err := l.RecordRequest(platform); err == nil {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		// Capped backoff while the window drains
		if wait < 2*time.Second {
			wait *= 2
		}
	}
	defer l.Release(platform)

	return op(ctx)
}

// MonitorUsage returns a snapshot of the platform's current budget
func (l *Limiter) MonitorUsage(platform string) (Usage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg, b, err := l.lookup(platform)
	if err != nil {
		return Usage{}, err
	}

	l.rollWindow(cfg, b)

	status := "ok"
	switch {
	case b.requestsInWindow >= cfg.RequestsPerWindow:
		status = "window_exhausted"
	case b.inFlight >= cfg.ConcurrentRequests:
		status = "at_concurrency_cap"
	}

	return Usage{
		Platform:         platform,
		RequestsAllowed:  cfg.RequestsPerWindow - b.requestsInWindow,
		RequestsInWindow: b.requestsInWindow,
		InFlight:         b.inFlight,
		Status:           status,
	}, nil
}

// AdaptiveSchedule builds a retry policy sized to the platform's window.
// Unconfigured platforms get an explicit error, never a silent default.
func (l *Limiter) AdaptiveSchedule(platform string) (backoff.RetrySchedule, error) {
	cfg, ok := l.configs[platform]
	if !ok {
		return backoff.RetrySchedule{}, fmt.Errorf("no rate limit config for platform %q: %w", platform, syncerr.ErrUnknownPlatform)
	}

	// Base the delay on the window so retries land in fresh windows
	base := cfg.WindowDuration / time.Duration(cfg.RequestsPerWindow)
	if base < time.Second {
		base = time.Second
	}

	return backoff.RetrySchedule{
		MaxAttempts: cfg.RetryAttempts,
		BaseDelay:   base,
		MaxDelay:    cfg.WindowDuration,
		Jitter:      true,
	}, nil
}

// lookup must be called with the mutex held
func (l *Limiter) lookup(platform string) (Config, *budget, error) {
	cfg, ok := l.configs[platform]
	if !ok {
		return Config{}, nil, fmt.Errorf("no rate limit config for platform %q: %w", platform, syncerr.ErrUnknownPlatform)
	}

	b, ok := l.budgets[platform]
	if !ok {
		b = &budget{windowStart: l.now()}
		l.budgets[platform] = b
	}

	return cfg, b, nil
}

// rollWindow resets the window counters when the window has elapsed.
// Must be called with the mutex held. In-flight carries across windows.
func (l *Limiter) rollWindow(cfg Config, b *budget) {
	if l.now().Sub(b.windowStart) >= cfg.WindowDuration {
		b.windowStart = l.now()
		b.requestsInWindow = 0
	}
}
