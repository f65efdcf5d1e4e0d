package backoff

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/clubops/membersync/common/syncerr"
)

// Logger interface for logging
type Logger interface {
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// RetrySchedule describes a bounded exponential backoff policy
type RetrySchedule struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

// Delay returns the wait before the given attempt (1-based).
// Attempt 1 carries no delay.
func (s RetrySchedule) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delay := s.BaseDelay
	for i := 2; i < attempt; i++ {
		delay *= 2
		if delay >= s.MaxDelay {
			delay = s.MaxDelay
			break
		}
	}
	if s.MaxDelay > 0 && delay > s.MaxDelay {
		delay = s.MaxDelay
	}

	if s.Jitter {
		// Up to 25% randomization to avoid synchronized retries
		delay += time.Duration(rand.Int63n(int64(delay)/4 + 1))
	}

	return delay
}

// Retry runs fn up to MaxAttempts times with exponential delay between
// attempts. It returns nil on the first success, or the last error once
// the attempts are exhausted. A permanent error ends the loop on the
// attempt that produced it; retrying cannot change the outcome. Context
// cancellation aborts the wait.
func Retry(ctx context.Context, log Logger, schedule RetrySchedule, fn func(ctx context.Context) error) error {
	if schedule.MaxAttempts < 1 {
		return fmt.Errorf("retry schedule must allow at least one attempt")
	}

	var lastErr error
	for attempt := 1; attempt <= schedule.MaxAttempts; attempt++ {
		if delay := schedule.Delay(attempt); delay > 0 {
			log.Debug("backing off before retry", "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if syncerr.IsPermanent(lastErr) {
			log.Warn("attempt failed permanently, not retrying",
				"attempt", attempt,
				"error", lastErr)
			return lastErr
		}

		log.Warn("attempt failed",
			"attempt", attempt,
			"max_attempts", schedule.MaxAttempts,
			"error", lastErr)
	}

	return fmt.Errorf("all %d attempts failed: %w", schedule.MaxAttempts, lastErr)
}
