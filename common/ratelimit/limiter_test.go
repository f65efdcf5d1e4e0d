package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/clubops/membersync/common/syncerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}
func (nopLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Debug(msg string, keysAndValues ...interface{}) {}

func newTestLimiter(cfg Config) (*Limiter, *time.Time) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(map[string]Config{"ticketing": cfg}, nopLogger{})
	l.now = func() time.Time { return clock }
	return l, &clock
}

func TestRecordRequest_WindowExhaustion(t *testing.T) {
	l, clock := newTestLimiter(Config{
		RequestsPerWindow:  3,
		WindowDuration:     time.Minute,
		ConcurrentRequests: 10,
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, l.RecordRequest("ticketing"), "request %d", i+1)
		l.Release("ticketing")
	}

	assert.False(t, l.CanMakeRequest("ticketing"))
	err := l.RecordRequest("ticketing")
	require.Error(t, err)
	assert.True(t, syncerr.IsTransient(err))

	// Window rollover restores the budget
	*clock = clock.Add(time.Minute)
	assert.True(t, l.CanMakeRequest("ticketing"))
	assert.NoError(t, l.RecordRequest("ticketing"))
}

func TestRecordRequest_ConcurrencyCap(t *testing.T) {
	l, _ := newTestLimiter(Config{
		RequestsPerWindow:  100,
		WindowDuration:     time.Minute,
		ConcurrentRequests: 2,
	})

	require.NoError(t, l.RecordRequest("ticketing"))
	require.NoError(t, l.RecordRequest("ticketing"))

	err := l.RecordRequest("ticketing")
	require.Error(t, err)
	assert.True(t, syncerr.IsTransient(err))

	// Releasing one slot admits the next request
	l.Release("ticketing")
	assert.NoError(t, l.RecordRequest("ticketing"))
}

func TestRecordRequest_InFlightCarriesAcrossWindows(t *testing.T) {
	l, clock := newTestLimiter(Config{
		RequestsPerWindow:  5,
		WindowDuration:     time.Minute,
		ConcurrentRequests: 1,
	})

	require.NoError(t, l.RecordRequest("ticketing"))

	// The window resets but the request is still in flight
	*clock = clock.Add(2 * time.Minute)
	err := l.RecordRequest("ticketing")
	require.Error(t, err)

	l.Release("ticketing")
	assert.NoError(t, l.RecordRequest("ticketing"))
}

func TestRecordRequest_UnknownPlatform(t *testing.T) {
	l, _ := newTestLimiter(Config{RequestsPerWindow: 1, WindowDuration: time.Minute, ConcurrentRequests: 1})

	err := l.RecordRequest("carrier-pigeon")
	assert.ErrorIs(t, err, syncerr.ErrUnknownPlatform)
	assert.False(t, l.CanMakeRequest("carrier-pigeon"))
}

func TestWithRateLimit_ReleasesOnFailure(t *testing.T) {
	l, _ := newTestLimiter(Config{
		RequestsPerWindow:  10,
		WindowDuration:     time.Minute,
		ConcurrentRequests: 1,
	})

	opErr := assert.AnError
	err := l.WithRateLimit(context.Background(), "ticketing", func(ctx context.Context) error {
		return opErr
	})
	assert.ErrorIs(t, err, opErr)

	// The permit came back despite the failure
	usage, err := l.MonitorUsage("ticketing")
	require.NoError(t, err)
	assert.Equal(t, 0, usage.InFlight)
	assert.NoError(t, l.RecordRequest("ticketing"))
}

func TestWithRateLimit_UnknownPlatform(t *testing.T) {
	l, _ := newTestLimiter(Config{RequestsPerWindow: 1, WindowDuration: time.Minute, ConcurrentRequests: 1})

	err := l.WithRateLimit(context.Background(), "carrier-pigeon", func(ctx context.Context) error {
		t.Fatal("op must not run for an unknown platform")
		return nil
	})
	assert.ErrorIs(t, err, syncerr.ErrUnknownPlatform)
}

func TestWithRateLimit_ContextCancelledWhileWaiting(t *testing.T) {
	l, _ := newTestLimiter(Config{
		RequestsPerWindow:  1,
		WindowDuration:     time.Hour,
		ConcurrentRequests: 1,
	})

	require.NoError(t, l.RecordRequest("ticketing"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := l.WithRateLimit(ctx, "ticketing", func(ctx context.Context) error {
		t.Fatal("op must not run; the budget never frees up")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMonitorUsage_Status(t *testing.T) {
	l, _ := newTestLimiter(Config{
		RequestsPerWindow:  2,
		WindowDuration:     time.Minute,
		ConcurrentRequests: 5,
	})

	usage, err := l.MonitorUsage("ticketing")
	require.NoError(t, err)
	assert.Equal(t, "ok", usage.Status)
	assert.Equal(t, 2, usage.RequestsAllowed)

	require.NoError(t, l.RecordRequest("ticketing"))
	require.NoError(t, l.RecordRequest("ticketing"))

	usage, err = l.MonitorUsage("ticketing")
	require.NoError(t, err)
	assert.Equal(t, "window_exhausted", usage.Status)
	assert.Equal(t, 0, usage.RequestsAllowed)
	assert.Equal(t, 2, usage.InFlight)
}

func TestAdaptiveSchedule(t *testing.T) {
	l, _ := newTestLimiter(Config{
		RequestsPerWindow:  60,
		WindowDuration:     time.Hour,
		ConcurrentRequests: 5,
		RetryAttempts:      4,
	})

	sched, err := l.AdaptiveSchedule("ticketing")
	require.NoError(t, err)
	assert.Equal(t, 4, sched.MaxAttempts)
	assert.Equal(t, time.Minute, sched.BaseDelay)
	assert.Equal(t, time.Hour, sched.MaxDelay)

	_, err = l.AdaptiveSchedule("carrier-pigeon")
	assert.ErrorIs(t, err, syncerr.ErrUnknownPlatform)
}
