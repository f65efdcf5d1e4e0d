package syncerr

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownPlatform is returned when a platform key has no registered
// adapter. This is a programmer or configuration error and fails fast,
// before any ledger write.
var ErrUnknownPlatform = errors.New("unknown platform")

// AuthError indicates a bad or missing webhook signature.
// Never retried; the webhook is rejected outright.
type AuthError struct {
	Platform string
	Reason   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("webhook authentication failed for %s: %s", e.Platform, e.Reason)
}

// ConfigError indicates a missing required credential or setting.
// Fails fast at startup or first use.
type ConfigError struct {
	Platform string
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Platform, e.Reason)
}

// TransientError wraps failures that a later sweep may succeed on:
// network timeouts, rate-limit exhaustion, upstream 5xx.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient sync error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError wraps failures that retrying cannot fix, such as an
// entity with no email. Recorded failed, not auto-retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent sync error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent wraps err as a PermanentError
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsTransient reports whether err should be retried by a later sweep.
// Context deadline expiry counts as transient.
func IsTransient(err error) bool {
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsPermanent reports whether retrying err cannot change the outcome.
// Covers explicit permanent failures plus credential and signature
// errors, none of which a retry loop can repair.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return true
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return true
	}
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsAuth reports whether err is a signature rejection
func IsAuth(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
