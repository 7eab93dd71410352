package shared

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Sync errors
	ErrTransientFetch       = fmt.Errorf("transient fetch failure")
	ErrUnresolvedIdentifier = fmt.Errorf("no provider identifier could be resolved")
	ErrTargetRejection      = fmt.Errorf("target rejected request")
	ErrPersistence          = fmt.Errorf("ledger persistence failed")
	ErrSyncFailed           = fmt.Errorf("sync completed with failures")
	ErrNoTarget             = fmt.Errorf("no target configured")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrAuthFailed         = fmt.Errorf("authentication failed")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)

// RateLimitError is returned when a remote answers 429. It is transient.
type RateLimitError struct {
	URL        string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited by %s (retry after %s)", e.URL, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited by %s", e.URL)
}

func (e *RateLimitError) Unwrap() error {
	return ErrTransientFetch
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientFetch)
}

// IsRejection reports whether err is a permanent refusal from a target.
func IsRejection(err error) bool {
	return errors.Is(err, ErrTargetRejection)
}

// RetryAfter extracts the server supplied wait from a [RateLimitError] in the chain.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter, true
	}
	return 0, false
}
