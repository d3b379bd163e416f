package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/AyanbekDos/smeta-2/internal/interfaces"
)

// Default retry constants for model invocation
const (
	DefaultMaxAttempts    = 3
	DefaultBaseBackoff    = 5 * time.Second
	DefaultAttemptTimeout = 120 * time.Second
)

// RetryConfig defines the bounded retry policy for model calls
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first one
	MaxAttempts int

	// BaseBackoff is the wait before the second attempt; it doubles for each further attempt
	BaseBackoff time.Duration

	// AttemptTimeout is the hard deadline of a single attempt
	AttemptTimeout time.Duration
}

// NewDefaultRetryConfig returns a RetryConfig with the default policy
func NewDefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    DefaultMaxAttempts,
		BaseBackoff:    DefaultBaseBackoff,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

// Backoff returns the wait after the given failed attempt (1-based): base * 2^(attempt-1)
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return c.BaseBackoff * time.Duration(uint64(1)<<uint(attempt-1))
}

// retryableMarkers are matched case-insensitively against error text
var retryableMarkers = []string{
	"internal",
	"500",
	"unavailable",
	"503",
	"too many requests",
	"429",
	"resource_exhausted",
	"deadline exceeded",
	"timeout",
	"connection",
}

// IsRetryableError reports whether a model call error is transient.
// Content policy refusals are never retryable.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, interfaces.ErrContentBlocked) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, marker := range retryableMarkers {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error
