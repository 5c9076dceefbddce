package ledger

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

const (
	defaultMaxAttempts  = 6
	defaultBaseDelay    = 10 * time.Millisecond
	defaultJitterFactor = 0.3
)

var (
	// ErrInvalidMaxAttempts is returned when max attempts are not positive.
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")

	// ErrNegativeBaseDelay is returned when the base delay is negative.
	ErrNegativeBaseDelay = errors.New("base delay must not be negative")

	// ErrInvalidJitterFactor is returned when the jitter factor is not between 0.0 and 1.0.
	ErrInvalidJitterFactor = errors.New("jitter factor must be between 0.0 and 1.0")
)

type retryConfig struct {
	maxAttempts  int
	baseDelay    time.Duration
	jitterFactor float64
}

func defaultRetryConfig() retryConfig {
	return retryConfig{
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultBaseDelay,
		jitterFactor: defaultJitterFactor,
	}
}

// RetryOption configures conflict retries using the functional options pattern.
type RetryOption func(*retryConfig) error

// WithMaxAttempts sets the maximum number of attempts, the first included.
func WithMaxAttempts(attempts int) RetryOption {
	return func(c *retryConfig) error {
		if attempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		c.maxAttempts = attempts
		return nil
	}
}

// WithBaseDelay sets the base delay for exponential backoff.
// Actual delays: baseDelay, baseDelay*2, baseDelay*4, ...
func WithBaseDelay(delay time.Duration) RetryOption {
	return func(c *retryConfig) error {
		if delay < 0 {
			return ErrNegativeBaseDelay
		}
		c.baseDelay = delay
		return nil
	}
}

// WithJitterFactor sets the share of each delay added as random jitter.
// Valid range: 0.0 (no jitter) to 1.0 (100% jitter).
func WithJitterFactor(factor float64) RetryOption {
	return func(c *retryConfig) error {
		if factor < 0.0 || factor > 1.0 {
			return ErrInvalidJitterFactor
		}
		c.jitterFactor = factor
		return nil
	}
}

// retryOnConflict runs fn until it succeeds, fails with anything other than
// ErrConflict, or runs out of attempts. Timeouts are not retried here: they
// surface as ErrTransient and the caller decides.
//
// Retry schedule (default): 0ms, 10ms, 20ms, 40ms, 80ms, 160ms (+30% jitter)
func retryOnConflict(ctx context.Context, cfg retryConfig, logger *slog.Logger, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < cfg.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := cfg.baseDelay * time.Duration(1<<(attempt-1))
			jitter := rand.Float64() * float64(delay) * cfg.jitterFactor //nolint:gosec // jitter only
			backoff := delay + time.Duration(jitter)

			logger.Warn("retrying after conflict",
				slog.String("op", op),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff))

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return &TransientError{Op: op, Err: ctx.Err()}
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil || !errors.Is(lastErr, ErrConflict) {
			return lastErr
		}
	}
	return lastErr
}
