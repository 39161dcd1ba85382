package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryConfig configures exponential backoff retry behavior
type RetryConfig struct {
	MaxRetries uint64        // Retries after the first attempt
	BaseDelay  time.Duration // Initial delay between retries
	MaxDelay   time.Duration // Cap on a single delay
}

// DefaultRetryConfig returns sensible defaults for API retry
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

func (c RetryConfig) backoff() retry.Backoff {
	b := retry.NewExponential(c.BaseDelay)
	b = retry.WithCappedDuration(c.MaxDelay, b)
	return retry.WithMaxRetries(c.MaxRetries, b)
}

// StatusError is an unsuccessful HTTP response from a provider
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Body)
}

// Temporary reports whether a retry may succeed
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// withRetry runs fn until it succeeds, returns a permanent error, or retries run out.
// Transport errors and 429/5xx responses are retried.
func withRetry[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := retry.Do(ctx, config.backoff(), func(ctx context.Context) error {
		r, err := fn(ctx)
		if err != nil {
			var status *StatusError
			if errors.As(err, &status) && !status.Temporary() {
				return err
			}
			return retry.RetryableError(err)
		}
		result = r
		return nil
	})
	return result, err
}
