// Package retry provides bounded retries with exponential backoff for calls
// to external services.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/designdrill/orchestrator/internal/circuitbreaker"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseWait   = 1 * time.Second
)

// APIError is implemented by errors that carry an HTTP status code.
type APIError interface {
	error
	StatusCode() int
}

// Option configures a retry loop.
type Option func(*retrier)

type retrier struct {
	maxRetries int
	baseWait   time.Duration
}

// WithMaxRetries bounds the number of attempts.
func WithMaxRetries(n int) Option {
	return func(r *retrier) { r.maxRetries = n }
}

// WithBaseWait sets the first backoff interval.
func WithBaseWait(d time.Duration) Option {
	return func(r *retrier) { r.baseWait = d }
}

// Do executes fn with exponential backoff and jitter. Only transient statuses
// (429, 503, 504) are retried; other API errors and an open circuit breaker
// fail immediately.
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	r := &retrier{maxRetries: DefaultMaxRetries, baseWait: DefaultBaseWait}
	for _, opt := range opts {
		opt(r)
	}

	var lastErr error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(float64(r.baseWait) * math.Pow(2, float64(attempt-1)))
			jitter := time.Duration(rand.Float64() * float64(backoff) * 0.1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, circuitbreaker.ErrOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return err
		}
		var apiErr APIError
		if errors.As(err, &apiErr) && !ShouldRetry(apiErr.StatusCode()) {
			return err
		}
	}
	return lastErr
}

// ShouldRetry reports whether the status code indicates a transient condition.
func ShouldRetry(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout
}
