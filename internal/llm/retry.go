package llm

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/spherical/pdf2html/internal/domain"
)

// classifyStatus maps a non-200 status to a DomainError. 408, 429 and 5xx are
// retryable; every other status is a request-validity failure.
func classifyStatus(statusCode int, body string) *domain.DomainError {
	msg := fmt.Sprintf("model API returned status %d", statusCode)
	if body != "" {
		msg = fmt.Sprintf("%s: %s", msg, body)
	}

	switch {
	case statusCode == http.StatusTooManyRequests: // 429
		return domain.RateLimitError(msg, nil)
	case statusCode == http.StatusRequestTimeout: // 408
		return domain.TransportError(msg, nil)
	case statusCode >= http.StatusInternalServerError: // 5xx
		return domain.ServerError(msg, nil)
	default:
		return domain.ValidationError(msg, nil)
	}
}

// calculateBackoff calculates exponential backoff duration for the given
// zero-based retry number: base * 2^retry, capped at policy.MaxDelay.
func calculateBackoff(retry int, policy domain.RetryPolicy) time.Duration {
	backoff := float64(policy.BaseDelay) * math.Pow(2, float64(retry))

	if backoff > float64(policy.MaxDelay) {
		backoff = float64(policy.MaxDelay)
	}

	return time.Duration(backoff)
}

// JitterFunc perturbs a backoff delay.
type JitterFunc func(d time.Duration) time.Duration

// EqualJitter keeps half of the delay and randomizes the other half, so
// concurrently failing pages spread their retries without ever exceeding d.
func EqualJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + rand.N(d-half+1)
}

// NoJitter returns d unchanged.
func NoJitter(d time.Duration) time.Duration {
	return d
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// sleepContext waits with context cancellation support
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
