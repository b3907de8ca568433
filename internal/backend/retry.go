package backend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/aws/smithy-go"

	"github.com/recoverly-io/recoverly/internal/errdefs"
)

// DefaultRetryMax is the default maximum number of retries for transient
// backend errors.
const DefaultRetryMax = 3

// RetryPolicy defines retry behavior for transient backend errors. One
// policy instance is shared by the sync engine and every backend call
// wrapper.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy returns the policy used unless a caller overrides it.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: DefaultRetryMax,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// Call executes fn under the policy, retrying transient failures with
// exponential backoff and jitter. The terminal error is wrapped as
// errdefs.BackendTransient (retries exhausted) or errdefs.BackendPermanent.
func Call(ctx context.Context, policy *RetryPolicy, op string, fn func() error) error {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !IsTransient(lastErr) {
			return &errdefs.BackendPermanent{Op: op, Cause: lastErr}
		}

		if attempt < policy.MaxRetries {
			delay := backoffDelay(attempt, policy.BaseDelay, policy.MaxDelay)
			select {
			case <-ctx.Done():
				return &errdefs.BackendTransient{Op: op, Cause: fmt.Errorf("retry cancelled: %w", ctx.Err())}
			case <-time.After(delay):
			}
		}
	}

	return &errdefs.BackendTransient{
		Op:    op,
		Cause: fmt.Errorf("max retries (%d) exceeded: %w", policy.MaxRetries, lastErr),
	}
}

// backoffDelay returns exponential backoff with full jitter.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	backoff := float64(base) * math.Pow(2, float64(attempt))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	return time.Duration(rand.Float64() * backoff)
}

// transientAPICodes are AWS error codes worth retrying.
var transientAPICodes = map[string]bool{
	"ThrottlingException":                    true,
	"TooManyRequestsException":               true,
	"RequestLimitExceeded":                   true,
	"InternalServerException":                true,
	"ServiceUnavailableException":            true,
	"ProvisionedThroughputExceededException": true,
}

// transientPatterns is the string fallback for wrapped network errors.
var transientPatterns = []string{
	"throttl",
	"rate exceed",
	"too many requests",
	"service unavailable",
	"internal server error",
	"connection reset",
	"connection refused",
	"timeout",
	"i/o timeout",
	"temporary failure",
}

// IsTransient reports whether an error is likely transient and retryable.
// Structured AWS errors are matched by code; anything else falls back to
// message patterns.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if transientAPICodes[apiErr.ErrorCode()] {
			return true
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
