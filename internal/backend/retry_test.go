package backend

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"

	"github.com/recoverly-io/recoverly/internal/errdefs"
)

func fastPolicy(retries int) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: retries,
		BaseDelay:  1 * time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
	}
}

func TestCall_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Call(context.Background(), fastPolicy(3), "SubmitJob", func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("throttled")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestCall_PermanentFailsImmediately(t *testing.T) {
	attempts := 0
	err := Call(context.Background(), fastPolicy(5), "SubmitJob", func() error {
		attempts++
		return fmt.Errorf("access denied")
	})

	var perm *errdefs.BackendPermanent
	assert.ErrorAs(t, err, &perm)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, "SubmitJob", perm.Op)
}

func TestCall_ExhaustsRetries(t *testing.T) {
	attempts := 0
	err := Call(context.Background(), fastPolicy(2), "DescribeJobs", func() error {
		attempts++
		return fmt.Errorf("rate exceeded")
	})

	var transient *errdefs.BackendTransient
	assert.ErrorAs(t, err, &transient)
	assert.Contains(t, err.Error(), "max retries")
	assert.Equal(t, 3, attempts) // 1 initial + 2 retries
}

func TestCall_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Call(ctx, &RetryPolicy{MaxRetries: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}, "DescribeJobs", func() error {
		return fmt.Errorf("throttled")
	})

	var transient *errdefs.BackendTransient
	assert.ErrorAs(t, err, &transient)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCall_NilPolicyUsesDefault(t *testing.T) {
	err := Call(context.Background(), nil, "SubmitJob", func() error { return nil })
	assert.NoError(t, err)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"throttling message", fmt.Errorf("throttling"), true},
		{"rate exceeded", fmt.Errorf("Rate exceeded"), true},
		{"too many requests", fmt.Errorf("Too Many Requests"), true},
		{"service unavailable", fmt.Errorf("Service Unavailable"), true},
		{"connection reset", fmt.Errorf("connection reset by peer"), true},
		{"io timeout", fmt.Errorf("i/o timeout"), true},
		{"not found", fmt.Errorf("resource not found"), false},
		{"access denied", fmt.Errorf("access denied"), false},
		{"api throttling code", &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}, true},
		{"api client fault", &smithy.GenericAPIError{Code: "ValidationException", Message: "bad input", Fault: smithy.FaultClient}, false},
		{"api server fault", &smithy.GenericAPIError{Code: "SomethingBroke", Message: "oops", Fault: smithy.FaultServer}, true},
		{"wrapped api error", fmt.Errorf("submit: %w", &smithy.GenericAPIError{Code: "TooManyRequestsException"}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsTransient(tt.err))
		})
	}
}

func TestBackoffDelayBounded(t *testing.T) {
	base := 10 * time.Millisecond
	max := 50 * time.Millisecond
	for attempt := 0; attempt < 10; attempt++ {
		d := backoffDelay(attempt, base, max)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, max)
	}
}

func TestErrdefsIsTransientHelper(t *testing.T) {
	assert.True(t, errdefs.IsTransient(&errdefs.BackendTransient{Op: "x", Cause: errors.New("y")}))
	assert.False(t, errdefs.IsTransient(&errdefs.BackendPermanent{Op: "x", Cause: errors.New("y")}))
}
