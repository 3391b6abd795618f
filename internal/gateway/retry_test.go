package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type kindError string

func (e kindError) Error() string     { return "backend: " + string(e) }
func (e kindError) ErrorType() string { return string(e) }

func fastPolicy(attempts int) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  attempts,
		InitialDelay: 1 * time.Millisecond,
		Multiplier:   1.0,
		MaxDelay:     10 * time.Millisecond,
	}
}

func TestRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()

	if !policy.ShouldRetry(errors.New("connection refused"), 1) {
		t.Error("expected connection error to be retryable")
	}

	if policy.ShouldRetry(errors.New("error"), 4) {
		t.Error("should not retry after max attempts")
	}

	for attempt, want := range map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second} {
		if delay := policy.NextDelay(attempt); delay != want {
			t.Errorf("attempt %d: expected %v delay, got %v", attempt, want, delay)
		}
	}
}

func TestRetryPolicyNonRetryable(t *testing.T) {
	policy := DefaultRetryPolicy()

	for _, err := range []error{
		errors.New("invalid request"),
		errors.New("unauthorized"),
		errors.New("forbidden"),
		context.DeadlineExceeded,
		fmt.Errorf("call: %w", context.Canceled),
		kindError("ToolError"),
		kindError("DecodeError"),
		fmt.Errorf("wrapped: %w", kindError("Timeout")),
	} {
		if policy.ShouldRetry(err, 1) {
			t.Errorf("expected %v to be non-retryable", err)
		}
	}
}

func TestRetryPolicyTypedTransient(t *testing.T) {
	policy := DefaultRetryPolicy()
	if !policy.ShouldRetry(kindError("TransportError"), 1) {
		t.Error("expected transport errors to be retryable")
	}
	if !policy.ShouldRetry(kindError("ProtocolError"), 1) {
		t.Error("expected protocol errors to be retryable")
	}
}

func TestRetryPolicyNilError(t *testing.T) {
	policy := DefaultRetryPolicy()
	if policy.ShouldRetry(nil, 1) {
		t.Error("nil error should not be retryable")
	}
}

func TestRetryPolicyMaxDelayCap(t *testing.T) {
	policy := &RetryPolicy{
		MaxAttempts:  10,
		InitialDelay: 1 * time.Second,
		Multiplier:   10.0,
		MaxDelay:     30 * time.Second,
	}

	delay := policy.NextDelay(5)
	if delay > policy.MaxDelay {
		t.Errorf("delay %v exceeds max delay %v", delay, policy.MaxDelay)
	}
}

func TestRetryPolicyExecuteSuccess(t *testing.T) {
	policy := fastPolicy(3)
	calls := 0

	err := policy.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("temporary failure")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryPolicyExecuteNonRetryable(t *testing.T) {
	policy := fastPolicy(3)
	calls := 0

	err := policy.Execute(context.Background(), func(context.Context) error {
		calls++
		return errors.New("invalid request")
	})

	if err == nil {
		t.Error("expected error for non-retryable failure")
	}
	if calls != 1 {
		t.Errorf("expected 1 call for non-retryable error, got %d", calls)
	}
}

func TestRetryPolicyExecuteAllFail(t *testing.T) {
	policy := fastPolicy(2)
	calls := 0

	err := policy.Execute(context.Background(), func(context.Context) error {
		calls++
		return errors.New("timeout")
	})

	if err == nil {
		t.Error("expected error after all attempts exhausted")
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestRetryPolicyExecuteStopsOnContext(t *testing.T) {
	policy := &RetryPolicy{MaxAttempts: 5, InitialDelay: time.Hour, Multiplier: 1, MaxDelay: time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	start := time.Now()
	err := policy.Execute(ctx, func(context.Context) error {
		calls++
		return errors.New("connection reset")
	})

	if err == nil {
		t.Error("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call before the context ended, got %d", calls)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("backoff did not observe the context")
	}
}

func TestNoRetry(t *testing.T) {
	calls := 0
	_ = NoRetry().Execute(context.Background(), func(context.Context) error {
		calls++
		return errors.New("connection refused")
	})
	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
}
