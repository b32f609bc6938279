package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithExponentialBackoff_Success(t *testing.T) {
	t.Parallel()
	attempts := 0
	err := WithExponentialBackoff(context.Background(), func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestWithExponentialBackoff_SuccessAfterRetries(t *testing.T) {
	t.Parallel()
	attempts := 0
	err := WithExponentialBackoff(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}, WithInitialDelay(5*time.Millisecond))

	if err != nil {
		t.Errorf("Expected no error after retries, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got: %d", attempts)
	}
}

func TestWithExponentialBackoff_MaxRetries(t *testing.T) {
	t.Parallel()
	sentinel := errors.New("persistent error")
	attempts := 0
	err := WithExponentialBackoff(context.Background(), func() error {
		attempts++
		return sentinel
	}, WithMaxRetries(3), WithInitialDelay(time.Millisecond))

	if !errors.Is(err, sentinel) {
		t.Errorf("Expected wrapped sentinel, got: %v", err)
	}
	if attempts != 4 {
		t.Errorf("Expected 4 attempts (1 + 3 retries), got: %d", attempts)
	}
}

func TestWithExponentialBackoff_ZeroRetries(t *testing.T) {
	t.Parallel()
	attempts := 0
	err := WithExponentialBackoff(context.Background(), func() error {
		attempts++
		return errors.New("boom")
	}, WithMaxRetries(0))

	if err == nil {
		t.Error("Expected error, got nil")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestWithExponentialBackoff_ContextCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := WithExponentialBackoff(ctx, func() error {
		attempts++
		cancel()
		return errors.New("error")
	}, WithInitialDelay(time.Second))

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt before cancellation, got: %d", attempts)
	}
}

func TestWithExponentialBackoff_FatalError(t *testing.T) {
	t.Parallel()
	sentinel := errors.New("bad credentials")
	attempts := 0
	err := WithExponentialBackoff(context.Background(), func() error {
		attempts++
		return Fatal(sentinel)
	}, WithInitialDelay(time.Millisecond))

	if !errors.Is(err, sentinel) {
		t.Errorf("Expected wrapped sentinel, got: %v", err)
	}
	if !IsFatal(err) {
		t.Error("Expected fatal error to stay detectable")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for fatal error, got: %d", attempts)
	}
}

func TestWithExponentialBackoff_RetryIf(t *testing.T) {
	t.Parallel()
	permanent := errors.New("rejected")
	attempts := 0
	err := WithExponentialBackoff(context.Background(), func() error {
		attempts++
		if attempts == 2 {
			return permanent
		}
		return errors.New("transient")
	}, WithInitialDelay(time.Millisecond), WithRetryIf(func(err error) bool {
		return !errors.Is(err, permanent)
	}))

	if err != permanent {
		t.Errorf("Expected the permanent error unwrapped, got: %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got: %d", attempts)
	}
}

func TestWithExponentialBackoff_NotifyAndDelayCap(t *testing.T) {
	t.Parallel()
	var delays []time.Duration
	var notified []int
	_ = WithExponentialBackoff(context.Background(), func() error {
		return errors.New("fail")
	},
		WithMaxRetries(3),
		WithInitialDelay(time.Millisecond),
		WithMultiplier(3),
		WithMaxDelay(5*time.Millisecond),
		WithNotify(func(attempt int, _ error, d time.Duration) {
			notified = append(notified, attempt)
			delays = append(delays, d)
		}),
	)

	wantDelays := []time.Duration{time.Millisecond, 3 * time.Millisecond, 5 * time.Millisecond}
	if len(delays) != len(wantDelays) {
		t.Fatalf("Expected %d notifications, got: %d", len(wantDelays), len(delays))
	}
	for i := range wantDelays {
		if delays[i] != wantDelays[i] {
			t.Errorf("delay %d: expected %v, got %v", i, wantDelays[i], delays[i])
		}
		if notified[i] != i+1 {
			t.Errorf("attempt %d: expected %d, got %d", i, i+1, notified[i])
		}
	}
}

func TestFatal(t *testing.T) {
	t.Parallel()
	if Fatal(nil) != nil {
		t.Error("Fatal(nil) should be nil")
	}
	if IsFatal(errors.New("plain")) {
		t.Error("plain error should not be fatal")
	}
	err := Fatal(errors.New("x"))
	if err.Error() != "x" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
