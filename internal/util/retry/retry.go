package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy controls how often and how patiently an operation is retried.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// RetryIf decides whether a non-fatal error is worth another attempt.
	// Nil retries every non-fatal error.
	RetryIf func(error) bool

	// Notify is called before each wait with the attempt that just failed
	// (1-based), its error and the upcoming delay.
	Notify func(attempt int, err error, delay time.Duration)
}

// Option adjusts a Policy.
type Option func(*Policy)

func defaultPolicy() *Policy {
	return &Policy{
		MaxRetries:   5,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// WithExponentialBackoff runs operation until it succeeds, making at most
// MaxRetries+1 attempts. The wait between attempts starts at InitialDelay and
// grows by Multiplier up to MaxDelay.
//
// Errors wrapped with Fatal end the loop wrapped; errors rejected by RetryIf
// end it unchanged.
func WithExponentialBackoff(ctx context.Context, operation func() error, opts ...Option) error {
	p := defaultPolicy()
	for _, opt := range opts {
		opt(p)
	}

	delay := p.InitialDelay
	attempts := 0
	for {
		err := operation()
		attempts++
		switch {
		case err == nil:
			return nil
		case IsFatal(err):
			return fmt.Errorf("fatal error (not retrying): %w", err)
		case p.RetryIf != nil && !p.RetryIf(err):
			return err
		case attempts > p.MaxRetries:
			return fmt.Errorf("operation failed after %d attempts: %w", attempts, err)
		}

		if p.Notify != nil {
			p.Notify(attempts, err, delay)
		}
		if waitErr := sleep(ctx, delay); waitErr != nil {
			return fmt.Errorf("context cancelled after %d attempts: %w", attempts, errors.Join(waitErr, err))
		}
		delay = p.next(delay)
	}
}

func (p *Policy) next(delay time.Duration) time.Duration {
	delay = time.Duration(float64(delay) * p.Multiplier)
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) Option {
	return func(p *Policy) { p.MaxRetries = n }
}

// WithInitialDelay sets the wait before the first retry.
func WithInitialDelay(d time.Duration) Option {
	return func(p *Policy) { p.InitialDelay = d }
}

// WithMaxDelay caps the wait between attempts.
func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) { p.MaxDelay = d }
}

// WithMultiplier sets the growth factor of the wait.
func WithMultiplier(m float64) Option {
	return func(p *Policy) { p.Multiplier = m }
}

// WithRetryIf restricts retries to errors accepted by fn.
func WithRetryIf(fn func(error) bool) Option {
	return func(p *Policy) { p.RetryIf = fn }
}

// WithNotify registers a callback invoked before every backoff wait.
func WithNotify(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(p *Policy) { p.Notify = fn }
}

// FatalError marks an error that must not be retried.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal marks err as non-retryable. Fatal(nil) is nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	var fatalErr *FatalError
	return errors.As(err, &fatalErr)
}
