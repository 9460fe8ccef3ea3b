package transport

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy describes how one outbound call is retried.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration

	// Retryable decides whether err warrants another attempt.
	// Nil means DefaultRetryable.
	Retryable func(err error) bool
}

// DefaultRetryPolicy returns 3 attempts, 500ms base, 5s cap, 10s per attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		AttemptTimeout: 10 * time.Second,
	}
}

// DefaultRetryable retries connection, timeout and server failures only.
func DefaultRetryable(err error) bool {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Kind != KindRejected
	}
	return false
}

// Delay returns min(base * 2^attempt, cap) for the zero-based attempt that just failed.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			break
		}
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return DefaultRetryable(err)
}

// Do runs fn until it succeeds, returns a non-retryable error, or attempts run out.
// Each attempt gets its own context bounded by AttemptTimeout. onRetry, if set,
// is called before each backoff sleep.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error, onRetry func(attempt int, err error, delay time.Duration)) (attempts int, err error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		attempts = attempt + 1

		err = p.attempt(ctx, fn)
		if err == nil {
			return attempts, nil
		}
		if ctx.Err() != nil {
			return attempts, err
		}
		if !p.retryable(err) || attempt == maxAttempts-1 {
			return attempts, err
		}

		delay := p.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempts, err
		case <-timer.C:
		}
	}

	return attempts, err
}

func (p RetryPolicy) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	attemptCtx := ctx
	cancel := func() {}
	if p.AttemptTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
	}
	defer cancel()

	err := fn(attemptCtx)

	// A result that lands after the attempt deadline is discarded.
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return &Error{Kind: KindTimeout, Err: context.DeadlineExceeded}
	}
	return err
}
