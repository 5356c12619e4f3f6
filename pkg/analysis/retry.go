package analysis

import (
	"context"
	"time"
)

// RetryPolicy expresses the retry loop around one remote call: an attempt
// ceiling, a delay schedule, and a predicate naming the errors that must not
// be retried.
type RetryPolicy struct {
	MaxAttempts int
	// Delay returns the wait before the next attempt; it must strictly
	// increase with the attempt number.
	Delay func(attempt int) time.Duration
	// Terminal reports errors that end the loop immediately.
	Terminal func(error) bool

	// sleep is injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy retries up to 3 attempts with linearly growing delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delay: func(attempt int) time.Duration {
			return time.Duration(attempt) * 2 * time.Second
		},
	}
}

// Do runs fn until success, a terminal error, context cancellation, or the
// attempt ceiling. Returns the last error observed.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = ctxSleep
	}

	var last error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		last = fn()
		if last == nil {
			return nil
		}
		if p.Terminal != nil && p.Terminal(last) {
			return last
		}
		if attempt == p.MaxAttempts {
			break
		}
		if err := sleep(ctx, p.Delay(attempt)); err != nil {
			return err
		}
	}
	return last
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
