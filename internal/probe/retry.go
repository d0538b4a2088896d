package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy is a fixed number of attempts separated by a fixed delay.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// ExhaustedError is returned when every attempt failed. Last is the error of
// the final attempt.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// backoff is constant; a zero Delay retries immediately.
func (p RetryPolicy) backoff(attempts int) retry.Backoff {
	constant := retry.BackoffFunc(func() (time.Duration, bool) {
		return p.Delay, false
	})
	return retry.WithMaxRetries(uint64(attempts-1), constant)
}

// Do calls fn until it succeeds or the attempts run out. The wait between
// attempts ends early if ctx is cancelled, in which case ctx's error is
// returned.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	err := retry.Do(ctx, p.backoff(attempts), func(ctx context.Context) error {
		if last = fn(ctx); last != nil {
			return retry.RetryableError(last)
		}
		return nil
	})
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return &ExhaustedError{Attempts: attempts, Last: last}
	}
}
