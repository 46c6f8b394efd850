package resilience

import (
	"context"
	"time"
)

// Policy bounds a retry loop. The kernel never waits without limit, so both
// fields are always finite.
type Policy struct {
	Attempts int
	Backoff  time.Duration
	// Retryable decides whether an error is worth another attempt. Nil retries every error.
	Retryable func(error) bool
}

// DefaultPolicy returns the policy used for frame allocation
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, Backoff: 100 * time.Microsecond}
}

// Retry calls fn until it succeeds, returns a non-retryable error or the
// attempts are used up. The backoff doubles after each failed attempt.
// The last error from fn is returned; a done context stops the loop early
// with the context error.
func Retry(ctx context.Context, p Policy, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.Backoff

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if i == attempts-1 || backoff <= 0 {
			continue
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return err
}
