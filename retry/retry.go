// Package retry provides a policy-driven retry executor with exponential
// backoff. The policy is a plain value, so retry behavior is testable in
// isolation from the network calls that use it.
package retry

import (
	"context"
	"time"
)

// Policy describes a bounded retry schedule.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration

	// Multiplier grows the delay between consecutive retries.
	Multiplier float64
}

// DefaultPolicy retries transient faults three times total with a short
// exponential backoff.
var DefaultPolicy = Policy{
	MaxAttempts:  3,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Multiplier:   2.0,
}

// normalized returns the policy with unusable fields replaced by sane
// values so a zero Policy behaves as a single attempt.
func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 100 * time.Millisecond
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	return p
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempt budget is exhausted; the last error is returned as-is. Each
// attempt is independent: no state is carried between attempts beyond the
// backoff schedule. Context cancellation aborts the wait between attempts.
func Do[T any](ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()

	var result T
	var err error

	delay := p.InitialDelay
	for attempt := 1; ; attempt++ {
		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
		if attempt >= p.MaxAttempts || !retryable(err) {
			return result, err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * p.Multiplier)
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}
