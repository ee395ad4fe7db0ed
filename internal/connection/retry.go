package connection

import (
	"context"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 15 * time.Second
)

// RetryPolicy decides whether and how long to wait before retrying a failed
// attempt. Delays grow exponentially from BaseDelay, capped at MaxDelay;
// the attempt count is capped at MaxAttempts regardless of reason.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// OnAttempt, when set, is called before each wait so callers can report
	// progress. attempt is zero-based.
	OnAttempt func(attempt int, delay time.Duration, reason Reason)
}

// DefaultRetryPolicy returns the policy used when a caller supplies none.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

// Delay computes the backoff before retry number attempt (zero-based).
// Delays are non-decreasing and never exceed MaxDelay.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	max := p.MaxDelay
	if max <= 0 {
		max = DefaultMaxDelay
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Retryable reports whether a failure classification is worth retrying.
// Everything else (auth failures, host-key mismatches, bad configuration,
// cancellation) fails immediately.
func (p *RetryPolicy) Retryable(r Reason) bool {
	switch r {
	case NetworkUnreachable, ConnectionRefused, ConnectionTimedOut, ServerDisconnected:
		return true
	default:
		return false
	}
}

func (p *RetryPolicy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

// Do runs op until it succeeds, the failure is non-retryable, the attempt
// cap is reached, or ctx is cancelled. The backoff wait itself is
// cancellable so retries stay responsive to cancellation.
func (p *RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.maxAttempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return newError(Cancelled, err)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		reason := ReasonOf(lastErr)
		if reason == Cancelled || !p.Retryable(reason) {
			return lastErr
		}
		if attempt == p.maxAttempts()-1 {
			break
		}

		delay := p.Delay(attempt)
		if p.OnAttempt != nil {
			p.OnAttempt(attempt, delay, reason)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return newError(Cancelled, ctx.Err())
		case <-timer.C:
		}
	}
	return lastErr
}
