// Package httputil provides retry and backoff primitives shared by the
// fetch client and the orchestrator's requeue policy.
package httputil

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	tberrors "github.com/toolharbor/toolharbor/pkg/errors"
)

// RetryableError wraps an error to indicate it should trigger a retry.
// Wrap transient failures (network timeouts, 5xx responses) with this type
// so that [Retry] knows to attempt the operation again.
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Backoff computes retry delays: exponential doubling from Base, capped at
// Cap, with uniform ±Jitter fraction applied to the result. A server-side
// Retry-After hint overrides the computed delay when it is longer.
type Backoff struct {
	Base   time.Duration // initial delay (default 2s)
	Cap    time.Duration // upper bound on the computed delay (default 30s)
	Jitter float64       // fraction of the delay used as ± jitter (default 0.25)
}

// DefaultBackoff matches the orchestrator's requeue policy defaults.
var DefaultBackoff = Backoff{Base: 2 * time.Second, Cap: 30 * time.Second, Jitter: 0.25}

// Delay returns the wait before retry attempt n (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultBackoff.Base
	}
	capped := b.Cap
	if capped <= 0 {
		capped = DefaultBackoff.Cap
	}

	d := base
	for i := 0; i < attempt && d < capped; i++ {
		d *= 2
	}
	if d > capped {
		d = capped
	}
	if b.Jitter > 0 {
		// Uniform in [d*(1-j), d*(1+j)].
		spread := float64(d) * b.Jitter
		d = time.Duration(float64(d) - spread + 2*spread*rand.Float64())
	}
	return d
}

// DelayWithHint returns the backoff delay for attempt n, honoring a
// server-provided Retry-After hint from err when it exceeds the computed
// delay.
func (b Backoff) DelayWithHint(attempt int, err error) time.Duration {
	d := b.Delay(attempt)
	if hint := tberrors.RetryAfterHint(err); hint > 0 {
		if hd := time.Duration(hint) * time.Second; hd > d {
			return hd
		}
	}
	return d
}

// Retry executes fn up to attempts times with the given backoff.
// It only retries errors wrapped with [RetryableError] or carrying a
// retryable taxonomy code; other errors are returned immediately.
// Returns the last error if all attempts fail, or ctx.Err() if cancelled.
func Retry(ctx context.Context, attempts int, backoff Backoff, fn func() error) error {
	attempts = max(attempts, 1)
	var lastErr error

	for i := range attempts {
		if err := fn(); err == nil {
			return nil
		} else if lastErr = err; !isRetryable(err) {
			return err
		}

		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff.DelayWithHint(i, lastErr)):
			}
		}
	}
	return lastErr
}

// RetryWithBackoff is a convenience wrapper around [Retry] with the
// default policy: 3 attempts under [DefaultBackoff].
func RetryWithBackoff(ctx context.Context, fn func() error) error {
	return Retry(ctx, 3, DefaultBackoff, fn)
}

func isRetryable(err error) bool {
	return errors.As(err, new(*RetryableError)) || tberrors.IsRetryable(err)
}
