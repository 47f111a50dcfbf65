// Package retry decides whether a failed delivery is attempted again and how
// long to wait first. It is independent of the circuit breaker.
package retry

import (
	"context"
	"time"

	"github.com/shaharia-lab/notifyrelay/internal/delivery"
)

// Defaults for a zero-valued Policy.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second
)

// Policy bounds attempts per notification and computes a linear backoff:
// the wait before attempt k (k >= 2) is k * BaseDelay.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Default returns the 3 attempts / 2s base policy.
func Default() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

// ShouldRetry reports whether another attempt follows an outcome observed on
// attempt number attempt (1-based). Fatal outcomes never retry.
func (p Policy) ShouldRetry(attempt int, out delivery.Outcome) bool {
	return out.Retryable() && attempt < p.maxAttempts()
}

// Delay returns the backoff before attempt number next. The first attempt
// has no delay. A negative BaseDelay is treated as zero.
func (p Policy) Delay(next int) time.Duration {
	if next < 2 || p.BaseDelay <= 0 {
		return 0
	}
	return time.Duration(next) * p.BaseDelay
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter
// case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
