// Package resilience provides retry primitives for upstream failures.
//
// The central type is [Backoff], a jitter-free exponential delay policy.
// The policy itself is a stateless value; callers track their own attempt
// counts, so a single Backoff can be shared across goroutines.
package resilience

import (
	"context"
	"time"
)

// Default backoff parameters.
const (
	defaultInitial    = 1 * time.Second
	defaultMaxDelay   = 30 * time.Second
	defaultMultiplier = 2.0
)

// Backoff is an exponential delay policy without jitter. The zero value is
// usable and applies the package defaults (1s initial, 30s cap, doubling).
type Backoff struct {
	// Initial is the delay before the first retry. Default: 1s.
	Initial time.Duration

	// Max caps the delay regardless of attempt count. Default: 30s.
	Max time.Duration

	// Multiplier is the growth factor between consecutive delays. Values
	// at or below 1 fall back to the default of 2.
	Multiplier float64
}

// Next returns the delay to wait before retry number attempt. Attempt 0 maps
// to Initial; each further attempt multiplies the previous delay, capped at
// Max. Negative attempts are treated as attempt 0.
func (b Backoff) Next(attempt int) time.Duration {
	initial := b.Initial
	if initial <= 0 {
		initial = defaultInitial
	}
	limit := b.Max
	if limit <= 0 {
		limit = defaultMaxDelay
	}
	mult := b.Multiplier
	if mult <= 1 {
		mult = defaultMultiplier
	}

	d := initial
	for range attempt {
		d = time.Duration(float64(d) * mult)
		// A non-positive value means the multiply overflowed.
		if d >= limit || d <= 0 {
			return limit
		}
	}
	if d > limit {
		d = limit
	}
	return d
}

// Sleep blocks for Next(attempt) or until ctx is cancelled, whichever comes
// first. Returns ctx.Err() on cancellation and nil after a full delay.
func (b Backoff) Sleep(ctx context.Context, attempt int) error {
	t := time.NewTimer(b.Next(attempt))
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
