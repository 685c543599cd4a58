package transport

import (
	"context"
	"math"
	"time"
)

// Backoff computes the pause before a reconnect attempt. A Multiplier of 1
// or less gives a fixed step.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff starts at one second and never waits more than five.
var DefaultBackoff = Backoff{Initial: time.Second, Max: 5 * time.Second, Multiplier: 2}

// Delay returns the pause after the given 1-based consecutive failure.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Initial)
	if b.Multiplier > 1 {
		d *= math.Pow(b.Multiplier, float64(attempt-1))
	}
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

// sleepCtx waits for d or until ctx is done. It reports false on cancel.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
