package gateway

import (
	"context"
	"math/rand"
	"time"
)

// Backoff computes retry delays: exponential doubling from Base, capped
// at Max, with optional jitter of up to 25% so synchronized clients do
// not retry in lockstep.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter bool
}

// DefaultBackoff matches the usual REST provider retry profile.
func DefaultBackoff() Backoff {
	return Backoff{Base: 250 * time.Millisecond, Max: 5 * time.Second, Jitter: true}
}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultBackoff().Base
	}
	max := b.Max
	if max <= 0 {
		max = DefaultBackoff().Max
	}

	if attempt < 1 {
		attempt = 1
	}

	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}

	if b.Jitter {
		d += time.Duration(rand.Int63n(int64(d)/4 + 1))
	}
	return d
}

// SleepWithContext waits for d or until the context is done, whichever
// comes first.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
