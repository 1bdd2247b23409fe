// Package backoff computes retry delays for reconnecting components.
package backoff

import (
	"context"
	"math/rand/v2"
	"time"
)

// MinDelay is the shortest delay Delay returns.
const MinDelay = 100 * time.Millisecond

// Policy bounds an exponential backoff with full jitter. Zero durations
// fall back to DefaultPolicy.
type Policy struct {
	Base time.Duration
	Cap  time.Duration
}

// DefaultPolicy is used wherever no durations were configured.
var DefaultPolicy = Policy{Base: time.Second, Cap: 30 * time.Second}

func (p Policy) bounds() (lo, hi time.Duration) {
	lo, hi = p.Base, p.Cap
	if lo <= 0 {
		lo = DefaultPolicy.Base
	}
	if hi <= 0 {
		hi = DefaultPolicy.Cap
	}
	return lo, max(lo, hi)
}

// Ceiling is the largest delay the policy allows for attempt, before
// jitter: Base doubled attempt times, bounded by Cap.
func (p Policy) Ceiling(attempt int) time.Duration {
	d, hi := p.bounds()
	for range attempt {
		if d >= hi/2 {
			return hi
		}
		d *= 2
	}
	return d
}

// MaxDelay is the effective cap.
func (p Policy) MaxDelay() time.Duration {
	_, hi := p.bounds()
	return hi
}

// Delay returns a uniformly jittered wait in [MinDelay, Ceiling(attempt))
// before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	d := time.Duration(rand.Int64N(int64(p.Ceiling(attempt))))
	return max(d, MinDelay)
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in that case.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
