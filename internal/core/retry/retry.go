// Package retry runs an operation with capped exponential backoff.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy bounds a retry loop. Attempts counts the first call.
type Policy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
	Jitter   bool // scale each delay by a factor in [0.7, 1.3)
}

// Delay returns the wait before attempt+1, where attempt starts at 1.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxD := p.Max
	if maxD <= 0 {
		maxD = 10 * time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	if p.Jitter {
		d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	}
	if d > maxD {
		d = maxD
	}
	return d
}

// Do calls fn until it succeeds, returns an error retryable rejects, the
// attempts run out, or ctx is done. A nil retryable retries every error.
// It returns the number of calls made and the last error.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error, retryable func(error) bool) (int, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return attempt, nil
		}
		if retryable != nil && !retryable(err) {
			return attempt, err
		}
		if attempt == attempts {
			return attempt, err
		}

		t := time.NewTimer(p.Delay(attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return attempt, err
		}
	}
	return attempts, err
}
