// internal/notify/limit.go
package notify

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/solatis/tripwire/internal/core/retry"
	"github.com/solatis/tripwire/internal/types"
)

// RateLimited throttles sends through a token bucket shared by all callers.
type RateLimited struct {
	next    Notifier
	limiter *rate.Limiter
}

// NewRateLimited allows perSec sends per second with the given burst.
// A burst of 0 defaults to perSec, rounded up to at least 1.
func NewRateLimited(next Notifier, perSec float64, burst int) *RateLimited {
	if burst <= 0 {
		burst = int(perSec)
		if burst < 1 {
			burst = 1
		}
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(perSec), burst)}
}

// Send implements Notifier. Waiting for a token honors ctx.
func (r *RateLimited) Send(ctx context.Context, channel types.Channel, recipient, message string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limit: %v", types.ErrNotifyTransient, err)
	}
	return r.next.Send(ctx, channel, recipient, message)
}

// Retrying retries transient send failures with exponential backoff.
// Permanent failures return immediately.
type Retrying struct {
	next   Notifier
	policy retry.Policy
}

// NewRetrying wraps next with policy.
func NewRetrying(next Notifier, policy retry.Policy) *Retrying {
	return &Retrying{next: next, policy: policy}
}

// Send implements Notifier.
func (r *Retrying) Send(ctx context.Context, channel types.Channel, recipient, message string) error {
	_, err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		return r.next.Send(ctx, channel, recipient, message)
	}, IsTransient)
	return err
}
