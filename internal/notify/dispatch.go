// internal/notify/dispatch.go
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/solatis/tripwire/internal/types"
)

/*
 * Event fan-out.
 *
 * Dispatch sends a rule event to every recipient whose channel is listed in
 * the event's channel_types, once per distinct (channel, address) pair.
 * Recipients are processed sequentially in declaration order.
 *
 * Failures are per recipient: each is logged with its classification and
 * the next recipient is still attempted. Dispatch never returns an error;
 * the Report tells the caller what happened.
 */

// DefaultSendTimeout bounds a single Send call.
const DefaultSendTimeout = 10 * time.Second

// Report summarizes one dispatch.
type Report struct {
	Sent      int
	Failed    int
	Skipped   int // recipients on channels not enabled for the event
	Duplicate int
}

// Dispatcher fans events out to a Notifier.
type Dispatcher struct {
	notifier    Notifier
	logger      zerolog.Logger
	sendTimeout time.Duration
}

// NewDispatcher creates a Dispatcher. A sendTimeout of 0 uses DefaultSendTimeout.
func NewDispatcher(n Notifier, logger zerolog.Logger, sendTimeout time.Duration) *Dispatcher {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Dispatcher{
		notifier:    n,
		logger:      logger.With().Str("component", "notify.dispatch").Logger(),
		sendTimeout: sendTimeout,
	}
}

// Dispatch delivers ev for rule.
func (d *Dispatcher) Dispatch(ctx context.Context, rule types.RuleID, ev types.Event) Report {
	var rep Report

	enabled := make(map[types.Channel]bool, len(ev.ChannelTypes))
	for _, c := range ev.ChannelTypes {
		enabled[c] = true
	}

	seen := make(map[types.Recipient]bool, len(ev.Recipients))
	for _, rcpt := range ev.Recipients {
		if !enabled[rcpt.Channel] {
			rep.Skipped++
			continue
		}
		if seen[rcpt] {
			rep.Duplicate++
			continue
		}
		seen[rcpt] = true

		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		err := d.notifier.Send(sendCtx, rcpt.Channel, rcpt.Address, ev.Message)
		cancel()

		if err != nil {
			rep.Failed++
			d.logger.Warn().
				Err(err).
				Str("rule_id", string(rule)).
				Str("channel", string(rcpt.Channel)).
				Str("recipient", rcpt.Address).
				Bool("transient", IsTransient(err)).
				Msg("notification failed")
			continue
		}
		rep.Sent++
	}
	return rep
}
