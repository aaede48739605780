// Package notify delivers rule events to recipients.
//
// A Notifier sends one message over one channel. The Dispatcher fans a rule
// event out to its recipients; RateLimited and Retrying wrap any Notifier.
// Real SMS and e-mail gateways live outside tripwire and plug in behind the
// Notifier interface.
package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/solatis/tripwire/internal/types"
)

// Notifier sends message to recipient over channel. Errors wrap
// types.ErrNotifyTransient or types.ErrNotifyPermanent.
type Notifier interface {
	Send(ctx context.Context, channel types.Channel, recipient, message string) error
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return errors.Is(err, types.ErrNotifyTransient)
}

// LogNotifier writes each notification to a logger instead of delivering it.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify.log").Logger()}
}

// Send implements Notifier.
func (n *LogNotifier) Send(_ context.Context, channel types.Channel, recipient, message string) error {
	n.logger.Info().
		Str("channel", string(channel)).
		Str("recipient", recipient).
		Str("message", message).
		Msg("notification")
	return nil
}
