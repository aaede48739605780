package api

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/solatis/tripwire/internal/recurrence"
	"github.com/solatis/tripwire/internal/rules"
	"github.com/solatis/tripwire/internal/types"
)

// Validate checks a rule snapshot and returns its compiled schedule.
func Validate(snap types.RuleSnapshot) (*recurrence.Plan, error) {
	if strings.TrimSpace(string(snap.RuleID)) == "" {
		return nil, fmt.Errorf("%w: rule_id is required", types.ErrInvalidSnapshot)
	}
	plan, err := recurrence.Compile(snap.Schedule)
	if err != nil {
		return nil, err
	}
	if snap.Condition == nil {
		return nil, fmt.Errorf("%w: condition is required", types.ErrInvalidCondition)
	}
	if _, err := rules.Compile(snap.Condition); err != nil {
		return nil, err
	}
	if err := validateEvent(snap.Event); err != nil {
		return nil, err
	}
	return plan, nil
}

func validateEvent(ev types.Event) error {
	if len(ev.ChannelTypes) == 0 {
		return fmt.Errorf("%w: event.channel_types is empty", types.ErrInvalidSnapshot)
	}
	for _, c := range ev.ChannelTypes {
		if !c.Valid() {
			return fmt.Errorf("%w: unknown channel %q", types.ErrInvalidSnapshot, c)
		}
	}
	if len(ev.Recipients) > types.MaxRecipients {
		return fmt.Errorf("%w: %d recipients exceeds limit of %d", types.ErrInvalidSnapshot, len(ev.Recipients), types.MaxRecipients)
	}
	for i, r := range ev.Recipients {
		if !r.Channel.Valid() {
			return fmt.Errorf("%w: recipients[%d]: unknown channel %q", types.ErrInvalidSnapshot, i, r.Channel)
		}
		if strings.TrimSpace(r.Address) == "" {
			return fmt.Errorf("%w: recipients[%d]: address is required", types.ErrInvalidSnapshot, i)
		}
	}
	if strings.TrimSpace(ev.Message) == "" {
		return fmt.Errorf("%w: event.message is required", types.ErrInvalidSnapshot)
	}
	return nil
}

// scheduleFingerprint hashes the schedule's wire form. Equal fingerprints
// mean an edit left the recurrence untouched.
func scheduleFingerprint(s types.Schedule) string {
	b, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%x", sha256.Sum256(b))
}
