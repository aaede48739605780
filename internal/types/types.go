// Package types provides domain models shared across tripwire components.
//
// Schedules, condition trees, rule snapshots and jobs live here so that the
// recurrence, rules, jobstore and worker packages can exchange them without
// importing one another. JSON shapes defined here are the persisted wire format
// of the job payload.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobID represents a UUIDv7 job identifier.
type JobID string

// RuleID identifies a rule owned by the external CRUD layer.
// Opaque to the scheduler; uniqueness is enforced per job store.
type RuleID string

// Channel names a notification delivery channel.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelSMS || c == ChannelEmail
}

// Recipient is one delivery target of a rule event.
type Recipient struct {
	Channel Channel `json:"channel"`
	Address string  `json:"address"`
}

// Event describes what to send when a rule's condition is satisfied.
// Only recipients whose channel appears in ChannelTypes are notified.
type Event struct {
	ChannelTypes []Channel   `json:"channel_types"`
	Recipients   []Recipient `json:"recipients"`
	Message      string      `json:"message"`
}

// RuleSnapshot is the subset of a rule the scheduler reads, frozen into the job payload.
type RuleSnapshot struct {
	RuleID       RuleID    `json:"rule_id"`
	SubscriberID string    `json:"subscriber_id"`
	Condition    Condition `json:"-"`
	Event        Event     `json:"event"`
	Schedule     Schedule  `json:"schedule"`
	IsActive     bool      `json:"is_active"`
}

type ruleSnapshotJSON struct {
	RuleID       RuleID          `json:"rule_id"`
	SubscriberID string          `json:"subscriber_id"`
	Condition    json.RawMessage `json:"condition"`
	Event        Event           `json:"event"`
	Schedule     Schedule        `json:"schedule"`
	IsActive     bool            `json:"is_active"`
}

// MarshalJSON encodes the snapshot with its condition in all/any/fact form.
func (s RuleSnapshot) MarshalJSON() ([]byte, error) {
	var cond json.RawMessage
	if s.Condition != nil {
		b, err := MarshalCondition(s.Condition)
		if err != nil {
			return nil, err
		}
		cond = b
	}
	return json.Marshal(ruleSnapshotJSON{
		RuleID:       s.RuleID,
		SubscriberID: s.SubscriberID,
		Condition:    cond,
		Event:        s.Event,
		Schedule:     s.Schedule,
		IsActive:     s.IsActive,
	})
}

// UnmarshalJSON decodes a snapshot, parsing the condition tree.
func (s *RuleSnapshot) UnmarshalJSON(data []byte) error {
	var raw ruleSnapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var cond Condition
	if len(raw.Condition) > 0 && string(raw.Condition) != "null" {
		c, err := UnmarshalCondition(raw.Condition)
		if err != nil {
			return fmt.Errorf("condition: %w", err)
		}
		cond = c
	}
	*s = RuleSnapshot{
		RuleID:       raw.RuleID,
		SubscriberID: raw.SubscriberID,
		Condition:    cond,
		Event:        raw.Event,
		Schedule:     raw.Schedule,
		IsActive:     raw.IsActive,
	}
	return nil
}

// Job is a scheduled execution of one rule. Exactly one job exists per rule.
type Job struct {
	ID            JobID
	RuleID        RuleID
	NextRunAt     time.Time
	Payload       RuleSnapshot
	LockOwner     string     // empty when unclaimed
	LockExpiresAt *time.Time // nil when unclaimed
	Revision      int64      // incremented on every snapshot update
	LastRunAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Limits enforced at validation time.
const (
	// MaxConditionDepth bounds recursion during evaluation.
	MaxConditionDepth = 16

	// MaxGroupChildren bounds fan-out of a single all/any group.
	MaxGroupChildren = 64

	// MaxScheduleEntries bounds daily/weekly/custom time lists.
	MaxScheduleEntries = 64

	// MaxRecipients bounds notifications per firing.
	MaxRecipients = 32
)
