// internal/types/schedule.go
package types

/*
 * Schedule domain types.
 *
 * A Schedule is an immutable recurrence description. Exactly one
 * frequency-specific payload is populated; internal/recurrence validates that
 * invariant and turns the schedule into concrete instants.
 *
 * Wall times are clock readings authored by a subscriber in
 * UserLocalTimeZone. They arrive either as bare readings ("14:00",
 * "2026-03-08", "2026-03-08T14:00") or as RFC 3339 timestamps. A timestamp is
 * converted into the authoring zone to recover the reading the subscriber
 * typed; bare readings are taken literally. The recurrence package then
 * re-anchors that reading in TimeZone.
 */

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Frequency selects the recurrence kind of a schedule.
type Frequency string

const (
	FrequencyOnce    Frequency = "once"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyCustom  Frequency = "custom"
	FrequencyOnTruth Frequency = "on_truth"
)

// Schedule describes when a rule is evaluated.
type Schedule struct {
	Frequency         Frequency       `json:"frequency"`
	TimeZone          string          `json:"time_zone"`
	UserLocalTimeZone string          `json:"user_local_time_zone,omitempty"`
	Date              *WallTime       `json:"date,omitempty"`
	DailyTimes        []WallTime      `json:"daily_times,omitempty"`
	WeeklyTimes       []WeeklyTime    `json:"weekly_times,omitempty"`
	MonthlyOptions    *MonthlyOptions `json:"monthly_options,omitempty"`
	CustomTimes       []CustomTime    `json:"custom_times,omitempty"`
}

// WeeklyTime is one (weekday, time) entry of a weekly schedule.
type WeeklyTime struct {
	Day  Weekday  `json:"day"`
	Time WallTime `json:"time"`
}

// CustomTime is one (date, time) entry of a custom schedule.
// When Time is zero the clock reading of Date is used.
type CustomTime struct {
	Date WallTime `json:"date"`
	Time WallTime `json:"time,omitempty"`
}

// MonthlyOptions selects the first and/or last calendar day of each month.
// Time defaults to 09:00 when nil.
type MonthlyOptions struct {
	FirstOfMonth bool      `json:"first_of_month"`
	LastOfMonth  bool      `json:"last_of_month"`
	Time         *WallTime `json:"time,omitempty"`
}

// Weekday is a time.Weekday that encodes as a lowercase English name.
type Weekday time.Weekday

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// ParseWeekday accepts full or three-letter English names, case-insensitive.
func ParseWeekday(s string) (Weekday, error) {
	d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("%w: unknown weekday %q", ErrInvalidSchedule, s)
	}
	return Weekday(d), nil
}

func (d Weekday) String() string {
	return strings.ToLower(time.Weekday(d).String())
}

// MarshalJSON implements json.Marshaler.
func (d Weekday) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a weekday name or a number 0 (Sunday) through 6.
func (d *Weekday) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		wd, err := ParseWeekday(name)
		if err != nil {
			return err
		}
		*d = wd
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: weekday must be a name or 0-6", ErrInvalidSchedule)
	}
	if n < 0 || n > 6 {
		return fmt.Errorf("%w: weekday %d out of range", ErrInvalidSchedule, n)
	}
	*d = Weekday(n)
	return nil
}

// Reading holds civil clock fields. Date fields are zero when the source had none.
type Reading struct {
	Year   int
	Month  time.Month
	Day    int
	Hour   int
	Minute int
	Second int
}

// WallTime is a subscriber-authored clock reading. See the file header.
type WallTime struct {
	raw      string
	instant  time.Time // non-zero for RFC 3339 input
	hasDate  bool
	hasClock bool
	reading  Reading
}

var wallLayouts = []struct {
	layout string
	date   bool
	clock  bool
}{
	{"2006-01-02T15:04:05", true, true},
	{"2006-01-02T15:04", true, true},
	{"2006-01-02 15:04:05", true, true},
	{"2006-01-02 15:04", true, true},
	{"2006-01-02", true, false},
	{"15:04:05", false, true},
	{"15:04", false, true},
}

// ParseWallTime parses an RFC 3339 timestamp or a bare date/clock reading.
func ParseWallTime(s string) (WallTime, error) {
	text := strings.TrimSpace(s)
	if text == "" {
		return WallTime{}, fmt.Errorf("%w: empty time", ErrInvalidSchedule)
	}
	if t, err := time.Parse(time.RFC3339Nano, text); err == nil {
		return WallTime{raw: text, instant: t, hasDate: true, hasClock: true}, nil
	}
	for _, l := range wallLayouts {
		t, err := time.Parse(l.layout, text)
		if err != nil {
			continue
		}
		w := WallTime{raw: text, hasDate: l.date, hasClock: l.clock}
		if l.date {
			w.reading.Year, w.reading.Month, w.reading.Day = t.Date()
		}
		if l.clock {
			w.reading.Hour, w.reading.Minute, w.reading.Second = t.Clock()
		}
		return w, nil
	}
	return WallTime{}, fmt.Errorf("%w: cannot parse time %q (use RFC 3339, 2006-01-02T15:04 or 15:04)", ErrInvalidSchedule, s)
}

// MustWallTime is ParseWallTime that panics on error. Intended for tests and literals.
func MustWallTime(s string) WallTime {
	w, err := ParseWallTime(s)
	if err != nil {
		panic(err)
	}
	return w
}

// IsZero reports whether w was never set.
func (w WallTime) IsZero() bool { return w.raw == "" }

// HasDate reports whether w carries calendar date fields.
func (w WallTime) HasDate() bool { return w.hasDate }

// HasClock reports whether w carries a clock reading.
func (w WallTime) HasClock() bool { return w.hasClock }

// IsInstant reports whether w was authored as an RFC 3339 timestamp.
func (w WallTime) IsInstant() bool { return !w.instant.IsZero() }

// Reading returns the civil fields of w as authored in loc.
// Timestamps are converted into loc first; bare readings are returned unchanged.
func (w WallTime) Reading(authored *time.Location) Reading {
	if w.instant.IsZero() {
		return w.reading
	}
	t := w.instant.In(authored)
	r := Reading{}
	r.Year, r.Month, r.Day = t.Date()
	r.Hour, r.Minute, r.Second = t.Clock()
	return r
}

func (w WallTime) String() string { return w.raw }

// MarshalJSON encodes the original text.
func (w WallTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.raw)
}

// UnmarshalJSON implements json.Unmarshaler. Empty strings decode to the zero value.
func (w *WallTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: time must be a string", ErrInvalidSchedule)
	}
	if strings.TrimSpace(s) == "" {
		*w = WallTime{}
		return nil
	}
	parsed, err := ParseWallTime(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}
