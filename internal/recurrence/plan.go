// internal/recurrence/plan.go
package recurrence

import (
	"fmt"
	"sort"
	"time"

	"github.com/solatis/tripwire/internal/types"
)

/*
 * Schedule compilation.
 *
 * Compile validates a types.Schedule and converts every authored wall time
 * into a zone-free civil reading. The resulting Plan holds no references to
 * the input and computes instants only through Next, which is pure: the same
 * (plan, now, firedToday) always yields the same instant.
 *
 * Re-anchoring: RFC 3339 inputs are first converted into the authoring zone
 * (UserLocalTimeZone, falling back to TimeZone) to recover the reading the
 * subscriber saw, and that reading is then interpreted in TimeZone. Bare
 * readings skip the first step.
 *
 * All recurrence errors surface here. Next never fails; it reports false
 * when no instant after now exists.
 */

// defaultMonthlyClock applies when monthly_options.time is omitted.
var defaultMonthlyClock = clock{hour: 9}

// onTruthSlots are the fixed daily evaluation slots of on-truth schedules.
var onTruthSlots = []clock{{hour: 9}, {hour: 12}, {hour: 15}, {hour: 18}}

type weeklySlot struct {
	day   time.Weekday
	clock clock
}

type dated struct {
	date  civilDate
	clock clock
}

// Plan is a validated, compiled schedule.
type Plan struct {
	frequency types.Frequency
	loc       *time.Location

	once    dated
	daily   []clock
	weekly  []weeklySlot
	first   bool
	last    bool
	monthly clock
	custom  []dated
}

// Frequency returns the recurrence kind.
func (p *Plan) Frequency() types.Frequency { return p.frequency }

// Location returns the schedule's evaluation zone.
func (p *Plan) Location() *time.Location { return p.loc }

// LocalDay returns the civil date of now in the schedule zone, as YYYY-MM-DD.
func (p *Plan) LocalDay(now time.Time) string {
	return dateOf(now.In(p.loc)).String()
}

// Compile validates s and returns its Plan.
func Compile(s types.Schedule) (*Plan, error) {
	if s.TimeZone == "" {
		return nil, fmt.Errorf("%w: time_zone is required", types.ErrInvalidSchedule)
	}
	loc, err := loadZone(s.TimeZone)
	if err != nil {
		return nil, err
	}
	authored := loc
	if s.UserLocalTimeZone != "" {
		if authored, err = loadZone(s.UserLocalTimeZone); err != nil {
			return nil, err
		}
	}

	if err := checkPayload(s); err != nil {
		return nil, err
	}

	p := &Plan{frequency: s.Frequency, loc: loc}
	switch s.Frequency {
	case types.FrequencyOnce:
		if !s.Date.HasDate() {
			return nil, fmt.Errorf("%w: once date %q has no calendar date", types.ErrInvalidSchedule, s.Date)
		}
		r := s.Date.Reading(authored)
		p.once = dated{date: readingDate(r), clock: readingClock(r)}

	case types.FrequencyDaily:
		for i, w := range s.DailyTimes {
			if !w.HasClock() {
				return nil, fmt.Errorf("%w: daily_times[%d] %q has no clock", types.ErrInvalidSchedule, i, w)
			}
			p.daily = append(p.daily, readingClock(w.Reading(authored)))
		}

	case types.FrequencyWeekly:
		for i, wt := range s.WeeklyTimes {
			if wt.Day < 0 || wt.Day > 6 {
				return nil, fmt.Errorf("%w: weekly_times[%d] day %d out of range", types.ErrInvalidSchedule, i, wt.Day)
			}
			if !wt.Time.HasClock() {
				return nil, fmt.Errorf("%w: weekly_times[%d] %q has no clock", types.ErrInvalidSchedule, i, wt.Time)
			}
			p.weekly = append(p.weekly, weeklySlot{
				day:   time.Weekday(wt.Day),
				clock: readingClock(wt.Time.Reading(authored)),
			})
		}

	case types.FrequencyMonthly:
		mo := s.MonthlyOptions
		if !mo.FirstOfMonth && !mo.LastOfMonth {
			return nil, fmt.Errorf("%w: monthly_options selects no day", types.ErrInvalidSchedule)
		}
		p.first, p.last = mo.FirstOfMonth, mo.LastOfMonth
		p.monthly = defaultMonthlyClock
		if mo.Time != nil && !mo.Time.IsZero() {
			if !mo.Time.HasClock() {
				return nil, fmt.Errorf("%w: monthly_options.time %q has no clock", types.ErrInvalidSchedule, mo.Time)
			}
			p.monthly = readingClock(mo.Time.Reading(authored))
		}

	case types.FrequencyCustom:
		for i, ct := range s.CustomTimes {
			d, err := customEntry(ct, authored)
			if err != nil {
				return nil, fmt.Errorf("custom_times[%d]: %w", i, err)
			}
			p.custom = append(p.custom, d)
		}

	case types.FrequencyOnTruth:
		// Fixed slots, no payload.
	}

	sort.Slice(p.daily, func(i, j int) bool { return p.daily[i].before(p.daily[j]) })
	return p, nil
}

// checkPayload enforces that exactly the payload matching the frequency is set.
func checkPayload(s types.Schedule) error {
	present := map[types.Frequency]bool{
		types.FrequencyOnce:    s.Date != nil && !s.Date.IsZero(),
		types.FrequencyDaily:   len(s.DailyTimes) > 0,
		types.FrequencyWeekly:  len(s.WeeklyTimes) > 0,
		types.FrequencyMonthly: s.MonthlyOptions != nil,
		types.FrequencyCustom:  len(s.CustomTimes) > 0,
	}

	switch s.Frequency {
	case types.FrequencyOnce, types.FrequencyDaily, types.FrequencyWeekly,
		types.FrequencyMonthly, types.FrequencyCustom, types.FrequencyOnTruth:
	case "":
		return fmt.Errorf("%w: frequency is required", types.ErrInvalidSchedule)
	default:
		return fmt.Errorf("%w: unknown frequency %q", types.ErrInvalidSchedule, s.Frequency)
	}

	for f, ok := range present {
		if ok && f != s.Frequency {
			return fmt.Errorf("%w: %s payload set on %s schedule", types.ErrInvalidSchedule, f, s.Frequency)
		}
	}
	if s.Frequency != types.FrequencyOnTruth && !present[s.Frequency] {
		return fmt.Errorf("%w: %s schedule has no payload", types.ErrInvalidSchedule, s.Frequency)
	}

	for _, n := range []int{len(s.DailyTimes), len(s.WeeklyTimes), len(s.CustomTimes)} {
		if n > types.MaxScheduleEntries {
			return fmt.Errorf("%w: %d entries exceeds limit %d", types.ErrInvalidSchedule, n, types.MaxScheduleEntries)
		}
	}
	return nil
}

func customEntry(ct types.CustomTime, authored *time.Location) (dated, error) {
	if !ct.Date.HasDate() {
		return dated{}, fmt.Errorf("%w: date %q has no calendar date", types.ErrInvalidSchedule, ct.Date)
	}
	r := ct.Date.Reading(authored)
	d := dated{date: readingDate(r)}
	switch {
	case !ct.Time.IsZero():
		if !ct.Time.HasClock() {
			return dated{}, fmt.Errorf("%w: time %q has no clock", types.ErrInvalidSchedule, ct.Time)
		}
		d.clock = readingClock(ct.Time.Reading(authored))
	case ct.Date.HasClock():
		d.clock = readingClock(r)
	default:
		return dated{}, fmt.Errorf("%w: %q has no clock and no time given", types.ErrInvalidSchedule, ct.Date)
	}
	return d, nil
}

func loadZone(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w %q: %v", types.ErrInvalidSchedule, types.ErrUnknownTimeZone, name, err)
	}
	return loc, nil
}

func readingDate(r types.Reading) civilDate {
	return civilDate{year: r.Year, month: r.Month, day: r.Day}
}

func readingClock(r types.Reading) clock {
	return clock{hour: r.Hour, minute: r.Minute, second: r.Second}
}

func (c clock) before(o clock) bool {
	if c.hour != o.hour {
		return c.hour < o.hour
	}
	if c.minute != o.minute {
		return c.minute < o.minute
	}
	return c.second < o.second
}
