// internal/recurrence/next.go
package recurrence

import (
	"time"

	"github.com/solatis/tripwire/internal/types"
)

// Next returns the earliest firing instant strictly after now.
//
// firedToday reports whether the rule's condition was satisfied on the run
// that is being rescheduled; only on-truth schedules read it. The second
// return is false when the schedule has no future occurrence.
func (p *Plan) Next(now time.Time, firedToday bool) (time.Time, bool) {
	today := dateOf(now.In(p.loc))

	var c candidates
	c.now = now

	switch p.frequency {
	case types.FrequencyOnce:
		c.offer(resolveWall(p.once.date, p.once.clock, p.loc))

	case types.FrequencyDaily:
		for _, ck := range p.daily {
			c.offer(p.nextOn(today, 1, ck, now))
		}

	case types.FrequencyWeekly:
		for _, s := range p.weekly {
			offset := (int(s.day) - int(today.weekday()) + 7) % 7
			c.offer(p.nextOn(today.addDays(offset), 7, s.clock, now))
		}

	case types.FrequencyMonthly:
		if p.first {
			c.offer(p.firstOfMonth(today, now))
		}
		if p.last {
			c.offer(p.lastOfMonth(today, now))
		}

	case types.FrequencyCustom:
		for _, d := range p.custom {
			c.offer(resolveWall(d.date, d.clock, p.loc))
		}

	case types.FrequencyOnTruth:
		if firedToday {
			return resolveWall(today.addDays(1), onTruthSlots[0], p.loc), true
		}
		for _, s := range onTruthSlots {
			c.offer(resolveWall(today, s, p.loc))
		}
		c.offer(resolveWall(today.addDays(1), onTruthSlots[0], p.loc))
	}

	return c.best, c.ok
}

// nextOn resolves ck on day and, if that is not after now, on day+step.
func (p *Plan) nextOn(day civilDate, step int, ck clock, now time.Time) time.Time {
	t := resolveWall(day, ck, p.loc)
	if !t.After(now) {
		t = resolveWall(day.addDays(step), ck, p.loc)
	}
	return t
}

func (p *Plan) firstOfMonth(today civilDate, now time.Time) time.Time {
	t := resolveWall(today.addMonths(0), p.monthly, p.loc)
	if !t.After(now) {
		t = resolveWall(today.addMonths(1), p.monthly, p.loc)
	}
	return t
}

func (p *Plan) lastOfMonth(today civilDate, now time.Time) time.Time {
	t := resolveWall(today.lastOfMonth(), p.monthly, p.loc)
	if !t.After(now) {
		t = resolveWall(today.addMonths(1).lastOfMonth(), p.monthly, p.loc)
	}
	return t
}

// candidates keeps the minimum instant strictly after now.
type candidates struct {
	now  time.Time
	best time.Time
	ok   bool
}

func (c *candidates) offer(t time.Time) {
	if !t.After(c.now) {
		return
	}
	if !c.ok || t.Before(c.best) {
		c.best, c.ok = t, true
	}
}
