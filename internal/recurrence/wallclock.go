// internal/recurrence/wallclock.go
package recurrence

import "time"

/*
 * Wall-clock to instant resolution.
 *
 * time.Date leaves the offset choice unspecified for readings that fall in a
 * daylight-saving gap or overlap. resolveWall makes it deterministic: the UTC
 * offset in effect before the transition wins. Ambiguous readings therefore
 * resolve to the earlier instant, and readings inside a gap shift forward by
 * the gap length (02:30 on a spring-forward night becomes 03:30).
 *
 * The offsets on either side are sampled one day before and after the reading,
 * which assumes no zone has two transitions within 48 hours.
 */

const transitionWindow = 24 * 60 * 60 // seconds

// clock is a time of day.
type clock struct {
	hour   int
	minute int
	second int
}

// civilDate is a calendar date without zone.
type civilDate struct {
	year  int
	month time.Month
	day   int
}

// addDays returns d shifted by n calendar days, normalizing month/year overflow.
func (d civilDate) addDays(n int) civilDate {
	t := time.Date(d.year, d.month, d.day+n, 0, 0, 0, 0, time.UTC)
	y, m, dd := t.Date()
	return civilDate{year: y, month: m, day: dd}
}

// addMonths returns the first day of the month n months after d.
func (d civilDate) addMonths(n int) civilDate {
	t := time.Date(d.year, d.month+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	y, m, _ := t.Date()
	return civilDate{year: y, month: m, day: 1}
}

// lastOfMonth returns the last calendar day of d's month.
func (d civilDate) lastOfMonth() civilDate {
	t := time.Date(d.year, d.month+1, 0, 0, 0, 0, 0, time.UTC)
	y, m, dd := t.Date()
	return civilDate{year: y, month: m, day: dd}
}

func (d civilDate) weekday() time.Weekday {
	return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, time.UTC).Weekday()
}

func (d civilDate) String() string {
	return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
}

// dateOf returns the civil date of t in its own location.
func dateOf(t time.Time) civilDate {
	y, m, d := t.Date()
	return civilDate{year: y, month: m, day: d}
}

// resolveWall converts a civil date and clock in loc into an instant.
func resolveWall(d civilDate, c clock, loc *time.Location) time.Time {
	wall := time.Date(d.year, d.month, d.day, c.hour, c.minute, c.second, 0, time.UTC).Unix()
	before := offsetAt(wall-transitionWindow, loc)
	after := offsetAt(wall+transitionWindow, loc)

	if u := wall - before; offsetAt(u, loc) == before {
		return time.Unix(u, 0).In(loc)
	}
	if u := wall - after; offsetAt(u, loc) == after {
		return time.Unix(u, 0).In(loc)
	}
	// Gap: apply the pre-transition offset.
	return time.Unix(wall-before, 0).In(loc)
}

// offsetAt returns loc's UTC offset in seconds at the given unix time.
func offsetAt(unix int64, loc *time.Location) int64 {
	_, off := time.Unix(unix, 0).In(loc).Zone()
	return int64(off)
}
