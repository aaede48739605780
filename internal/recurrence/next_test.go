// internal/recurrence/next_test.go
package recurrence

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/solatis/tripwire/internal/types"
)

const ny = "America/New_York"

func mustPlan(t *testing.T, s types.Schedule) *Plan {
	t.Helper()
	p, err := Compile(s)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	return p
}

func utc(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func daily(zone string, times ...string) types.Schedule {
	s := types.Schedule{Frequency: types.FrequencyDaily, TimeZone: zone}
	for _, v := range times {
		s.DailyTimes = append(s.DailyTimes, wt(v))
	}
	return s
}

func TestNext(t *testing.T) {
	tests := []struct {
		name       string
		sched      types.Schedule
		now        string
		firedToday bool
		want       string // empty means no next instant
	}{
		{
			name:  "daily later today",
			sched: daily(ny, "14:00"),
			now:   "2026-06-01T17:00:00Z", // 13:00 EDT
			want:  "2026-06-01T18:00:00Z",
		},
		{
			name:  "daily passed rolls to tomorrow",
			sched: daily(ny, "14:00"),
			now:   "2026-06-01T19:00:00Z",
			want:  "2026-06-02T18:00:00Z",
		},
		{
			name:  "daily exactly now is not next",
			sched: daily(ny, "14:00"),
			now:   "2026-06-01T18:00:00Z",
			want:  "2026-06-02T18:00:00Z",
		},
		{
			name:  "daily picks earliest of several",
			sched: daily(ny, "17:30", "09:00"),
			now:   "2026-06-01T14:00:00Z", // 10:00 EDT
			want:  "2026-06-01T21:30:00Z",
		},
		{
			name:  "daily wraps to earliest tomorrow",
			sched: daily(ny, "17:30", "09:00"),
			now:   "2026-06-01T23:00:00Z",
			want:  "2026-06-02T13:00:00Z",
		},
		{
			name: "timestamp re-anchored from authoring zone",
			sched: types.Schedule{
				Frequency:         types.FrequencyDaily,
				TimeZone:          ny,
				UserLocalTimeZone: "Asia/Tokyo",
				DailyTimes:        []types.WallTime{wt("2026-01-15T14:00:00Z")}, // 23:00 in Tokyo
			},
			now:  "2026-06-01T12:00:00Z",
			want: "2026-06-02T03:00:00Z", // 23:00 EDT
		},
		{
			name: "timestamp defaults to schedule zone",
			sched: types.Schedule{
				Frequency:  types.FrequencyDaily,
				TimeZone:   ny,
				DailyTimes: []types.WallTime{wt("2026-01-15T19:00:00Z")}, // 14:00 EST
			},
			now:  "2026-06-01T12:00:00Z",
			want: "2026-06-01T18:00:00Z", // 14:00 EDT
		},
		{
			name: "weekly same weekday before time",
			sched: types.Schedule{Frequency: types.FrequencyWeekly, TimeZone: ny,
				WeeklyTimes: []types.WeeklyTime{{Day: types.Weekday(time.Monday), Time: wt("09:00")}}},
			now:  "2026-06-01T12:00:00Z", // Monday 08:00 EDT
			want: "2026-06-01T13:00:00Z",
		},
		{
			name: "weekly same weekday after time moves a week",
			sched: types.Schedule{Frequency: types.FrequencyWeekly, TimeZone: ny,
				WeeklyTimes: []types.WeeklyTime{{Day: types.Weekday(time.Monday), Time: wt("09:00")}}},
			now:  "2026-06-01T14:00:00Z",
			want: "2026-06-08T13:00:00Z",
		},
		{
			name: "weekly nearest of two days",
			sched: types.Schedule{Frequency: types.FrequencyWeekly, TimeZone: ny,
				WeeklyTimes: []types.WeeklyTime{
					{Day: types.Weekday(time.Monday), Time: wt("09:00")},
					{Day: types.Weekday(time.Friday), Time: wt("18:00")},
				}},
			now:  "2026-06-03T12:00:00Z", // Wednesday
			want: "2026-06-05T22:00:00Z",
		},
		{
			name: "monthly first rolls to next month",
			sched: types.Schedule{Frequency: types.FrequencyMonthly, TimeZone: ny,
				MonthlyOptions: &types.MonthlyOptions{FirstOfMonth: true}},
			now:  "2026-06-01T14:00:00Z",
			want: "2026-07-01T13:00:00Z",
		},
		{
			name: "monthly last of february",
			sched: types.Schedule{Frequency: types.FrequencyMonthly, TimeZone: ny,
				MonthlyOptions: &types.MonthlyOptions{LastOfMonth: true}},
			now:  "2026-02-10T12:00:00Z",
			want: "2026-02-28T14:00:00Z",
		},
		{
			name: "monthly last passed rolls to next month end",
			sched: types.Schedule{Frequency: types.FrequencyMonthly, TimeZone: ny,
				MonthlyOptions: &types.MonthlyOptions{LastOfMonth: true}},
			now:  "2026-06-30T14:00:00Z",
			want: "2026-07-31T13:00:00Z",
		},
		{
			name: "monthly both picks nearest",
			sched: types.Schedule{Frequency: types.FrequencyMonthly, TimeZone: ny,
				MonthlyOptions: &types.MonthlyOptions{FirstOfMonth: true, LastOfMonth: true, Time: wtp("07:15")}},
			now:  "2026-06-15T12:00:00Z",
			want: "2026-06-30T11:15:00Z",
		},
		{
			name: "monthly december rolls into january",
			sched: types.Schedule{Frequency: types.FrequencyMonthly, TimeZone: "UTC",
				MonthlyOptions: &types.MonthlyOptions{FirstOfMonth: true}},
			now:  "2026-12-05T00:00:00Z",
			want: "2027-01-01T09:00:00Z",
		},
		{
			name: "custom earliest future entry",
			sched: types.Schedule{Frequency: types.FrequencyCustom, TimeZone: ny,
				CustomTimes: []types.CustomTime{
					{Date: wt("2026-06-10"), Time: wt("08:00")},
					{Date: wt("2026-06-05T12:00")},
					{Date: wt("2026-05-01"), Time: wt("10:00")},
				}},
			now:  "2026-06-01T00:00:00Z",
			want: "2026-06-05T16:00:00Z",
		},
		{
			name: "custom all past",
			sched: types.Schedule{Frequency: types.FrequencyCustom, TimeZone: ny,
				CustomTimes: []types.CustomTime{{Date: wt("2026-05-01"), Time: wt("10:00")}}},
			now:  "2026-06-01T00:00:00Z",
			want: "",
		},
		{
			name:  "once in future",
			sched: types.Schedule{Frequency: types.FrequencyOnce, TimeZone: ny, Date: wtp("2026-06-10T08:00")},
			now:   "2026-06-01T00:00:00Z",
			want:  "2026-06-10T12:00:00Z",
		},
		{
			name:  "once in past",
			sched: types.Schedule{Frequency: types.FrequencyOnce, TimeZone: ny, Date: wtp("2026-06-10T08:00")},
			now:   "2026-06-11T00:00:00Z",
			want:  "",
		},
		{
			name:  "on truth next slot today",
			sched: types.Schedule{Frequency: types.FrequencyOnTruth, TimeZone: ny},
			now:   "2026-06-01T14:00:00Z", // 10:00 EDT
			want:  "2026-06-01T16:00:00Z",
		},
		{
			name:  "on truth slot boundary is exclusive",
			sched: types.Schedule{Frequency: types.FrequencyOnTruth, TimeZone: ny},
			now:   "2026-06-01T16:00:00Z", // 12:00 EDT
			want:  "2026-06-01T19:00:00Z",
		},
		{
			name:  "on truth after last slot",
			sched: types.Schedule{Frequency: types.FrequencyOnTruth, TimeZone: ny},
			now:   "2026-06-01T23:00:00Z",
			want:  "2026-06-02T13:00:00Z",
		},
		{
			name:       "on truth fired skips to tomorrow morning",
			sched:      types.Schedule{Frequency: types.FrequencyOnTruth, TimeZone: ny},
			now:        "2026-06-01T14:00:00Z",
			firedToday: true,
			want:       "2026-06-02T13:00:00Z",
		},
		{
			name:  "dst fall back ambiguous takes earlier instant",
			sched: daily(ny, "01:30"),
			now:   "2026-10-31T12:00:00Z",
			want:  "2026-11-01T05:30:00Z", // 01:30 EDT
		},
		{
			name:  "dst spring forward gap shifts forward",
			sched: daily(ny, "02:30"),
			now:   "2026-03-07T12:00:00Z",
			want:  "2026-03-08T07:30:00Z", // 03:30 EDT
		},
		{
			name:  "dst day after spring forward",
			sched: daily(ny, "02:30"),
			now:   "2026-03-08T08:00:00Z",
			want:  "2026-03-09T06:30:00Z",
		},
		{
			name:  "dst transition day keeps wall clock",
			sched: daily(ny, "10:00"),
			now:   "2026-03-08T05:00:00Z",
			want:  "2026-03-08T14:00:00Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustPlan(t, tt.sched)
			got, ok := p.Next(utc(tt.now), tt.firedToday)
			if tt.want == "" {
				if ok {
					t.Fatalf("Next() = %v, want none", got.UTC())
				}
				return
			}
			if !ok {
				t.Fatalf("Next() = none, want %v", tt.want)
			}
			if !got.Equal(utc(tt.want)) {
				t.Errorf("Next() = %v, want %v", got.UTC().Format(time.RFC3339), tt.want)
			}
		})
	}
}

func TestLocalDay(t *testing.T) {
	p := mustPlan(t, types.Schedule{Frequency: types.FrequencyOnTruth, TimeZone: ny})
	if got := p.LocalDay(utc("2026-06-02T02:00:00Z")); got != "2026-06-01" {
		t.Errorf("LocalDay() = %v, want 2026-06-01", got)
	}
}

func TestResolveWall_NormalReading(t *testing.T) {
	loc, _ := time.LoadLocation("Europe/Berlin")
	got := resolveWall(civilDate{2026, time.July, 4}, clock{hour: 12, minute: 30}, loc)
	want := time.Date(2026, time.July, 4, 12, 30, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("resolveWall() = %v, want %v", got, want)
	}
}

// Property-based test: next instant is always strictly after now
func TestNext_PropertyStrictlyAfterNow(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	zones := []string{"UTC", ny, "Europe/London", "Australia/Lord_Howe", "Asia/Kathmandu"}
	base := utc("2024-01-01T00:00:00Z").Unix()

	properties.Property("daily next is within two days and after now", prop.ForAll(
		func(offset int64, zoneIdx int, hour int, minute int) bool {
			p, err := Compile(types.Schedule{
				Frequency:  types.FrequencyDaily,
				TimeZone:   zones[zoneIdx],
				DailyTimes: []types.WallTime{types.MustWallTime(time.Date(2000, 1, 1, hour, minute, 0, 0, time.UTC).Format("15:04"))},
			})
			if err != nil {
				return false
			}
			now := time.Unix(base+offset, 0)
			next, ok := p.Next(now, false)
			return ok && next.After(now) && next.Sub(now) <= 49*time.Hour
		},
		gen.Int64Range(0, 4*365*24*3600),
		gen.IntRange(0, len(zones)-1),
		gen.IntRange(0, 23),
		gen.IntRange(0, 59),
	))

	properties.Property("on truth fired lands on next local morning", prop.ForAll(
		func(offset int64, zoneIdx int) bool {
			p, err := Compile(types.Schedule{Frequency: types.FrequencyOnTruth, TimeZone: zones[zoneIdx]})
			if err != nil {
				return false
			}
			now := time.Unix(base+offset, 0)
			next, ok := p.Next(now, true)
			if !ok || !next.After(now) {
				return false
			}
			want := dateOf(now.In(p.Location())).addDays(1)
			return dateOf(next.In(p.Location())) == want && next.In(p.Location()).Hour() == 9
		},
		gen.Int64Range(0, 4*365*24*3600),
		gen.IntRange(0, len(zones)-1),
	))

	properties.Property("next is deterministic", prop.ForAll(
		func(offset int64, fired bool) bool {
			p, err := Compile(types.Schedule{Frequency: types.FrequencyOnTruth, TimeZone: ny})
			if err != nil {
				return false
			}
			now := time.Unix(base+offset, 0)
			a, okA := p.Next(now, fired)
			b, okB := p.Next(now, fired)
			return okA == okB && a.Equal(b)
		},
		gen.Int64Range(0, 4*365*24*3600),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
