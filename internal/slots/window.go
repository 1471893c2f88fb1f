package slots

import (
	"time"

	"github.com/quantumlife/responsibility/internal/core"
)

// WindowPolicy returns the half-open search window [start, end) for now,
// with day boundaries in loc.
type WindowPolicy func(now time.Time, loc *time.Location) core.Interval

// CurrentWeek is Monday 00:00 through the following Monday 00:00
func CurrentWeek(now time.Time, loc *time.Location) core.Interval {
	today := startOfDay(now, loc)
	offset := (int(today.Weekday()) + 6) % 7 // days since Monday
	start := today.AddDate(0, 0, -offset)
	return core.Interval{Start: start, End: start.AddDate(0, 0, 7)}
}

// NextDays starts at today's midnight and spans n days
func NextDays(n int) WindowPolicy {
	return func(now time.Time, loc *time.Location) core.Interval {
		start := startOfDay(now, loc)
		return core.Interval{Start: start, End: start.AddDate(0, 0, n)}
	}
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// WorkScheduleHint marks days as working or resting
type WorkScheduleHint struct {
	WorkDays []time.Weekday `json:"work_days,omitempty"`
	RestDays []time.Weekday `json:"rest_days,omitempty"`
}

// IsWorkDay reports whether d is a working day
func (h WorkScheduleHint) IsWorkDay(d time.Weekday) bool {
	return containsDay(h.WorkDays, d)
}

// IsRestDay reports whether d is a rest day
func (h WorkScheduleHint) IsRestDay(d time.Weekday) bool {
	return containsDay(h.RestDays, d)
}

// ParseWorkScheduleHint builds a hint from day names. Days not listed as
// work days are rest days; an empty list yields an empty hint.
func ParseWorkScheduleHint(workDays []string) (WorkScheduleHint, error) {
	var h WorkScheduleHint
	if len(workDays) == 0 {
		return h, nil
	}
	for _, name := range workDays {
		d, err := core.ParseWeekday(name)
		if err != nil {
			return WorkScheduleHint{}, err
		}
		if !containsDay(h.WorkDays, d) {
			h.WorkDays = append(h.WorkDays, d)
		}
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if !containsDay(h.WorkDays, d) {
			h.RestDays = append(h.RestDays, d)
		}
	}
	return h, nil
}

func containsDay(days []time.Weekday, d time.Weekday) bool {
	for _, x := range days {
		if x == d {
			return true
		}
	}
	return false
}
