// Package planner turns ranked slots into recurring Responsibilities and
// advances them one occurrence at a time.
package planner

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/quantumlife/responsibility/internal/core"
)

// Occurrence bounds per cadence. A recurrence is never open-ended.
const (
	WeeklyOccurrences  = 12
	DailyOccurrences   = 30
	MonthlyOccurrences = 12
)

var byDay = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// RecurrenceRule builds the bounded RRULE for freq anchored at anchor's
// local weekday or day of month.
func RecurrenceRule(freq core.Frequency, anchor time.Time) (string, error) {
	switch freq {
	case core.FrequencyWeekly:
		return fmt.Sprintf("FREQ=WEEKLY;BYDAY=%s;COUNT=%d", byDay[anchor.Weekday()], WeeklyOccurrences), nil
	case core.FrequencyDaily:
		return fmt.Sprintf("FREQ=DAILY;COUNT=%d", DailyOccurrences), nil
	case core.FrequencyMonthly:
		return fmt.Sprintf("FREQ=MONTHLY;BYMONTHDAY=%d;COUNT=%d", anchor.Day(), MonthlyOccurrences), nil
	}
	return "", fmt.Errorf("%w: frequency %q", core.ErrInvalidInput, freq)
}

// ParseRule validates an RRULE string
func ParseRule(s string) (*rrule.ROption, error) {
	opt, err := rrule.StrToROption(s)
	if err != nil {
		return nil, fmt.Errorf("%w: recurrence rule %q: %v", core.ErrInvalidInput, s, err)
	}
	return opt, nil
}

// Next returns the occurrence after dt for a rule whose first occurrence is
// dt, plus the rule to carry on that occurrence. ok is false when the rule
// is exhausted.
func Next(rule string, dt time.Time) (next time.Time, rest string, ok bool, err error) {
	opt, err := ParseRule(rule)
	if err != nil {
		return time.Time{}, "", false, err
	}

	remaining := opt.Count
	if remaining == 1 {
		return time.Time{}, "", false, nil
	}

	opt.Dtstart = dt
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return time.Time{}, "", false, fmt.Errorf("%w: recurrence rule %q: %v", core.ErrInvalidInput, rule, err)
	}

	next = r.After(dt, false)
	if next.IsZero() {
		return time.Time{}, "", false, nil
	}

	rest = rule
	if remaining > 1 {
		rest = withCount(rule, remaining-1)
	}
	return next, rest, true, nil
}

// withCount rewrites the COUNT part, leaving the rest of the rule as written.
func withCount(rule string, count int) string {
	parts := strings.Split(rule, ";")
	for i, p := range parts {
		if strings.HasPrefix(strings.ToUpper(p), "COUNT=") {
			parts[i] = "COUNT=" + strconv.Itoa(count)
		}
	}
	return strings.Join(parts, ";")
}
