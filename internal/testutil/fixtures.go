package testutil

import (
	"time"

	"github.com/quantumlife/responsibility/internal/core"
)

// Monday is a fixed reference instant, 09:00 UTC on a Monday.
var Monday = time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC)

// ResponsibilityFixture returns a valid one-time commitment due at due.
func ResponsibilityFixture(title string, due time.Time) *core.Responsibility {
	return &core.Responsibility{
		Title:          title,
		Category:       "home",
		EnergyRequired: core.EnergyMedium,
		ReminderStyle:  core.StyleGentle,
		Schedule: core.Schedule{
			Kind:     core.KindOneTime,
			Datetime: due,
			Timezone: "UTC",
		},
	}
}

// CriticalFixture returns a critical commitment with the default ladder.
func CriticalFixture(title string, due time.Time) *core.Responsibility {
	r := ResponsibilityFixture(title, due)
	r.ReminderStyle = core.StyleCritical
	r.EscalationRules = core.DefaultEscalationRules(core.StyleCritical)
	return r
}

// RecurringFixture returns a weekly recurring commitment.
func RecurringFixture(title string, due time.Time, rule string) *core.Responsibility {
	r := ResponsibilityFixture(title, due)
	r.Schedule.Kind = core.KindRecurring
	r.Schedule.RecurrenceRule = rule
	return r
}
