package lifecycle

import (
	"fmt"
	"time"

	"github.com/quantumlife/responsibility/internal/core"
)

// The explicit transitions below return an updated copy; the input is never
// modified.

// Complete moves any record to completed.
func Complete(r *core.Responsibility, now time.Time) *core.Responsibility {
	out := r.Clone()
	out.Status = core.StatusCompleted
	out.CompletedAt = &now
	out.SnoozedUntil = nil
	out.UpdatedAt = now
	return out
}

// Archive moves any record to archived.
func Archive(r *core.Responsibility, now time.Time) *core.Responsibility {
	out := r.Clone()
	out.Status = core.StatusArchived
	out.SnoozedUntil = nil
	out.CompletedAt = nil
	out.UpdatedAt = now
	return out
}

// Snooze defers an active, missed, or already snoozed record until until.
func Snooze(r *core.Responsibility, until, now time.Time) (*core.Responsibility, error) {
	switch r.Status {
	case core.StatusActive, core.StatusMissed, core.StatusSnoozed:
	default:
		return nil, fmt.Errorf("%w: cannot snooze %s responsibility", core.ErrInvalidTransition, r.Status)
	}
	if !until.After(now) {
		return nil, fmt.Errorf("%w: snooze target %s is not in the future", core.ErrInvalidTransition, until.Format(time.RFC3339))
	}

	out := r.Clone()
	out.Status = core.StatusSnoozed
	out.SnoozedUntil = &until
	out.UpdatedAt = now
	return out, nil
}

// Reschedule sets a new due time and makes the record active again. This is
// the only way out of missed, and also reopens completed or archived records.
func Reschedule(r *core.Responsibility, datetime, now time.Time) (*core.Responsibility, error) {
	if datetime.IsZero() {
		return nil, fmt.Errorf("%w: reschedule needs a datetime", core.ErrInvalidTransition)
	}

	out := r.Clone()
	out.Schedule.Datetime = datetime.In(r.Schedule.Location())
	out.Status = core.StatusActive
	out.SnoozedUntil = nil
	out.CompletedAt = nil
	out.UpdatedAt = now
	return out, nil
}
