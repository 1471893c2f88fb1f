package planner

import (
	"context"
	"fmt"

	"github.com/quantumlife/responsibility/internal/core"
	"github.com/quantumlife/responsibility/internal/logging"
)

// Sink stores a new Responsibility and starts its reminders
type Sink interface {
	Create(ctx context.Context, r *core.Responsibility) (*core.Responsibility, error)
}

// Plan reports what a materialization produced. Limited is set when fewer
// slots were available than requested; that is not an error.
type Plan struct {
	Created   []*core.Responsibility `json:"created"`
	Requested int                    `json:"requested"`
	Limited   bool                   `json:"limited"`
	Failed    []string               `json:"failed,omitempty"`
}

// Materializer creates one recurring Responsibility per slot
type Materializer struct {
	sink Sink
	log  *logging.Logger
}

// NewMaterializer creates a materializer writing to sink
func NewMaterializer(sink Sink) *Materializer {
	return &Materializer{sink: sink, log: logging.Component("planner")}
}

// Build makes the record for one slot from template. The template's
// schedule and lifecycle fields are ignored.
func Build(template *core.Responsibility, freq core.Frequency, slot core.ScheduledSlot) (*core.Responsibility, error) {
	rule, err := RecurrenceRule(freq, slot.StartTime)
	if err != nil {
		return nil, err
	}

	r := template.Clone()
	r.ID = ""
	r.Schedule = core.Schedule{
		Kind:           core.KindRecurring,
		Datetime:       slot.StartTime,
		Timezone:       template.Schedule.Timezone,
		RecurrenceRule: rule,
	}
	r.Status = core.StatusActive
	r.SnoozedUntil = nil
	r.CompletedAt = nil
	r.CalendarEventID = ""
	for i := range r.Checklist {
		r.Checklist[i].ID = ""
		r.Checklist[i].Done = false
	}
	return r, nil
}

// Materialize creates a record for each slot. A record the sink rejects is
// logged and listed in Failed; the rest are still created.
func (m *Materializer) Materialize(ctx context.Context, template *core.Responsibility, opts core.SchedulingOptions, slots []core.ScheduledSlot) (Plan, error) {
	plan := Plan{Requested: opts.EffectiveCount()}
	plan.Limited = len(slots) < plan.Requested

	for _, slot := range slots {
		r, err := Build(template, opts.Frequency, slot)
		if err != nil {
			return plan, err
		}

		created, err := m.sink.Create(ctx, r)
		if err != nil {
			m.log.WithField("slot", slot.StartTime).Warn("create occurrence failed: %v", err)
			plan.Failed = append(plan.Failed, fmt.Sprintf("%s: %v", slot.Date, err))
			continue
		}
		plan.Created = append(plan.Created, created)
	}

	if plan.Limited {
		m.log.WithFields(map[string]interface{}{
			"title":     template.Title,
			"requested": plan.Requested,
			"created":   len(plan.Created),
		}).Info("availability was limited")
	}
	return plan, nil
}

// NextOccurrence returns the record for the occurrence after r, or nil when
// r is one-time or its rule is exhausted. The new record starts fresh:
// active, unchecked, without a calendar event.
func NextOccurrence(r *core.Responsibility) (*core.Responsibility, error) {
	if r.Schedule.Kind != core.KindRecurring || r.Schedule.RecurrenceRule == "" {
		return nil, nil
	}

	dt := r.Schedule.Datetime.In(r.Schedule.Location())
	next, rest, ok, err := Next(r.Schedule.RecurrenceRule, dt)
	if err != nil || !ok {
		return nil, err
	}

	n := r.Clone()
	n.ID = ""
	n.Schedule.Datetime = next
	n.Schedule.RecurrenceRule = rest
	n.Status = core.StatusActive
	n.SnoozedUntil = nil
	n.CompletedAt = nil
	n.CalendarEventID = ""
	for i := range n.Checklist {
		n.Checklist[i].ID = ""
		n.Checklist[i].Done = false
	}
	return n, nil
}
