// Package command turns structured commands from an upstream adapter (CLI
// flags, MCP tool calls, HTTP bodies) into Responsibilities. It does no
// natural-language parsing beyond the small recurrence-hint vocabulary.
package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/quantumlife/responsibility/internal/core"
)

// DefaultLead is how far ahead a command without a schedule is due.
const DefaultLead = time.Hour

// ScheduleInput is the optional schedule of a command.
type ScheduleInput struct {
	Datetime       time.Time `json:"datetime"`
	Timezone       string    `json:"timezone,omitempty"`
	RecurrenceRule string    `json:"recurrence_rule,omitempty"`
}

// Command is what an adapter produces. Only Title is required.
type Command struct {
	Title           string                `json:"title"`
	Description     string                `json:"description,omitempty"`
	Category        string                `json:"category,omitempty"`
	Schedule        *ScheduleInput        `json:"schedule,omitempty"`
	EnergyRequired  string                `json:"energy_required,omitempty"`
	ReminderStyle   string                `json:"reminder_style,omitempty"`
	EscalationRules []core.EscalationRule `json:"escalation_rules,omitempty"`
	RecurrenceHint  string                `json:"recurrence_hint,omitempty"`
	Checklist       []string              `json:"checklist,omitempty"`
}

// Intent is a built command. Options is set when the command carried a
// recurrence hint; Responsibility is then a template for slot planning
// rather than a record to add as is.
type Intent struct {
	Responsibility *core.Responsibility
	Options        *core.SchedulingOptions
}

// Recurring reports whether the intent asks for slot planning.
func (i Intent) Recurring() bool { return i.Options != nil }

// Adapter builds Responsibilities from commands.
type Adapter struct {
	clock    core.Clock
	timezone string
}

// NewAdapter creates an adapter. timezone is used when a command does not
// name one.
func NewAdapter(clock core.Clock, timezone string) *Adapter {
	if clock == nil {
		clock = core.SystemClock
	}
	if timezone == "" || timezone == "Local" {
		timezone = time.Local.String()
	}
	return &Adapter{clock: clock, timezone: timezone}
}

// Build validates cmd and fills in defaults: due in one hour, medium energy,
// gentle reminders, and the escalation ladder of the reminder style.
func (a *Adapter) Build(cmd Command) (Intent, error) {
	title := strings.TrimSpace(cmd.Title)
	if title == "" {
		return Intent{}, fmt.Errorf("%w: title", core.ErrMissingRequired)
	}

	energy := core.EnergyMedium
	if cmd.EnergyRequired != "" {
		e, err := core.ParseEnergyLevel(cmd.EnergyRequired)
		if err != nil {
			return Intent{}, err
		}
		energy = e
	}

	style := core.StyleGentle
	if cmd.ReminderStyle != "" {
		s, err := core.ParseReminderStyle(cmd.ReminderStyle)
		if err != nil {
			return Intent{}, err
		}
		style = s
	}

	rules := cmd.EscalationRules
	if rules == nil {
		rules = core.DefaultEscalationRules(style)
	}
	if err := validateRules(rules); err != nil {
		return Intent{}, err
	}

	sched, err := a.schedule(cmd.Schedule)
	if err != nil {
		return Intent{}, err
	}

	r := &core.Responsibility{
		Title:           title,
		Description:     strings.TrimSpace(cmd.Description),
		Category:        strings.TrimSpace(cmd.Category),
		EnergyRequired:  energy,
		Schedule:        sched,
		ReminderStyle:   style,
		EscalationRules: append([]core.EscalationRule(nil), rules...),
		Status:          core.StatusActive,
	}
	for _, label := range cmd.Checklist {
		if label = strings.TrimSpace(label); label != "" {
			r.Checklist = append(r.Checklist, core.ChecklistItem{Label: label})
		}
	}

	intent := Intent{Responsibility: r}
	if strings.TrimSpace(cmd.RecurrenceHint) != "" {
		opts, err := ParseRecurrenceHint(cmd.RecurrenceHint)
		if err != nil {
			return Intent{}, err
		}
		opts.EnergyLevel = energy
		intent.Options = &opts
	}
	return intent, nil
}

func (a *Adapter) schedule(in *ScheduleInput) (core.Schedule, error) {
	tz := a.timezone
	if in != nil && in.Timezone != "" {
		tz = in.Timezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return core.Schedule{}, fmt.Errorf("%w: timezone %q", core.ErrInvalidInput, tz)
	}

	s := core.Schedule{Kind: core.KindOneTime, Timezone: tz}
	if in == nil || in.Datetime.IsZero() {
		s.Datetime = a.clock().Add(DefaultLead).Truncate(time.Minute).In(loc)
	} else {
		s.Datetime = in.Datetime.In(loc)
	}
	if in != nil && in.RecurrenceRule != "" {
		s.Kind = core.KindRecurring
		s.RecurrenceRule = in.RecurrenceRule
	}
	return s, nil
}

// validateRules enforces the "minutes before" convention: offsets are
// positive and channels known.
func validateRules(rules []core.EscalationRule) error {
	for i, r := range rules {
		if r.OffsetMinutes <= 0 {
			return fmt.Errorf("%w: escalation rule %d offset must be a positive number of minutes before the due time", core.ErrInvalidInput, i)
		}
		if !r.Channel.Valid() {
			return fmt.Errorf("%w: escalation rule %d channel %q", core.ErrInvalidInput, i, r.Channel)
		}
		if !r.Strength.Valid() {
			return fmt.Errorf("%w: escalation rule %d strength %q", core.ErrInvalidInput, i, r.Strength)
		}
	}
	return nil
}

// ParseTime reads a user-supplied instant: RFC 3339, a local
// "YYYY-MM-DD HH:MM" (or with a T), a bare date (09:00 local), or a
// relative "+90m" / "in 2h".
func ParseTime(s string, now time.Time, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if loc == nil {
		loc = time.Local
	}

	rel := ""
	switch {
	case strings.HasPrefix(s, "+"):
		rel = s[1:]
	case strings.HasPrefix(strings.ToLower(s), "in "):
		rel = strings.TrimSpace(s[3:])
	}
	if rel != "" {
		d, err := time.ParseDuration(rel)
		if err != nil || d <= 0 {
			return time.Time{}, fmt.Errorf("%w: duration %q", core.ErrInvalidInput, rel)
		}
		return now.Add(d), nil
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return time.Date(t.Year(), t.Month(), t.Day(), 9, 0, 0, 0, loc), nil
	}
	return time.Time{}, fmt.Errorf("%w: time %q", core.ErrInvalidInput, s)
}
