// Package core defines the fundamental types for the responsibility tracker.
// Everything else in the system reads, schedules, or mutates these types.
package core

import (
	"fmt"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// ENUMS
// -----------------------------------------------------------------------------

// EnergyLevel is how much energy a commitment needs (or how much the user has).
type EnergyLevel string

const (
	EnergyLow    EnergyLevel = "low"
	EnergyMedium EnergyLevel = "medium"
	EnergyHigh   EnergyLevel = "high"
)

// Rank orders energy levels so they can be compared.
func (e EnergyLevel) Rank() int {
	switch e {
	case EnergyLow:
		return 1
	case EnergyMedium:
		return 2
	case EnergyHigh:
		return 3
	default:
		return 0
	}
}

// Valid reports whether e is a known energy level.
func (e EnergyLevel) Valid() bool { return e.Rank() > 0 }

// ParseEnergyLevel parses a case-insensitive energy level.
func ParseEnergyLevel(s string) (EnergyLevel, error) {
	e := EnergyLevel(strings.ToLower(strings.TrimSpace(s)))
	if !e.Valid() {
		return "", fmt.Errorf("%w: energy level %q", ErrInvalidInput, s)
	}
	return e, nil
}

// ReminderStyle is the baseline reminder intensity.
type ReminderStyle string

const (
	StyleGentle     ReminderStyle = "gentle"
	StylePersistent ReminderStyle = "persistent"
	StyleCritical   ReminderStyle = "critical"
)

// Valid reports whether s is a known reminder style.
func (s ReminderStyle) Valid() bool {
	switch s {
	case StyleGentle, StylePersistent, StyleCritical:
		return true
	}
	return false
}

// ParseReminderStyle parses a case-insensitive reminder style.
func ParseReminderStyle(s string) (ReminderStyle, error) {
	st := ReminderStyle(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: reminder style %q", ErrInvalidInput, s)
	}
	return st, nil
}

// Status is the lifecycle state of a Responsibility.
type Status string

const (
	StatusActive    Status = "active"
	StatusMissed    Status = "missed"
	StatusSnoozed   Status = "snoozed"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// Valid reports whether s is one of the five lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusMissed, StatusSnoozed, StatusCompleted, StatusArchived:
		return true
	}
	return false
}

// IsTerminal reports whether the reconciler must leave records in s alone.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusArchived
}

// ScheduleKind distinguishes one-off from recurring commitments.
type ScheduleKind string

const (
	KindOneTime   ScheduleKind = "one-time"
	KindRecurring ScheduleKind = "recurring"
)

// Channel is the delivery channel of a reminder.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelPush, ChannelInApp, ChannelEmail, ChannelSMS:
		return true
	}
	return false
}

// Frequency is the cadence requested for a recurring commitment.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// ParseFrequency parses a case-insensitive frequency.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return f, nil
	}
	return "", fmt.Errorf("%w: frequency %q", ErrInvalidInput, s)
}

// TimeOfDay names a canonical candidate time.
type TimeOfDay string

const (
	Morning   TimeOfDay = "morning"
	Afternoon TimeOfDay = "afternoon"
	Evening   TimeOfDay = "evening"
)

// ParseTimeOfDay parses a case-insensitive time of day.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t := TimeOfDay(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case Morning, Afternoon, Evening:
		return t, nil
	}
	return "", fmt.Errorf("%w: time of day %q", ErrInvalidInput, s)
}

// ParseWeekday parses an English day name ("monday", "Mon").
func ParseWeekday(s string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || (len(name) >= 3 && strings.HasPrefix(full, name)) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: weekday %q", ErrInvalidInput, s)
}

// -----------------------------------------------------------------------------
// RESPONSIBILITY
// -----------------------------------------------------------------------------

// Schedule says when a Responsibility is due. Datetime is always the next
// (or only) occurrence; the recurrence rule never advances it by itself.
type Schedule struct {
	Kind           ScheduleKind `json:"kind"`
	Datetime       time.Time    `json:"datetime"`
	Timezone       string       `json:"timezone"`
	RecurrenceRule string       `json:"recurrence_rule,omitempty"`
}

// Location resolves the schedule timezone, falling back to UTC.
func (s Schedule) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// EscalationRule asks for an extra reminder OffsetMinutes before the due time.
type EscalationRule struct {
	OffsetMinutes int           `json:"offset_minutes"`
	Channel       Channel       `json:"channel"`
	Strength      ReminderStyle `json:"strength"`
}

// ChecklistItem is one step of a Responsibility, independent of its status.
type ChecklistItem struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Done  bool   `json:"done"`
}

// Responsibility is a user commitment.
type Responsibility struct {
	ID              string           `json:"id"`
	Title           string           `json:"title"`
	Description     string           `json:"description,omitempty"`
	Category        string           `json:"category,omitempty"`
	EnergyRequired  EnergyLevel      `json:"energy_required"`
	Schedule        Schedule         `json:"schedule"`
	ReminderStyle   ReminderStyle    `json:"reminder_style"`
	EscalationRules []EscalationRule `json:"escalation_rules,omitempty"`
	Status          Status           `json:"status"`
	SnoozedUntil    *time.Time       `json:"snoozed_until,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	Checklist       []ChecklistItem  `json:"checklist,omitempty"`
	CalendarEventID string           `json:"calendar_event_id,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Clone returns a deep copy so snapshots can be handed out safely.
func (r *Responsibility) Clone() *Responsibility {
	if r == nil {
		return nil
	}
	c := *r
	if r.SnoozedUntil != nil {
		t := *r.SnoozedUntil
		c.SnoozedUntil = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	if r.EscalationRules != nil {
		c.EscalationRules = append([]EscalationRule(nil), r.EscalationRules...)
	}
	if r.Checklist != nil {
		c.Checklist = append([]ChecklistItem(nil), r.Checklist...)
	}
	return &c
}

// IsTerminal reports whether the record is completed or archived.
func (r *Responsibility) IsTerminal() bool { return r.Status.IsTerminal() }

// AssumedDuration is the time a commitment is assumed to occupy. There is no
// duration field: high-energy items take two hours, everything else one.
func (r *Responsibility) AssumedDuration() time.Duration {
	if r.EnergyRequired == EnergyHigh {
		return 120 * time.Minute
	}
	return 60 * time.Minute
}

// Interval is the busy range the commitment occupies.
func (r *Responsibility) Interval() Interval {
	return Interval{Start: r.Schedule.Datetime, End: r.Schedule.Datetime.Add(r.AssumedDuration())}
}

// DefaultEscalationRules returns the ladder used when a command does not
// specify one. Offsets are minutes before the due time.
func DefaultEscalationRules(style ReminderStyle) []EscalationRule {
	switch style {
	case StylePersistent:
		return []EscalationRule{
			{OffsetMinutes: 15, Channel: ChannelPush, Strength: StylePersistent},
		}
	case StyleCritical:
		return []EscalationRule{
			{OffsetMinutes: 60, Channel: ChannelPush, Strength: StylePersistent},
			{OffsetMinutes: 15, Channel: ChannelPush, Strength: StyleCritical},
			{OffsetMinutes: 5, Channel: ChannelSMS, Strength: StyleCritical},
		}
	default:
		return nil
	}
}

// -----------------------------------------------------------------------------
// SCHEDULING VALUES
// -----------------------------------------------------------------------------

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps is the standard half-open overlap test.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Contains reports whether t falls inside the interval.
func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}

// Duration returns End - Start.
func (i Interval) Duration() time.Duration { return i.End.Sub(i.Start) }

// ScheduledSlot is a candidate time produced by the slot finder. It is never
// persisted.
type ScheduledSlot struct {
	Date      string    `json:"date"` // YYYY-MM-DD in the user's timezone
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Score     int       `json:"score"`
	Reason    string    `json:"reason,omitempty"`
}

// SchedulingOptions describes a recurring commitment to place.
type SchedulingOptions struct {
	Frequency       Frequency   `json:"frequency"`
	Count           int         `json:"count,omitempty"`
	DurationMinutes int         `json:"duration_minutes,omitempty"`
	EnergyLevel     EnergyLevel `json:"energy_level,omitempty"`
	PreferredTimes  []TimeOfDay `json:"preferred_times,omitempty"`
	AvoidDays       []string    `json:"avoid_days,omitempty"`
}

// EffectiveCount applies the per-frequency default count.
func (o SchedulingOptions) EffectiveCount() int {
	if o.Count > 0 {
		return o.Count
	}
	switch o.Frequency {
	case FrequencyDaily:
		return 7
	case FrequencyMonthly:
		return 1
	default:
		return 3
	}
}

// EffectiveDuration applies the 60 minute default.
func (o SchedulingOptions) EffectiveDuration() time.Duration {
	if o.DurationMinutes > 0 {
		return time.Duration(o.DurationMinutes) * time.Minute
	}
	return 60 * time.Minute
}

// EffectivePreferredTimes applies the energy-dependent default.
func (o SchedulingOptions) EffectivePreferredTimes() []TimeOfDay {
	if len(o.PreferredTimes) > 0 {
		return o.PreferredTimes
	}
	if o.EnergyLevel == EnergyHigh {
		return []TimeOfDay{Morning}
	}
	return []TimeOfDay{Morning, Evening}
}

// AvoidsDay reports whether d is listed in AvoidDays. Unparseable names are
// ignored.
func (o SchedulingOptions) AvoidsDay(d time.Weekday) bool {
	for _, name := range o.AvoidDays {
		if wd, err := ParseWeekday(name); err == nil && wd == d {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// CLOCK
// -----------------------------------------------------------------------------

// Clock returns the current wall-clock time.
type Clock func() time.Time

// SystemClock is the real clock.
func SystemClock() time.Time { return time.Now() }
