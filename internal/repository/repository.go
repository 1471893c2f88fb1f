// Package repository holds the in-memory Responsibility collection.
//
// The Repository is an explicit object handed to whoever needs it. Each
// mutation is atomic against the in-memory snapshot and returns the new
// record together with the side effects it requires; it never performs I/O
// itself. Concurrent mutations of the same record are last-write-wins.
package repository

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlife/responsibility/internal/core"
	"github.com/quantumlife/responsibility/internal/lifecycle"
)

// Persistence is the snapshot store.
type Persistence interface {
	LoadAll(ctx context.Context) ([]*core.Responsibility, error)
	SaveAll(ctx context.Context, items []*core.Responsibility) error
}

// Patch lists the fields Update may change. Nil fields are left alone.
type Patch struct {
	Title           *string
	Description     *string
	Category        *string
	EnergyRequired  *core.EnergyLevel
	ReminderStyle   *core.ReminderStyle
	EscalationRules *[]core.EscalationRule
	Datetime        *time.Time
	Timezone        *string
	RecurrenceRule  *string
}

// Option configures a Repository.
type Option func(*Repository)

// WithEventMirroring makes mutations request calendar event mirroring.
func WithEventMirroring(enabled bool) Option {
	return func(r *Repository) { r.mirrorEvents = enabled }
}

// Repository is the commitment collection.
type Repository struct {
	mu           sync.RWMutex
	items        []*core.Responsibility
	index        map[string]int
	clock        core.Clock
	mirrorEvents bool
}

// New creates an empty repository.
func New(clock core.Clock, opts ...Option) *Repository {
	if clock == nil {
		clock = core.SystemClock
	}
	r := &Repository{
		index: make(map[string]int),
		clock: clock,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load replaces the in-memory snapshot with what p holds.
func (r *Repository) Load(ctx context.Context, p Persistence) error {
	items, err := p.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load responsibilities: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = make([]*core.Responsibility, 0, len(items))
	r.index = make(map[string]int, len(items))
	for _, it := range items {
		if _, dup := r.index[it.ID]; dup {
			continue
		}
		r.index[it.ID] = len(r.items)
		r.items = append(r.items, it.Clone())
	}
	return nil
}

// -----------------------------------------------------------------------------
// Mutations
// -----------------------------------------------------------------------------

// Add validates and stores a new Responsibility.
func (r *Repository) Add(in *core.Responsibility) (*core.Responsibility, []Effect, error) {
	if err := validate(in); err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	rec := in.Clone()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if _, exists := r.index[rec.ID]; exists {
		return nil, nil, fmt.Errorf("%w: duplicate id %s", core.ErrInvalidInput, rec.ID)
	}
	if rec.Status == "" {
		rec.Status = core.StatusActive
	}
	if rec.Schedule.Kind == "" {
		rec.Schedule.Kind = core.KindOneTime
	}
	if rec.Schedule.Timezone == "" {
		rec.Schedule.Timezone = "UTC"
	}
	rec.Schedule.Datetime = rec.Schedule.Datetime.In(rec.Schedule.Location())
	for i := range rec.Checklist {
		if rec.Checklist[i].ID == "" {
			rec.Checklist[i].ID = uuid.New().String()
		}
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now

	r.index[rec.ID] = len(r.items)
	r.items = append(r.items, rec)

	effects := []Effect{persist(r.snapshotLocked())}
	if !rec.IsTerminal() {
		effects = append(effects, forRecord(EffectScheduleReminders, rec))
		if r.mirrorEvents {
			effects = append(effects, forRecord(EffectMirrorEvent, rec))
		}
	}
	return rec.Clone(), effects, nil
}

// Update applies a patch. Reminders are recreated exactly when the due time
// or the escalation rules change.
func (r *Repository) Update(id string, p Patch) (*core.Responsibility, []Effect, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, err := r.getLocked(id)
	if err != nil {
		return nil, nil, err
	}

	next := cur.Clone()
	if p.Title != nil {
		next.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		next.Description = *p.Description
	}
	if p.Category != nil {
		next.Category = *p.Category
	}
	if p.EnergyRequired != nil {
		next.EnergyRequired = *p.EnergyRequired
	}
	if p.ReminderStyle != nil {
		next.ReminderStyle = *p.ReminderStyle
	}
	if p.EscalationRules != nil {
		next.EscalationRules = append([]core.EscalationRule(nil), (*p.EscalationRules)...)
	}
	if p.Timezone != nil {
		next.Schedule.Timezone = *p.Timezone
	}
	if p.RecurrenceRule != nil {
		next.Schedule.RecurrenceRule = *p.RecurrenceRule
		if *p.RecurrenceRule == "" {
			next.Schedule.Kind = core.KindOneTime
		} else {
			next.Schedule.Kind = core.KindRecurring
		}
	}
	if p.Datetime != nil {
		next.Schedule.Datetime = *p.Datetime
	}
	next.Schedule.Datetime = next.Schedule.Datetime.In(next.Schedule.Location())

	if err := validate(next); err != nil {
		return nil, nil, err
	}

	next.UpdatedAt = r.clock()
	r.putLocked(next)

	effects := []Effect{persist(r.snapshotLocked())}
	timingChanged := !next.Schedule.Datetime.Equal(cur.Schedule.Datetime) ||
		!reflect.DeepEqual(next.EscalationRules, cur.EscalationRules)
	if timingChanged && !next.IsTerminal() {
		effects = append(effects, forRecord(EffectRescheduleReminders, next))
	}
	if r.mirrorEvents && !next.IsTerminal() && (timingChanged || next.Title != cur.Title || next.EnergyRequired != cur.EnergyRequired) {
		effects = append(effects, forRecord(EffectMirrorEvent, next))
	}
	return next.Clone(), effects, nil
}

// Complete marks a record completed and drops its pending reminders.
func (r *Repository) Complete(id string) (*core.Responsibility, []Effect, error) {
	return r.transition(id, func(cur *core.Responsibility, now time.Time) (*core.Responsibility, []EffectKind, error) {
		return lifecycle.Complete(cur, now), []EffectKind{EffectCancelReminders}, nil
	})
}

// Archive marks a record archived and drops its pending reminders.
func (r *Repository) Archive(id string) (*core.Responsibility, []Effect, error) {
	return r.transition(id, func(cur *core.Responsibility, now time.Time) (*core.Responsibility, []EffectKind, error) {
		return lifecycle.Archive(cur, now), []EffectKind{EffectCancelReminders}, nil
	})
}

// Snooze defers a record. Its ladder is replaced by one wake-up reminder at
// until.
func (r *Repository) Snooze(id string, until time.Time) (*core.Responsibility, []Effect, error) {
	return r.transition(id, func(cur *core.Responsibility, now time.Time) (*core.Responsibility, []EffectKind, error) {
		next, err := lifecycle.Snooze(cur, until, now)
		return next, []EffectKind{EffectScheduleSnoozeWake}, err
	})
}

// Reschedule moves the due time and reactivates the record.
func (r *Repository) Reschedule(id string, datetime time.Time) (*core.Responsibility, []Effect, error) {
	return r.transition(id, func(cur *core.Responsibility, now time.Time) (*core.Responsibility, []EffectKind, error) {
		next, err := lifecycle.Reschedule(cur, datetime, now)
		if err != nil {
			return nil, nil, err
		}
		kinds := []EffectKind{EffectRescheduleReminders}
		if r.mirrorEvents {
			kinds = append(kinds, EffectMirrorEvent)
		}
		return next, kinds, nil
	})
}

func (r *Repository) transition(id string, fn func(*core.Responsibility, time.Time) (*core.Responsibility, []EffectKind, error)) (*core.Responsibility, []Effect, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, err := r.getLocked(id)
	if err != nil {
		return nil, nil, err
	}

	next, kinds, err := fn(cur, r.clock())
	if err != nil {
		return nil, nil, err
	}
	r.putLocked(next)

	effects := []Effect{persist(r.snapshotLocked())}
	for _, k := range kinds {
		effects = append(effects, forRecord(k, next))
	}
	return next.Clone(), effects, nil
}

// Delete removes a record. Its reminders are cancelled and its mirrored
// calendar event released.
func (r *Repository) Delete(id string) (*core.Responsibility, []Effect, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", core.ErrResponsibilityNotFound, id)
	}
	removed := r.items[i]

	r.items = append(r.items[:i], r.items[i+1:]...)
	r.reindexLocked()

	effects := []Effect{
		persist(r.snapshotLocked()),
		forRecord(EffectCancelReminders, removed),
	}
	if removed.CalendarEventID != "" {
		effects = append(effects, Effect{
			Kind:            EffectReleaseEvent,
			ID:              removed.ID,
			CalendarEventID: removed.CalendarEventID,
		})
	}
	return removed.Clone(), effects, nil
}

// AddChecklistItem appends a checklist entry.
func (r *Repository) AddChecklistItem(id, label string) (*core.Responsibility, []Effect, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, nil, fmt.Errorf("%w: checklist label", core.ErrMissingRequired)
	}
	return r.checklist(id, func(items []core.ChecklistItem) ([]core.ChecklistItem, error) {
		return append(items, core.ChecklistItem{ID: uuid.New().String(), Label: label}), nil
	})
}

// ToggleChecklistItem flips the done flag of one entry.
func (r *Repository) ToggleChecklistItem(id, itemID string) (*core.Responsibility, []Effect, error) {
	return r.checklist(id, func(items []core.ChecklistItem) ([]core.ChecklistItem, error) {
		for i := range items {
			if items[i].ID == itemID {
				items[i].Done = !items[i].Done
				return items, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", core.ErrChecklistItemNotFound, itemID)
	})
}

// RemoveChecklistItem deletes one entry.
func (r *Repository) RemoveChecklistItem(id, itemID string) (*core.Responsibility, []Effect, error) {
	return r.checklist(id, func(items []core.ChecklistItem) ([]core.ChecklistItem, error) {
		for i := range items {
			if items[i].ID == itemID {
				return append(items[:i], items[i+1:]...), nil
			}
		}
		return nil, fmt.Errorf("%w: %s", core.ErrChecklistItemNotFound, itemID)
	})
}

func (r *Repository) checklist(id string, fn func([]core.ChecklistItem) ([]core.ChecklistItem, error)) (*core.Responsibility, []Effect, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, err := r.getLocked(id)
	if err != nil {
		return nil, nil, err
	}
	next := cur.Clone()
	items, err := fn(next.Checklist)
	if err != nil {
		return nil, nil, err
	}
	next.Checklist = items
	next.UpdatedAt = r.clock()
	r.putLocked(next)

	return next.Clone(), []Effect{persist(r.snapshotLocked())}, nil
}

// SetCalendarEventID records the mirrored event of a record.
func (r *Repository) SetCalendarEventID(id, eventID string) (*core.Responsibility, []Effect, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, err := r.getLocked(id)
	if err != nil {
		return nil, nil, err
	}
	if cur.CalendarEventID == eventID {
		return cur.Clone(), nil, nil
	}
	next := cur.Clone()
	next.CalendarEventID = eventID
	next.UpdatedAt = r.clock()
	r.putLocked(next)

	return next.Clone(), []Effect{persist(r.snapshotLocked())}, nil
}

// ApplyTransitions writes reconciler output. A transition whose record was
// deleted or changed status since the pass read it is skipped; the next pass
// recomputes it from the current state. A record woken from snooze before
// its due time gets its reminder ladder back.
func (r *Repository) ApplyTransitions(ts []lifecycle.Transition) ([]lifecycle.Transition, []Effect) {
	if len(ts) == 0 {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	var applied []lifecycle.Transition
	var woken []*core.Responsibility
	for _, t := range ts {
		cur, err := r.getLocked(t.ID)
		if err != nil || cur.Status != t.From {
			continue
		}
		next := lifecycle.Apply(cur, t, now)
		r.putLocked(next)
		applied = append(applied, t)
		if t.From == core.StatusSnoozed && next.Status == core.StatusActive && next.Schedule.Datetime.After(now) {
			woken = append(woken, next)
		}
	}
	if len(applied) == 0 {
		return nil, nil
	}

	effects := []Effect{persist(r.snapshotLocked())}
	for _, rec := range woken {
		effects = append(effects, forRecord(EffectRescheduleReminders, rec))
	}
	return applied, effects
}

// -----------------------------------------------------------------------------
// Views
// -----------------------------------------------------------------------------

// All returns every record in insertion order.
func (r *Repository) All() []*core.Responsibility {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Len returns the number of records.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Get returns one record.
func (r *Repository) Get(id string) (*core.Responsibility, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cur, err := r.getLocked(id)
	if err != nil {
		return nil, err
	}
	return cur.Clone(), nil
}

// Upcoming returns active records due in [now, now+within), soonest first.
// A non-positive within means no upper bound.
func (r *Repository) Upcoming(now time.Time, within time.Duration) []*core.Responsibility {
	return r.filter(func(it *core.Responsibility) bool {
		if it.Status != core.StatusActive || it.Schedule.Datetime.Before(now) {
			return false
		}
		return within <= 0 || it.Schedule.Datetime.Before(now.Add(within))
	}, byDatetime)
}

// Missed returns missed records, oldest first.
func (r *Repository) Missed() []*core.Responsibility {
	return r.filter(func(it *core.Responsibility) bool {
		return it.Status == core.StatusMissed
	}, byDatetime)
}

// Snoozed returns snoozed records, earliest wake first.
func (r *Repository) Snoozed() []*core.Responsibility {
	return r.filter(func(it *core.Responsibility) bool {
		return it.Status == core.StatusSnoozed
	}, func(a, b *core.Responsibility) bool {
		if a.SnoozedUntil == nil || b.SnoozedUntil == nil {
			return a.SnoozedUntil != nil
		}
		return a.SnoozedUntil.Before(*b.SnoozedUntil)
	})
}

// DoableWindow is how far ahead "doable now" looks.
const DoableWindow = 2 * time.Hour

// DoableNow returns active or missed records that are overdue or due within
// DoableWindow and need no more energy than available.
func (r *Repository) DoableNow(now time.Time, available core.EnergyLevel) []*core.Responsibility {
	horizon := now.Add(DoableWindow)
	return r.filter(func(it *core.Responsibility) bool {
		if it.Status != core.StatusActive && it.Status != core.StatusMissed {
			return false
		}
		if it.Schedule.Datetime.After(horizon) {
			return false
		}
		return it.EnergyRequired.Rank() <= available.Rank()
	}, byDatetime)
}

// ActiveBetween returns active records whose assumed interval overlaps
// [start, end).
func (r *Repository) ActiveBetween(start, end time.Time) []*core.Responsibility {
	window := core.Interval{Start: start, End: end}
	return r.filter(func(it *core.Responsibility) bool {
		return it.Status == core.StatusActive && it.Interval().Overlaps(window)
	}, byDatetime)
}

func (r *Repository) filter(keep func(*core.Responsibility) bool, less func(a, b *core.Responsibility) bool) []*core.Responsibility {
	r.mu.RLock()
	var out []*core.Responsibility
	for _, it := range r.items {
		if keep(it) {
			out = append(out, it.Clone())
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func byDatetime(a, b *core.Responsibility) bool {
	return a.Schedule.Datetime.Before(b.Schedule.Datetime)
}

// -----------------------------------------------------------------------------
// internals
// -----------------------------------------------------------------------------

func (r *Repository) getLocked(id string) (*core.Responsibility, error) {
	i, ok := r.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrResponsibilityNotFound, id)
	}
	return r.items[i], nil
}

func (r *Repository) putLocked(rec *core.Responsibility) {
	r.items[r.index[rec.ID]] = rec
}

func (r *Repository) reindexLocked() {
	r.index = make(map[string]int, len(r.items))
	for i, it := range r.items {
		r.index[it.ID] = i
	}
}

func (r *Repository) snapshotLocked() []*core.Responsibility {
	out := make([]*core.Responsibility, len(r.items))
	for i, it := range r.items {
		out[i] = it.Clone()
	}
	return out
}

func validate(rec *core.Responsibility) error {
	if strings.TrimSpace(rec.Title) == "" {
		return fmt.Errorf("%w: title", core.ErrMissingRequired)
	}
	if rec.Schedule.Datetime.IsZero() {
		return fmt.Errorf("%w: schedule datetime", core.ErrMissingRequired)
	}
	if !rec.EnergyRequired.Valid() {
		return fmt.Errorf("%w: energy level %q", core.ErrInvalidInput, rec.EnergyRequired)
	}
	if !rec.ReminderStyle.Valid() {
		return fmt.Errorf("%w: reminder style %q", core.ErrInvalidInput, rec.ReminderStyle)
	}
	if rec.Status != "" && !rec.Status.Valid() {
		return fmt.Errorf("%w: status %q", core.ErrInvalidInput, rec.Status)
	}
	if rec.Schedule.Timezone != "" {
		if _, err := time.LoadLocation(rec.Schedule.Timezone); err != nil {
			return fmt.Errorf("%w: timezone %q", core.ErrInvalidInput, rec.Schedule.Timezone)
		}
	}
	for _, rule := range rec.EscalationRules {
		if rule.OffsetMinutes < 0 {
			return fmt.Errorf("%w: escalation offset %d must be minutes before the due time", core.ErrInvalidInput, rule.OffsetMinutes)
		}
		if !rule.Channel.Valid() {
			return fmt.Errorf("%w: channel %q", core.ErrInvalidInput, rule.Channel)
		}
		if !rule.Strength.Valid() {
			return fmt.Errorf("%w: strength %q", core.ErrInvalidInput, rule.Strength)
		}
	}
	return nil
}
