package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quantumlife/responsibility/internal/core"
	"github.com/quantumlife/responsibility/internal/lifecycle"
)

var now = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return now }

func newItem(title string, due time.Time) *core.Responsibility {
	return &core.Responsibility{
		Title:          title,
		EnergyRequired: core.EnergyMedium,
		Schedule:       core.Schedule{Kind: core.KindOneTime, Datetime: due, Timezone: "UTC"},
		ReminderStyle:  core.StyleGentle,
	}
}

func kinds(effects []Effect) []EffectKind {
	out := make([]EffectKind, len(effects))
	for i, e := range effects {
		out[i] = e.Kind
	}
	return out
}

func hasKind(effects []Effect, k EffectKind) bool {
	for _, e := range effects {
		if e.Kind == k {
			return true
		}
	}
	return false
}

func mustAdd(t *testing.T, repo *Repository, r *core.Responsibility) *core.Responsibility {
	t.Helper()
	got, _, err := repo.Add(r)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	return got
}

// =============================================================================
// Mutation Tests
// =============================================================================

func TestAdd(t *testing.T) {
	repo := New(fixedClock)

	got, effects, err := repo.Add(newItem("Call mom", now.Add(time.Hour)))
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if got.ID == "" {
		t.Error("Add should assign an id")
	}
	if got.Status != core.StatusActive {
		t.Errorf("status = %s, want active", got.Status)
	}
	if !got.CreatedAt.Equal(now) || !got.UpdatedAt.Equal(now) {
		t.Errorf("timestamps = %v/%v, want %v", got.CreatedAt, got.UpdatedAt, now)
	}
	want := []EffectKind{EffectPersistSnapshot, EffectScheduleReminders}
	if k := kinds(effects); len(k) != 2 || k[0] != want[0] || k[1] != want[1] {
		t.Errorf("effects = %v, want %v", k, want)
	}
	if len(effects[0].Snapshot) != 1 {
		t.Errorf("persist snapshot has %d items, want 1", len(effects[0].Snapshot))
	}
}

func TestAdd_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*core.Responsibility)
		wantErr error
	}{
		{"missing title", func(r *core.Responsibility) { r.Title = "  " }, core.ErrMissingRequired},
		{"missing datetime", func(r *core.Responsibility) { r.Schedule.Datetime = time.Time{} }, core.ErrMissingRequired},
		{"bad energy", func(r *core.Responsibility) { r.EnergyRequired = "extreme" }, core.ErrInvalidInput},
		{"bad style", func(r *core.Responsibility) { r.ReminderStyle = "loud" }, core.ErrInvalidInput},
		{"negative offset", func(r *core.Responsibility) {
			r.EscalationRules = []core.EscalationRule{{OffsetMinutes: -5, Channel: core.ChannelPush, Strength: core.StyleGentle}}
		}, core.ErrInvalidInput},
		{"bad timezone", func(r *core.Responsibility) { r.Schedule.Timezone = "Nowhere/Land" }, core.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := New(fixedClock)
			r := newItem("x", now.Add(time.Hour))
			tt.mutate(r)
			if _, _, err := repo.Add(r); !errors.Is(err, tt.wantErr) {
				t.Errorf("Add() error = %v, want %v", err, tt.wantErr)
			}
			if repo.Len() != 0 {
				t.Error("rejected record must not be stored")
			}
		})
	}
}

func TestAdd_DuplicateID(t *testing.T) {
	repo := New(fixedClock)
	r := newItem("a", now.Add(time.Hour))
	r.ID = "fixed"
	mustAdd(t, repo, r)

	if _, _, err := repo.Add(r); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("duplicate Add() error = %v, want ErrInvalidInput", err)
	}
}

func TestAdd_MirrorsWhenEnabled(t *testing.T) {
	repo := New(fixedClock, WithEventMirroring(true))
	_, effects, err := repo.Add(newItem("a", now.Add(time.Hour)))
	if err != nil {
		t.Fatal(err)
	}
	if !hasKind(effects, EffectMirrorEvent) {
		t.Errorf("effects = %v, want mirror_event", kinds(effects))
	}
}

func TestUpdate_RescheduleEffectOnlyOnTimingChange(t *testing.T) {
	repo := New(fixedClock)
	r := mustAdd(t, repo, newItem("a", now.Add(time.Hour)))

	title := "renamed"
	_, effects, err := repo.Update(r.ID, Patch{Title: &title})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if hasKind(effects, EffectRescheduleReminders) {
		t.Error("title change must not reschedule reminders")
	}

	due := now.Add(3 * time.Hour)
	_, effects, err = repo.Update(r.ID, Patch{Datetime: &due})
	if err != nil {
		t.Fatal(err)
	}
	if !hasKind(effects, EffectRescheduleReminders) {
		t.Error("datetime change must reschedule reminders")
	}

	rules := []core.EscalationRule{{OffsetMinutes: 10, Channel: core.ChannelPush, Strength: core.StylePersistent}}
	_, effects, err = repo.Update(r.ID, Patch{EscalationRules: &rules})
	if err != nil {
		t.Fatal(err)
	}
	if !hasKind(effects, EffectRescheduleReminders) {
		t.Error("rule change must reschedule reminders")
	}

	_, effects, err = repo.Update(r.ID, Patch{EscalationRules: &rules})
	if err != nil {
		t.Fatal(err)
	}
	if hasKind(effects, EffectRescheduleReminders) {
		t.Error("identical rules must not reschedule reminders")
	}
}

func TestUpdate_InvalidLeavesRecord(t *testing.T) {
	repo := New(fixedClock)
	r := mustAdd(t, repo, newItem("a", now.Add(time.Hour)))

	empty := ""
	if _, _, err := repo.Update(r.ID, Patch{Title: &empty}); !errors.Is(err, core.ErrMissingRequired) {
		t.Fatalf("Update() error = %v", err)
	}
	got, _ := repo.Get(r.ID)
	if got.Title != "a" {
		t.Errorf("title = %q, want unchanged", got.Title)
	}
}

func TestLifecycleMutations(t *testing.T) {
	repo := New(fixedClock)
	r := mustAdd(t, repo, newItem("a", now.Add(-time.Hour)))

	snoozed, effects, err := repo.Snooze(r.ID, now.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("Snooze() error = %v", err)
	}
	if snoozed.Status != core.StatusSnoozed {
		t.Errorf("status = %s, want snoozed", snoozed.Status)
	}
	if !hasKind(effects, EffectScheduleSnoozeWake) {
		t.Errorf("effects = %v, want snooze wake", kinds(effects))
	}

	rescheduled, effects, err := repo.Reschedule(r.ID, now.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Reschedule() error = %v", err)
	}
	if rescheduled.Status != core.StatusActive || rescheduled.SnoozedUntil != nil {
		t.Errorf("after reschedule: status %s snooze %v", rescheduled.Status, rescheduled.SnoozedUntil)
	}
	if !hasKind(effects, EffectRescheduleReminders) {
		t.Errorf("effects = %v, want reschedule", kinds(effects))
	}

	completed, effects, err := repo.Complete(r.ID)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if completed.CompletedAt == nil {
		t.Error("completedAt should be set")
	}
	if !hasKind(effects, EffectCancelReminders) {
		t.Errorf("effects = %v, want cancel", kinds(effects))
	}

	if _, _, err := repo.Snooze(r.ID, now.Add(time.Hour)); !errors.Is(err, core.ErrInvalidTransition) {
		t.Errorf("snoozing completed: error = %v", err)
	}

	archived, _, err := repo.Archive(r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if archived.Status != core.StatusArchived {
		t.Errorf("status = %s, want archived", archived.Status)
	}
}

func TestDelete(t *testing.T) {
	repo := New(fixedClock)
	a := mustAdd(t, repo, newItem("a", now.Add(time.Hour)))
	b := mustAdd(t, repo, newItem("b", now.Add(2*time.Hour)))
	if _, _, err := repo.SetCalendarEventID(a.ID, "evt-a"); err != nil {
		t.Fatal(err)
	}

	_, effects, err := repo.Delete(a.ID)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if !hasKind(effects, EffectReleaseEvent) || !hasKind(effects, EffectCancelReminders) {
		t.Errorf("effects = %v, want cancel + release", kinds(effects))
	}
	for _, e := range effects {
		if e.Kind == EffectReleaseEvent && e.CalendarEventID != "evt-a" {
			t.Errorf("release event id = %q", e.CalendarEventID)
		}
	}
	if _, err := repo.Get(a.ID); !errors.Is(err, core.ErrResponsibilityNotFound) {
		t.Errorf("Get(deleted) error = %v", err)
	}
	if got, err := repo.Get(b.ID); err != nil || got.Title != "b" {
		t.Errorf("remaining record lost after reindex: %v %v", got, err)
	}
	if _, _, err := repo.Delete(a.ID); !errors.Is(err, core.ErrResponsibilityNotFound) {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestChecklist(t *testing.T) {
	repo := New(fixedClock)
	r := mustAdd(t, repo, newItem("trip", now.Add(time.Hour)))

	r, _, err := repo.AddChecklistItem(r.ID, "passport")
	if err != nil {
		t.Fatal(err)
	}
	r, _, err = repo.AddChecklistItem(r.ID, "tickets")
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Checklist) != 2 {
		t.Fatalf("checklist = %d items, want 2", len(r.Checklist))
	}

	first := r.Checklist[0].ID
	r, _, err = repo.ToggleChecklistItem(r.ID, first)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Checklist[0].Done {
		t.Error("toggle should mark done")
	}
	if r.Status != core.StatusActive {
		t.Error("checklist edits must not change status")
	}

	r, _, err = repo.RemoveChecklistItem(r.ID, first)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Checklist) != 1 || r.Checklist[0].Label != "tickets" {
		t.Errorf("checklist after remove = %+v", r.Checklist)
	}

	if _, _, err := repo.ToggleChecklistItem(r.ID, "nope"); !errors.Is(err, core.ErrChecklistItemNotFound) {
		t.Errorf("toggle unknown item: error = %v", err)
	}
	if _, _, err := repo.AddChecklistItem(r.ID, " "); !errors.Is(err, core.ErrMissingRequired) {
		t.Errorf("empty label: error = %v", err)
	}
}

func TestApplyTransitions_SkipsStale(t *testing.T) {
	repo := New(fixedClock)
	a := mustAdd(t, repo, newItem("a", now.Add(-time.Hour)))
	b := mustAdd(t, repo, newItem("b", now.Add(-time.Hour)))

	res := lifecycle.Reconcile(now, repo.All())
	if len(res.Transitions) != 2 {
		t.Fatalf("transitions = %d, want 2", len(res.Transitions))
	}

	// A user completes b between the pass and the write.
	if _, _, err := repo.Complete(b.ID); err != nil {
		t.Fatal(err)
	}

	applied, effects := repo.ApplyTransitions(res.Transitions)
	if len(applied) != 1 || applied[0].ID != a.ID {
		t.Errorf("applied = %+v, want only %s", applied, a.ID)
	}
	if !hasKind(effects, EffectPersistSnapshot) {
		t.Error("applied transitions must persist")
	}
	got, _ := repo.Get(b.ID)
	if got.Status != core.StatusCompleted {
		t.Errorf("user action overwritten: b status = %s", got.Status)
	}
}

func TestConcurrentMutations(t *testing.T) {
	repo := New(fixedClock)
	r := mustAdd(t, repo, newItem("a", now.Add(time.Hour)))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			repo.AddChecklistItem(r.ID, "step")
		}()
	}
	wg.Wait()

	got, _ := repo.Get(r.ID)
	if len(got.Checklist) != 20 {
		t.Errorf("checklist = %d items, want 20 (each mutation atomic)", len(got.Checklist))
	}
}

// =============================================================================
// View Tests
// =============================================================================

func TestViews(t *testing.T) {
	repo := New(fixedClock)

	soon := mustAdd(t, repo, newItem("soon", now.Add(30*time.Minute)))
	later := mustAdd(t, repo, newItem("later", now.Add(5*time.Hour)))
	heavy := newItem("heavy", now.Add(time.Hour))
	heavy.EnergyRequired = core.EnergyHigh
	heavy = mustAdd(t, repo, heavy)
	overdue := mustAdd(t, repo, newItem("overdue", now.Add(-time.Hour)))
	snoozed := mustAdd(t, repo, newItem("snoozed", now.Add(-2*time.Hour)))

	if _, _, err := repo.Snooze(snoozed.ID, now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	res := lifecycle.Reconcile(now, repo.All())
	repo.ApplyTransitions(res.Transitions)

	upcoming := repo.Upcoming(now, 2*time.Hour)
	if len(upcoming) != 2 || upcoming[0].ID != soon.ID || upcoming[1].ID != heavy.ID {
		t.Errorf("Upcoming(2h) = %v", titles(upcoming))
	}
	if all := repo.Upcoming(now, 0); len(all) != 3 || all[2].ID != later.ID {
		t.Errorf("Upcoming(unbounded) = %v", titles(all))
	}

	missed := repo.Missed()
	if len(missed) != 1 || missed[0].ID != overdue.ID {
		t.Errorf("Missed() = %v", titles(missed))
	}

	if s := repo.Snoozed(); len(s) != 1 || s[0].ID != snoozed.ID {
		t.Errorf("Snoozed() = %v", titles(s))
	}

	doable := repo.DoableNow(now, core.EnergyMedium)
	if len(doable) != 2 || doable[0].ID != overdue.ID || doable[1].ID != soon.ID {
		t.Errorf("DoableNow(medium) = %v", titles(doable))
	}
	if d := repo.DoableNow(now, core.EnergyHigh); len(d) != 3 {
		t.Errorf("DoableNow(high) = %v", titles(d))
	}

	between := repo.ActiveBetween(now.Add(40*time.Minute), now.Add(4*time.Hour))
	// soon occupies [0:30, 1:30), heavy [1:00, 3:00)
	if len(between) != 2 {
		t.Errorf("ActiveBetween = %v", titles(between))
	}
}

func TestViewsReturnCopies(t *testing.T) {
	repo := New(fixedClock)
	r := mustAdd(t, repo, newItem("a", now.Add(time.Hour)))

	all := repo.All()
	all[0].Title = "tampered"

	got, _ := repo.Get(r.ID)
	if got.Title != "a" {
		t.Error("views must not expose internal records")
	}
}

func titles(items []*core.Responsibility) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Title
	}
	return out
}

// =============================================================================
// Load Tests
// =============================================================================

type memPersistence struct {
	items []*core.Responsibility
	err   error
}

func (m *memPersistence) LoadAll(ctx context.Context) ([]*core.Responsibility, error) {
	return m.items, m.err
}

func (m *memPersistence) SaveAll(ctx context.Context, items []*core.Responsibility) error {
	m.items = items
	return m.err
}

func TestLoad(t *testing.T) {
	src := New(fixedClock)
	mustAdd(t, src, newItem("a", now.Add(time.Hour)))
	mustAdd(t, src, newItem("b", now.Add(2*time.Hour)))

	p := &memPersistence{items: src.All()}
	repo := New(fixedClock)
	if err := repo.Load(context.Background(), p); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if repo.Len() != 2 {
		t.Errorf("Len() = %d, want 2", repo.Len())
	}

	failing := &memPersistence{err: errors.New("disk gone")}
	if err := repo.Load(context.Background(), failing); err == nil {
		t.Error("Load() should surface persistence errors")
	}
	if repo.Len() != 2 {
		t.Error("failed Load must keep the current snapshot")
	}
}

func TestApplyTransitions_WakeRestoresReminders(t *testing.T) {
	at := now
	repo := New(func() time.Time { return at })

	later := mustAdd(t, repo, newItem("due later", now.Add(3*time.Hour)))
	overdue := mustAdd(t, repo, newItem("overdue", now.Add(-time.Hour)))
	for _, id := range []string{later.ID, overdue.ID} {
		if _, _, err := repo.Snooze(id, now.Add(time.Hour)); err != nil {
			t.Fatalf("Snooze(%s) error = %v", id, err)
		}
	}

	at = now.Add(90 * time.Minute)
	res := lifecycle.Reconcile(at, repo.All())
	applied, effects := repo.ApplyTransitions(res.Transitions)
	if len(applied) != 2 {
		t.Fatalf("applied = %+v, want both woken", applied)
	}

	var rescheduled []string
	for _, e := range effects {
		if e.Kind == EffectRescheduleReminders {
			rescheduled = append(rescheduled, e.ID)
		}
	}
	if len(rescheduled) != 1 || rescheduled[0] != later.ID {
		t.Errorf("rescheduled = %v, want only %s", rescheduled, later.ID)
	}
	if got, _ := repo.Get(overdue.ID); got.Status != core.StatusMissed {
		t.Errorf("overdue status = %s, want missed", got.Status)
	}
}
