package repository

import "github.com/quantumlife/responsibility/internal/core"

// EffectKind names a side effect requested by a mutation.
type EffectKind string

const (
	EffectPersistSnapshot     EffectKind = "persist_snapshot"
	EffectScheduleReminders   EffectKind = "schedule_reminders"
	EffectRescheduleReminders EffectKind = "reschedule_reminders"
	EffectCancelReminders     EffectKind = "cancel_reminders"
	EffectScheduleSnoozeWake  EffectKind = "schedule_snooze_wake"
	EffectMirrorEvent         EffectKind = "mirror_event"
	EffectReleaseEvent        EffectKind = "release_event"
)

// Effect is work a mutation leaves for the effect runner. The state change
// it belongs to has already committed by the time anyone sees it.
type Effect struct {
	Kind EffectKind
	ID   string

	// Responsibility is the record as of the mutation, for scheduling and
	// mirroring effects.
	Responsibility *core.Responsibility

	// Snapshot is the full collection, for EffectPersistSnapshot.
	Snapshot []*core.Responsibility

	// CalendarEventID is the event to release, for EffectReleaseEvent.
	CalendarEventID string
}

func persist(snapshot []*core.Responsibility) Effect {
	return Effect{Kind: EffectPersistSnapshot, Snapshot: snapshot}
}

func forRecord(kind EffectKind, r *core.Responsibility) Effect {
	return Effect{Kind: kind, ID: r.ID, Responsibility: r.Clone()}
}
