// Package effects executes the side effects repository mutations ask for.
//
// The state change has already committed when Run is called. Every effect is
// attempted independently and failures are logged, never returned: a failed
// snapshot write is retried by the next mutation, which rewrites the whole
// snapshot, and a failed reminder or calendar call never undoes a mutation.
package effects

import (
	"context"
	"sync"
	"time"

	"github.com/quantumlife/responsibility/internal/core"
	"github.com/quantumlife/responsibility/internal/escalation"
	"github.com/quantumlife/responsibility/internal/logging"
	"github.com/quantumlife/responsibility/internal/repository"
)

// Snapshotter is the local snapshot store
type Snapshotter interface {
	SaveAll(ctx context.Context, items []*core.Responsibility) error
}

// RemoteMirror receives a best-effort copy of each snapshot
type RemoteMirror interface {
	Push(ctx context.Context, items []*core.Responsibility) error
}

// Reminders is the escalation scheduler
type Reminders interface {
	Schedule(ctx context.Context, r *core.Responsibility) []escalation.Handle
	Reschedule(ctx context.Context, r *core.Responsibility) []escalation.Handle
	Cancel(ctx context.Context, id string)
	ScheduleSnoozeWake(ctx context.Context, r *core.Responsibility) (escalation.Handle, bool)
}

// EventMirror keeps a calendar event per Responsibility
type EventMirror interface {
	Upsert(ctx context.Context, r *core.Responsibility) (string, error)
	Release(ctx context.Context, eventID string) error
}

// EventLinker stores the event id a mirror produced
type EventLinker interface {
	SetCalendarEventID(id, eventID string) (*core.Responsibility, []repository.Effect, error)
}

// Option configures a Runner
type Option func(*Runner)

// WithRemoteMirror pushes every snapshot to m in the background
func WithRemoteMirror(m RemoteMirror, timeout time.Duration) Option {
	return func(r *Runner) {
		r.remote = m
		r.remoteTimeout = timeout
	}
}

// WithEventMirror mirrors records to a calendar and links the event ids
func WithEventMirror(m EventMirror, linker EventLinker) Option {
	return func(r *Runner) {
		r.events = m
		r.linker = linker
	}
}

// Runner executes effects
type Runner struct {
	store     Snapshotter
	reminders Reminders
	events    EventMirror
	linker    EventLinker
	log       *logging.Logger

	remote        RemoteMirror
	remoteTimeout time.Duration
	remoteMu      sync.Mutex
	remoteSeq     uint64
	remoteSent    uint64
	wg            sync.WaitGroup
}

// NewRunner creates a runner. reminders may be nil when notifications are
// not wired.
func NewRunner(store Snapshotter, reminders Reminders, opts ...Option) *Runner {
	r := &Runner{
		store:         store,
		reminders:     reminders,
		remoteTimeout: 10 * time.Second,
		log:           logging.Component("effects"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes effects in order
func (r *Runner) Run(ctx context.Context, effects []repository.Effect) {
	for _, e := range effects {
		r.run(ctx, e)
	}
}

func (r *Runner) run(ctx context.Context, e repository.Effect) {
	log := r.log.WithFields(map[string]interface{}{"effect": e.Kind, "id": e.ID})

	switch e.Kind {
	case repository.EffectPersistSnapshot:
		if err := r.store.SaveAll(ctx, e.Snapshot); err != nil {
			log.Error("%v", &core.PersistenceError{Op: "save snapshot", Err: err})
		}
		r.pushRemote(e.Snapshot)

	case repository.EffectScheduleReminders:
		if r.reminders != nil {
			r.reminders.Schedule(ctx, e.Responsibility)
		}

	case repository.EffectRescheduleReminders:
		if r.reminders != nil {
			r.reminders.Reschedule(ctx, e.Responsibility)
		}

	case repository.EffectCancelReminders:
		if r.reminders != nil {
			r.reminders.Cancel(ctx, e.ID)
		}

	case repository.EffectScheduleSnoozeWake:
		if r.reminders != nil {
			r.reminders.ScheduleSnoozeWake(ctx, e.Responsibility)
		}

	case repository.EffectMirrorEvent:
		if r.events == nil {
			return
		}
		eventID, err := r.events.Upsert(ctx, e.Responsibility)
		if err != nil {
			log.Warn("calendar mirror failed: %v", err)
			return
		}
		if r.linker == nil || eventID == e.Responsibility.CalendarEventID {
			return
		}
		_, more, err := r.linker.SetCalendarEventID(e.ID, eventID)
		if err != nil {
			// Deleted while the event was being created.
			log.Warn("link calendar event failed: %v", err)
			if rerr := r.events.Release(ctx, eventID); rerr != nil {
				log.Warn("release orphaned event failed: %v", rerr)
			}
			return
		}
		r.Run(ctx, more)

	case repository.EffectReleaseEvent:
		if r.events == nil {
			return
		}
		if err := r.events.Release(ctx, e.CalendarEventID); err != nil {
			log.Warn("calendar release failed: %v", err)
		}

	default:
		log.Warn("unknown effect")
	}
}

// pushRemote sends the snapshot in the background. A push that finishes
// after a newer one has been sent is skipped.
func (r *Runner) pushRemote(snapshot []*core.Responsibility) {
	if r.remote == nil {
		return
	}

	r.remoteMu.Lock()
	r.remoteSeq++
	seq := r.remoteSeq
	r.remoteMu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		r.remoteMu.Lock()
		defer r.remoteMu.Unlock()
		if seq < r.remoteSent {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.remoteTimeout)
		defer cancel()
		if err := r.remote.Push(ctx, snapshot); err != nil {
			r.log.Warn("remote mirror push failed: %v", err)
			return
		}
		r.remoteSent = seq
	}()
}

// Wait blocks until background pushes finish
func (r *Runner) Wait() {
	r.wg.Wait()
}
