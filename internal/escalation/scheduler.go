// Package escalation turns a Responsibility into a ladder of reminders.
//
// Every Responsibility gets one main reminder at its due time plus one per
// escalation rule, fired OffsetMinutes before the due time. Rules whose firing
// time has already passed are skipped. Delivery is delegated to a Channel and
// is best-effort: a rejected reminder is logged and the rest of the ladder is
// still scheduled.
package escalation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quantumlife/responsibility/internal/core"
	"github.com/quantumlife/responsibility/internal/logging"
)

// Kind distinguishes the reminders of one Responsibility.
type Kind string

const (
	KindMain       Kind = "main"
	KindEscalation Kind = "escalation"
	KindSnoozeWake Kind = "snooze_wake"
)

// Handle identifies a scheduled reminder within a Channel.
type Handle string

// Payload is what the Channel delivers.
type Payload struct {
	ResponsibilityID string             `json:"responsibility_id"`
	Kind             Kind               `json:"kind"`
	Title            string             `json:"title"`
	Body             string             `json:"body,omitempty"`
	Channel          core.Channel       `json:"channel"`
	Strength         core.ReminderStyle `json:"strength"`
	OffsetMinutes    int                `json:"offset_minutes,omitempty"`
}

// Channel schedules and cancels reminder delivery. CancelFor withdraws the
// pending reminders of one Responsibility, limited to kinds when any are
// given, including those issued by another process sharing the channel.
type Channel interface {
	ScheduleAt(ctx context.Context, at time.Time, p Payload) (Handle, error)
	Cancel(ctx context.Context, h Handle) error
	CancelFor(ctx context.Context, responsibilityID string, kinds ...Kind) error
	CancelAll(ctx context.Context) error
}

// Fire is one planned reminder.
type Fire struct {
	At      time.Time
	Payload Payload
}

// FireTimes plans the reminders of r as seen at now: the main reminder at the
// due time, then each escalation rule whose firing time is still ahead.
func FireTimes(r *core.Responsibility, now time.Time) []Fire {
	due := r.Schedule.Datetime
	fires := []Fire{{
		At: due,
		Payload: Payload{
			ResponsibilityID: r.ID,
			Kind:             KindMain,
			Title:            r.Title,
			Body:             fmt.Sprintf("Due now (%s)", due.Format("Mon 15:04")),
			Channel:          core.ChannelPush,
			Strength:         r.ReminderStyle,
		},
	}}

	for _, rule := range r.EscalationRules {
		at := due.Add(-time.Duration(rule.OffsetMinutes) * time.Minute)
		if !at.After(now) {
			continue
		}
		fires = append(fires, Fire{
			At: at,
			Payload: Payload{
				ResponsibilityID: r.ID,
				Kind:             KindEscalation,
				Title:            r.Title,
				Body:             fmt.Sprintf("Due in %d minutes", rule.OffsetMinutes),
				Channel:          rule.Channel,
				Strength:         rule.Strength,
				OffsetMinutes:    rule.OffsetMinutes,
			},
		})
	}
	return fires
}

// Scheduler schedules reminder ladders and cancels them per Responsibility
// before new ones are requested. The handle map only records what this
// process issued; cancellation goes through Channel.CancelFor so reminders
// left behind by an earlier process are withdrawn too.
type Scheduler struct {
	channel Channel
	clock   core.Clock
	log     *logging.Logger

	mu      sync.Mutex
	handles map[string][]Handle
	wakes   map[string]Handle
}

// New creates a scheduler delivering through channel.
func New(channel Channel, clock core.Clock) *Scheduler {
	if clock == nil {
		clock = core.SystemClock
	}
	return &Scheduler{
		channel: channel,
		clock:   clock,
		log:     logging.Component("escalation"),
		handles: make(map[string][]Handle),
		wakes:   make(map[string]Handle),
	}
}

// Schedule requests every planned reminder of r and returns the handles that
// were obtained. Callers can compare the count against the plan.
func (s *Scheduler) Schedule(ctx context.Context, r *core.Responsibility) []Handle {
	var got []Handle
	for _, f := range FireTimes(r, s.clock()) {
		h, err := s.channel.ScheduleAt(ctx, f.At, f.Payload)
		if err != nil {
			s.log.WithFields(map[string]interface{}{
				"responsibility": r.ID,
				"kind":           f.Payload.Kind,
				"fire_at":        f.At.Format(time.RFC3339),
			}).Warn("schedule reminder failed: %v", err)
			continue
		}
		got = append(got, h)
	}

	s.mu.Lock()
	s.handles[r.ID] = append(s.handles[r.ID], got...)
	s.mu.Unlock()

	return got
}

// Reschedule cancels everything issued for r, then schedules it again.
func (s *Scheduler) Reschedule(ctx context.Context, r *core.Responsibility) []Handle {
	s.Cancel(ctx, r.ID)
	return s.Schedule(ctx, r)
}

// Cancel withdraws every pending reminder of id. Handles are forgotten only
// once the channel accepted the cancellation.
func (s *Scheduler) Cancel(ctx context.Context, id string) {
	if err := s.channel.CancelFor(ctx, id); err != nil {
		s.log.WithField("responsibility", id).Warn("cancel reminders failed: %v", err)
		return
	}

	s.mu.Lock()
	delete(s.handles, id)
	delete(s.wakes, id)
	s.mu.Unlock()
}

// ScheduleSnoozeWake silences the pending ladder of r and requests a single
// reminder at r.SnoozedUntil, replacing any earlier wake. The ladder comes
// back when the reconciler wakes the record.
func (s *Scheduler) ScheduleSnoozeWake(ctx context.Context, r *core.Responsibility) (Handle, bool) {
	if r.SnoozedUntil == nil || !r.SnoozedUntil.After(s.clock()) {
		return "", false
	}

	s.Cancel(ctx, r.ID)

	h, err := s.channel.ScheduleAt(ctx, *r.SnoozedUntil, Payload{
		ResponsibilityID: r.ID,
		Kind:             KindSnoozeWake,
		Title:            r.Title,
		Body:             "Snooze is over",
		Channel:          core.ChannelPush,
		Strength:         r.ReminderStyle,
	})
	if err != nil {
		s.log.WithField("responsibility", r.ID).Warn("schedule snooze wake failed: %v", err)
		return "", false
	}

	s.mu.Lock()
	s.wakes[r.ID] = h
	s.mu.Unlock()
	return h, true
}

// Resync drops every reminder the channel holds and rebuilds them from the
// snapshot: active records still ahead of now and pending snooze wakes.
// It runs at daemon start, when the in-memory handle map is empty.
func (s *Scheduler) Resync(ctx context.Context, all []*core.Responsibility) (int, error) {
	if err := s.channel.CancelAll(ctx); err != nil {
		return 0, fmt.Errorf("cancel all reminders: %w", err)
	}

	s.mu.Lock()
	s.handles = make(map[string][]Handle)
	s.wakes = make(map[string]Handle)
	s.mu.Unlock()

	now := s.clock()
	count := 0
	for _, r := range all {
		switch r.Status {
		case core.StatusActive:
			if r.Schedule.Datetime.After(now) {
				count += len(s.Schedule(ctx, r))
			}
		case core.StatusSnoozed:
			if _, ok := s.ScheduleSnoozeWake(ctx, r); ok {
				count++
			}
		}
	}
	return count, nil
}

// Handles returns the reminders currently tracked for id.
func (s *Scheduler) Handles(id string) []Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]Handle(nil), s.handles[id]...)
	if wake, ok := s.wakes[id]; ok {
		out = append(out, wake)
	}
	return out
}
