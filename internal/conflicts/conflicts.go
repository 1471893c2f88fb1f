// Package conflicts finds active commitments that overlap and moves the less
// important one out of the way.
package conflicts

import (
	"context"
	"sort"
	"time"

	"github.com/quantumlife/responsibility/internal/core"
	"github.com/quantumlife/responsibility/internal/logging"
)

// Detect returns every pair of active, not yet started commitments whose
// assumed intervals overlap. A is the earlier of the two.
func Detect(items []*core.Responsibility, now time.Time) []*core.ConflictError {
	active := upcoming(items, now)

	var out []*core.ConflictError
	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			// Sorted by start, so nothing later can overlap i either.
			if !active[j].Schedule.Datetime.Before(active[i].Interval().End) {
				break
			}
			if active[i].Interval().Overlaps(active[j].Interval()) {
				out = append(out, &core.ConflictError{A: active[i].ID, B: active[j].ID})
			}
		}
	}
	return out
}

func upcoming(items []*core.Responsibility, now time.Time) []*core.Responsibility {
	var active []*core.Responsibility
	for _, r := range items {
		if r.Status == core.StatusActive && !r.Schedule.Datetime.Before(now) {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Schedule.Datetime.Before(active[j].Schedule.Datetime)
	})
	return active
}

// Store is what the resolver reads and moves
type Store interface {
	All() []*core.Responsibility
	Reschedule(ctx context.Context, id string, at time.Time) (*core.Responsibility, error)
}

// Move records one nudge
type Move struct {
	ID   string    `json:"id"`
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Report is the outcome of a resolution pass
type Report struct {
	Moved      []Move                `json:"moved"`
	Unresolved []*core.ConflictError `json:"unresolved,omitempty"`
}

// Resolver nudges conflicting commitments apart. Two critical commitments
// are reported and left where they are; nothing is ever dropped.
type Resolver struct {
	store Store
	nudge time.Duration
	clock core.Clock
	log   *logging.Logger
}

// NewResolver creates a resolver that leaves nudge between moved items
func NewResolver(store Store, nudge time.Duration, clock core.Clock) *Resolver {
	if clock == nil {
		clock = core.SystemClock
	}
	return &Resolver{store: store, nudge: nudge, clock: clock, log: logging.Component("conflicts")}
}

// Resolve runs until no movable conflict remains
func (r *Resolver) Resolve(ctx context.Context) (Report, error) {
	var report Report
	reported := make(map[[2]string]bool)

	// Each move clears at least one conflict without creating another, so
	// the number of items bounds the passes.
	items := r.store.All()
	for pass := 0; pass <= len(items); pass++ {
		now := r.clock()
		byID := make(map[string]*core.Responsibility, len(items))
		for _, it := range items {
			byID[it.ID] = it
		}

		var victim, keeper *core.Responsibility
		for _, c := range Detect(items, now) {
			a, b := byID[c.A], byID[c.B]
			v, k := pickVictim(a, b)
			if v == nil {
				key := [2]string{c.A, c.B}
				if !reported[key] {
					reported[key] = true
					report.Unresolved = append(report.Unresolved, c)
					r.log.Warn("%v: both critical, leaving in place", c)
				}
				continue
			}
			victim, keeper = v, k
			break
		}
		if victim == nil {
			return report, nil
		}

		to := r.freeStart(victim, keeper, items, now)
		if _, err := r.store.Reschedule(ctx, victim.ID, to); err != nil {
			return report, err
		}
		r.log.WithFields(map[string]interface{}{
			"id":   victim.ID,
			"from": victim.Schedule.Datetime.Format(time.RFC3339),
			"to":   to.Format(time.RFC3339),
		}).Info("nudged conflicting commitment")
		report.Moved = append(report.Moved, Move{ID: victim.ID, From: victim.Schedule.Datetime, To: to})

		items = r.store.All()
	}
	return report, nil
}

// freeStart finds the first start after keeper where victim collides with
// nothing else, stepping past each blocker plus the nudge gap.
func (r *Resolver) freeStart(victim, keeper *core.Responsibility, items []*core.Responsibility, now time.Time) time.Time {
	others := upcoming(items, now)
	to := keeper.Interval().End.Add(r.nudge)

	for i := 0; i <= len(others); i++ {
		span := core.Interval{Start: to, End: to.Add(victim.AssumedDuration())}
		var blocker *core.Responsibility
		for _, o := range others {
			if o.ID != victim.ID && span.Overlaps(o.Interval()) {
				blocker = o
				break
			}
		}
		if blocker == nil {
			return to
		}
		to = blocker.Interval().End.Add(r.nudge)
	}
	return to
}

// pickVictim returns the item to move and the one that stays, or nil when
// both are critical. Between two non-critical items the later-created moves.
func pickVictim(a, b *core.Responsibility) (victim, keeper *core.Responsibility) {
	aCrit := a.ReminderStyle == core.StyleCritical
	bCrit := b.ReminderStyle == core.StyleCritical
	switch {
	case aCrit && bCrit:
		return nil, nil
	case aCrit:
		return b, a
	case bCrit:
		return a, b
	}
	if b.CreatedAt.After(a.CreatedAt) || (b.CreatedAt.Equal(a.CreatedAt) && b.ID > a.ID) {
		return b, a
	}
	return a, b
}
