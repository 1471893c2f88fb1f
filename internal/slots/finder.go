package slots

import (
	"context"
	"sort"
	"time"

	"github.com/quantumlife/responsibility/internal/calendar"
	"github.com/quantumlife/responsibility/internal/core"
	"github.com/quantumlife/responsibility/internal/logging"
)

// Hours maps each time of day to its local start hour
type Hours struct {
	Morning   int
	Afternoon int
	Evening   int
}

// DefaultHours places morning at 08:00, afternoon at 13:00 and evening at 18:00
var DefaultHours = Hours{Morning: 8, Afternoon: 13, Evening: 18}

func (h Hours) of(t core.TimeOfDay) int {
	switch t {
	case core.Afternoon:
		return h.Afternoon
	case core.Evening:
		return h.Evening
	default:
		return h.Morning
	}
}

// CommitmentSource lists the active commitments the finder must avoid
type CommitmentSource interface {
	ActiveBetween(start, end time.Time) []*core.Responsibility
}

// Option configures a Finder
type Option func(*Finder)

// WithWindow replaces the CurrentWeek search window
func WithWindow(p WindowPolicy) Option {
	return func(f *Finder) { f.window = p }
}

// WithWeights replaces DefaultWeights
func WithWeights(w Weights) Option {
	return func(f *Finder) { f.weights = w }
}

// WithHours replaces DefaultHours
func WithHours(h Hours) Option {
	return func(f *Finder) { f.hours = h }
}

// WithLocation sets the user's timezone. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(f *Finder) { f.loc = loc }
}

// Finder produces ranked slots
type Finder struct {
	oracle  calendar.Oracle
	source  CommitmentSource
	clock   core.Clock
	window  WindowPolicy
	weights Weights
	hours   Hours
	loc     *time.Location
	log     *logging.Logger
}

// NewFinder creates a finder. oracle may be nil.
func NewFinder(oracle calendar.Oracle, source CommitmentSource, clock core.Clock, opts ...Option) *Finder {
	if oracle == nil {
		oracle = calendar.NoopOracle{}
	}
	if clock == nil {
		clock = core.SystemClock
	}
	f := &Finder{
		oracle:  oracle,
		source:  source,
		clock:   clock,
		window:  CurrentWeek,
		weights: DefaultWeights,
		hours:   DefaultHours,
		loc:     time.Local,
		log:     logging.Component("slots"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FindOptimalSlots returns up to opts.EffectiveCount() slots, best first,
// at most one per calendar day. Candidates that have already started are
// never offered. Fewer results than requested means availability was
// limited; it is not an error.
func (f *Finder) FindOptimalSlots(ctx context.Context, opts core.SchedulingOptions, hint WorkScheduleHint) []core.ScheduledSlot {
	now := f.clock()
	window := f.window(now, f.loc)

	calendarBusy := f.calendarBusy(ctx, window)

	// Widen by the nearby window so neighbours just outside still count.
	var commitments []*core.Responsibility
	if f.source != nil {
		commitments = f.source.ActiveBetween(window.Start.Add(-f.weights.NearbyWindow), window.End.Add(f.weights.NearbyWindow))
	}
	blocked := append([]core.Interval(nil), calendarBusy...)
	starts := make([]time.Time, 0, len(commitments))
	for _, r := range commitments {
		blocked = append(blocked, r.Interval())
		starts = append(starts, r.Schedule.Datetime)
	}

	sc := ScoreContext{Options: opts, Hint: hint, Busy: calendarBusy, Commitments: starts}

	var ranked []core.ScheduledSlot
	for _, c := range f.candidates(window, opts, hint) {
		if !c.Start.After(now) || overlapsAny(c.Interval(), blocked) {
			continue
		}
		score, reasons := f.weights.Score(c, sc)
		ranked = append(ranked, core.ScheduledSlot{
			Date:      c.Start.Format("2006-01-02"),
			StartTime: c.Start,
			EndTime:   c.End,
			Score:     score,
			Reason:    Reason(reasons),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	want := opts.EffectiveCount()
	picked := make([]core.ScheduledSlot, 0, want)
	usedDays := make(map[string]bool)
	for _, s := range ranked {
		if len(picked) == want {
			break
		}
		if usedDays[s.Date] {
			continue
		}
		usedDays[s.Date] = true
		picked = append(picked, s)
	}

	if len(picked) < want {
		f.log.WithFields(map[string]interface{}{
			"requested": want,
			"found":     len(picked),
		}).Info("limited availability")
	}
	return picked
}

func (f *Finder) calendarBusy(ctx context.Context, window core.Interval) []core.Interval {
	if !f.oracle.RequestPermission(ctx) {
		return nil
	}
	busy, err := f.oracle.BusyIntervals(ctx, window.Start, window.End)
	if err != nil {
		f.log.Warn("busy intervals unavailable, assuming free: %v", err)
		return nil
	}
	return busy
}

// candidates generates slots day by day in the order preferred times are
// listed, which is also the tie-break order.
func (f *Finder) candidates(window core.Interval, opts core.SchedulingOptions, hint WorkScheduleHint) []Candidate {
	duration := opts.EffectiveDuration()
	var out []Candidate

	for day := window.Start; day.Before(window.End); day = day.AddDate(0, 0, 1) {
		if opts.AvoidsDay(day.Weekday()) {
			continue
		}

		times := opts.EffectivePreferredTimes()
		if hint.IsWorkDay(day.Weekday()) && !containsTime(times, core.Evening) {
			times = append(append([]core.TimeOfDay(nil), times...), core.Evening)
		}

		for _, tod := range times {
			start := time.Date(day.Year(), day.Month(), day.Day(), f.hours.of(tod), 0, 0, 0, f.loc)
			out = append(out, Candidate{Start: start, End: start.Add(duration)})
		}
	}
	return out
}

func overlapsAny(iv core.Interval, busy []core.Interval) bool {
	for _, b := range busy {
		if iv.Overlaps(b) {
			return true
		}
	}
	return false
}

func containsTime(times []core.TimeOfDay, t core.TimeOfDay) bool {
	for _, x := range times {
		if x == t {
			return true
		}
	}
	return false
}
