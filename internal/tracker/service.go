// Package tracker is the application service of the Responsibility tracker.
//
// It owns no state of its own. Every operation mutates the injected
// repository, then hands the returned effects to the effect runner, so a
// caller sees the new state even when reminders, the calendar or the disk
// are unavailable. Views run a reconciliation pass first; between passes an
// observed status can lag the true one by up to the polling interval.
package tracker

import (
	"context"
	"time"

	"github.com/quantumlife/responsibility/internal/conflicts"
	"github.com/quantumlife/responsibility/internal/core"
	"github.com/quantumlife/responsibility/internal/effects"
	"github.com/quantumlife/responsibility/internal/lifecycle"
	"github.com/quantumlife/responsibility/internal/logging"
	"github.com/quantumlife/responsibility/internal/planner"
	"github.com/quantumlife/responsibility/internal/repository"
	"github.com/quantumlife/responsibility/internal/slots"
)

// DefaultNudge is the gap left after a commitment a conflict was moved behind.
const DefaultNudge = 15 * time.Minute

// Options configures a Service
type Options struct {
	Clock        core.Clock
	Nudge        time.Duration
	WorkSchedule slots.WorkScheduleHint
}

// Service exposes every tracker operation
type Service struct {
	repo     *repository.Repository
	runner   *effects.Runner
	finder   *slots.Finder
	planner  *planner.Materializer
	resolver *conflicts.Resolver
	clock    core.Clock
	hint     slots.WorkScheduleHint
	log      *logging.Logger
}

// New wires a service. finder may be nil when slot search is not offered.
func New(repo *repository.Repository, runner *effects.Runner, finder *slots.Finder, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = core.SystemClock
	}
	if opts.Nudge <= 0 {
		opts.Nudge = DefaultNudge
	}
	s := &Service{
		repo:   repo,
		runner: runner,
		finder: finder,
		clock:  opts.Clock,
		hint:   opts.WorkSchedule,
		log:    logging.Component("tracker"),
	}
	s.planner = planner.NewMaterializer(sink{s})
	s.resolver = conflicts.NewResolver(conflictStore{s}, opts.Nudge, opts.Clock)
	return s
}

func (s *Service) apply(ctx context.Context, rec *core.Responsibility, fx []repository.Effect, err error) (*core.Responsibility, error) {
	if err != nil {
		return nil, err
	}
	s.runner.Run(ctx, fx)
	return rec, nil
}

// -----------------------------------------------------------------------------
// Mutations
// -----------------------------------------------------------------------------

// Add stores a new Responsibility and schedules its reminders.
func (s *Service) Add(ctx context.Context, r *core.Responsibility) (*core.Responsibility, error) {
	rec, fx, err := s.repo.Add(r)
	rec, err = s.apply(ctx, rec, fx, err)
	if err == nil {
		s.log.WithField("id", rec.ID).Info("added %q due %s", rec.Title, rec.Schedule.Datetime.Format(time.RFC3339))
	}
	return rec, err
}

// Update applies a patch.
func (s *Service) Update(ctx context.Context, id string, p repository.Patch) (*core.Responsibility, error) {
	rec, fx, err := s.repo.Update(id, p)
	return s.apply(ctx, rec, fx, err)
}

// CompleteResult is the completed record and, for a recurring one, the next
// occurrence that was created.
type CompleteResult struct {
	Completed *core.Responsibility `json:"completed"`
	Next      *core.Responsibility `json:"next,omitempty"`
}

// Complete marks a record done. A recurring record with occurrences left
// spawns a new record for the next one. Failing to create it is logged; the
// completion itself stands.
func (s *Service) Complete(ctx context.Context, id string) (CompleteResult, error) {
	rec, fx, err := s.repo.Complete(id)
	rec, err = s.apply(ctx, rec, fx, err)
	if err != nil {
		return CompleteResult{}, err
	}
	res := CompleteResult{Completed: rec}

	next, err := planner.NextOccurrence(rec)
	if err != nil {
		s.log.WithField("id", id).Warn("next occurrence: %v", err)
		return res, nil
	}
	if next == nil {
		return res, nil
	}
	created, err := s.Add(ctx, next)
	if err != nil {
		s.log.WithField("id", id).Warn("create next occurrence: %v", err)
		return res, nil
	}
	res.Next = created
	return res, nil
}

// Snooze defers a record until the given instant.
func (s *Service) Snooze(ctx context.Context, id string, until time.Time) (*core.Responsibility, error) {
	rec, fx, err := s.repo.Snooze(id, until)
	return s.apply(ctx, rec, fx, err)
}

// SnoozeFor defers a record by d from now.
func (s *Service) SnoozeFor(ctx context.Context, id string, d time.Duration) (*core.Responsibility, error) {
	return s.Snooze(ctx, id, s.clock().Add(d))
}

// Reschedule moves a record to a new due time and reactivates it.
func (s *Service) Reschedule(ctx context.Context, id string, at time.Time) (*core.Responsibility, error) {
	rec, fx, err := s.repo.Reschedule(id, at)
	return s.apply(ctx, rec, fx, err)
}

// Archive shelves a record.
func (s *Service) Archive(ctx context.Context, id string) (*core.Responsibility, error) {
	rec, fx, err := s.repo.Archive(id)
	return s.apply(ctx, rec, fx, err)
}

// Delete removes a record, its reminders and its calendar event.
func (s *Service) Delete(ctx context.Context, id string) (*core.Responsibility, error) {
	rec, fx, err := s.repo.Delete(id)
	return s.apply(ctx, rec, fx, err)
}

// AddChecklistItem appends a checklist entry.
func (s *Service) AddChecklistItem(ctx context.Context, id, label string) (*core.Responsibility, error) {
	rec, fx, err := s.repo.AddChecklistItem(id, label)
	return s.apply(ctx, rec, fx, err)
}

// ToggleChecklistItem flips one entry.
func (s *Service) ToggleChecklistItem(ctx context.Context, id, itemID string) (*core.Responsibility, error) {
	rec, fx, err := s.repo.ToggleChecklistItem(id, itemID)
	return s.apply(ctx, rec, fx, err)
}

// RemoveChecklistItem deletes one entry.
func (s *Service) RemoveChecklistItem(ctx context.Context, id, itemID string) (*core.Responsibility, error) {
	rec, fx, err := s.repo.RemoveChecklistItem(id, itemID)
	return s.apply(ctx, rec, fx, err)
}

// -----------------------------------------------------------------------------
// Reconciliation
// -----------------------------------------------------------------------------

// ReconcileReport summarizes one pass
type ReconcileReport struct {
	At          time.Time                 `json:"at"`
	Transitions []lifecycle.Transition    `json:"transitions"`
	Anomalies   []*core.InvalidStateError `json:"anomalies,omitempty"`
}

// Reconcile runs one pull-based pass over the whole snapshot and applies the
// transitions that are still valid against the current state.
func (s *Service) Reconcile(ctx context.Context) ReconcileReport {
	now := s.clock()
	res := lifecycle.Reconcile(now, s.repo.All())
	for _, a := range res.Anomalies {
		s.log.Error("%v", a)
	}

	applied, fx := s.repo.ApplyTransitions(res.Transitions)
	s.runner.Run(ctx, fx)

	if len(applied) > 0 {
		s.log.WithField("transitions", len(applied)).Debug("reconciled")
	}
	return ReconcileReport{At: now, Transitions: applied, Anomalies: res.Anomalies}
}

// -----------------------------------------------------------------------------
// Views
// -----------------------------------------------------------------------------

// Get returns one record.
func (s *Service) Get(ctx context.Context, id string) (*core.Responsibility, error) {
	s.Reconcile(ctx)
	return s.repo.Get(id)
}

// All returns every record.
func (s *Service) All(ctx context.Context) []*core.Responsibility {
	s.Reconcile(ctx)
	return s.repo.All()
}

// Upcoming returns active records due within the given horizon. A
// non-positive horizon means no limit.
func (s *Service) Upcoming(ctx context.Context, within time.Duration) []*core.Responsibility {
	s.Reconcile(ctx)
	return s.repo.Upcoming(s.clock(), within)
}

// Missed returns missed records.
func (s *Service) Missed(ctx context.Context) []*core.Responsibility {
	s.Reconcile(ctx)
	return s.repo.Missed()
}

// Snoozed returns snoozed records.
func (s *Service) Snoozed(ctx context.Context) []*core.Responsibility {
	s.Reconcile(ctx)
	return s.repo.Snoozed()
}

// DoableNow returns what can be done right now with the available energy.
func (s *Service) DoableNow(ctx context.Context, energy core.EnergyLevel) []*core.Responsibility {
	s.Reconcile(ctx)
	return s.repo.DoableNow(s.clock(), energy)
}

// -----------------------------------------------------------------------------
// Scheduling
// -----------------------------------------------------------------------------

// FindSlots ranks free slots using the configured work schedule.
func (s *Service) FindSlots(ctx context.Context, opts core.SchedulingOptions) []core.ScheduledSlot {
	return s.FindSlotsWithHint(ctx, opts, s.hint)
}

// FindSlotsWithHint ranks free slots for an explicit work schedule.
func (s *Service) FindSlotsWithHint(ctx context.Context, opts core.SchedulingOptions, hint slots.WorkScheduleHint) []core.ScheduledSlot {
	if s.finder == nil {
		return nil
	}
	s.Reconcile(ctx)
	return s.finder.FindOptimalSlots(ctx, opts, hint)
}

// PlanRecurring finds slots for template and creates one recurring record
// per slot. A limited plan is reported in the result, not as an error.
func (s *Service) PlanRecurring(ctx context.Context, template *core.Responsibility, opts core.SchedulingOptions) (planner.Plan, error) {
	if opts.EnergyLevel == "" {
		opts.EnergyLevel = template.EnergyRequired
	}
	found := s.FindSlots(ctx, opts)
	return s.planner.Materialize(ctx, template, opts, found)
}

// Conflicts lists overlapping upcoming commitments.
func (s *Service) Conflicts(ctx context.Context) []*core.ConflictError {
	s.Reconcile(ctx)
	return conflicts.Detect(s.repo.All(), s.clock())
}

// ResolveConflicts nudges non-critical commitments out of each other's way.
func (s *Service) ResolveConflicts(ctx context.Context) (conflicts.Report, error) {
	s.Reconcile(ctx)
	return s.resolver.Resolve(ctx)
}

// Wait blocks until background side effects finish.
func (s *Service) Wait() {
	s.runner.Wait()
}

// sink adapts the service to the materializer.
type sink struct{ s *Service }

func (k sink) Create(ctx context.Context, r *core.Responsibility) (*core.Responsibility, error) {
	return k.s.Add(ctx, r)
}

// conflictStore adapts the service to the resolver without reconciling on
// every read.
type conflictStore struct{ s *Service }

func (c conflictStore) All() []*core.Responsibility { return c.s.repo.All() }

func (c conflictStore) Reschedule(ctx context.Context, id string, at time.Time) (*core.Responsibility, error) {
	return c.s.Reschedule(ctx, id, at)
}
