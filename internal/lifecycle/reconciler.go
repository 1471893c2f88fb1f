// Package lifecycle implements the Responsibility state machine.
//
// Reconciliation is pull-based: nothing fires at the exact instant a
// commitment becomes overdue or a snooze expires. A pass runs on view
// activation, on demand, and on a coarse interval, so an observed transition
// can lag the true one by up to the polling interval.
//
// Everything in this package is pure. Callers apply the returned transitions
// to their own state.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/quantumlife/responsibility/internal/core"
)

// Rule identifies why a transition was produced.
type Rule string

const (
	// RuleOverdue is active -> missed once the due time has passed.
	RuleOverdue Rule = "overdue"
	// RuleSnoozeExpired is snoozed -> active once snoozedUntil is reached.
	RuleSnoozeExpired Rule = "snooze_expired"
	// RuleSnoozeLapsed is snoozed -> missed: the snooze expired and the
	// commitment was already overdue when the pass observed it.
	RuleSnoozeLapsed Rule = "snooze_lapsed"
	// RuleNormalize repairs snoozedUntil/status disagreement.
	RuleNormalize Rule = "normalize"
)

// Transition is a status change the reconciler wants applied to one record.
type Transition struct {
	ID          string      `json:"id"`
	From        core.Status `json:"from"`
	To          core.Status `json:"to"`
	ClearSnooze bool        `json:"clear_snooze,omitempty"`
	Rules       []Rule      `json:"rules"`
}

// Result of a reconciliation pass.
type Result struct {
	Transitions []Transition
	Anomalies   []*core.InvalidStateError
}

// Changed reports whether the pass produced any transition.
func (r Result) Changed() bool { return len(r.Transitions) > 0 }

// maxSteps bounds the fixpoint loop. Every rule either clears the snooze or
// leaves active, so no record needs more than three steps.
const maxSteps = 4

// Reconcile computes the transitions required at now. The snapshot is not
// modified. Rules are applied in order and re-applied until nothing changes,
// so a second pass at the same instant yields no transitions.
func Reconcile(now time.Time, snapshot []*core.Responsibility) Result {
	var res Result
	for _, r := range snapshot {
		t, anomaly := reconcileOne(now, r)
		if anomaly != nil {
			res.Anomalies = append(res.Anomalies, anomaly)
		}
		if t != nil {
			res.Transitions = append(res.Transitions, *t)
		}
	}
	return res
}

func reconcileOne(now time.Time, r *core.Responsibility) (*Transition, *core.InvalidStateError) {
	var anomaly *core.InvalidStateError
	status := r.Status
	snoozed := r.SnoozedUntil != nil
	var rules []Rule

	if !status.Valid() {
		return nil, &core.InvalidStateError{ID: r.ID, Reason: fmt.Sprintf("unknown status %q", status)}
	}

	switch {
	case status == core.StatusCompleted && r.CompletedAt == nil:
		anomaly = &core.InvalidStateError{ID: r.ID, Reason: "completed without completedAt"}
	case status != core.StatusCompleted && r.CompletedAt != nil:
		anomaly = &core.InvalidStateError{ID: r.ID, Reason: fmt.Sprintf("%s with completedAt", status)}
	}

	if status.IsTerminal() {
		if snoozed {
			return &Transition{ID: r.ID, From: status, To: status, ClearSnooze: true, Rules: []Rule{RuleNormalize}}, anomaly
		}
		return nil, anomaly
	}

	switch {
	case status == core.StatusSnoozed && !snoozed:
		anomaly = &core.InvalidStateError{ID: r.ID, Reason: "snoozed without snoozedUntil"}
		status = core.StatusActive
		rules = append(rules, RuleNormalize)
	case status != core.StatusSnoozed && snoozed && r.SnoozedUntil.After(now):
		status = core.StatusSnoozed
		rules = append(rules, RuleNormalize)
	}

	expired := false
	for step := 0; step < maxSteps; step++ {
		changed := false

		// 1. active -> missed. Right after an expired snooze this is the
		// snoozed -> missed path for records nobody re-checked in time.
		if status == core.StatusActive && r.Schedule.Datetime.Before(now) && r.CompletedAt == nil && !snoozed {
			status = core.StatusMissed
			if expired {
				rules = append(rules, RuleSnoozeLapsed)
			} else {
				rules = append(rules, RuleOverdue)
			}
			changed = true
		}

		// 2. snoozed -> active
		if snoozed && r.CompletedAt == nil && !r.SnoozedUntil.After(now) {
			status = core.StatusActive
			snoozed = false
			expired = true
			rules = append(rules, RuleSnoozeExpired)
			changed = true
		}

		if !changed {
			break
		}
	}

	clearSnooze := r.SnoozedUntil != nil && !snoozed
	if status == r.Status && !clearSnooze {
		return nil, anomaly
	}
	return &Transition{ID: r.ID, From: r.Status, To: status, ClearSnooze: clearSnooze, Rules: rules}, anomaly
}

// Apply returns a copy of r with t applied. UpdatedAt is set to now.
func Apply(r *core.Responsibility, t Transition, now time.Time) *core.Responsibility {
	out := r.Clone()
	out.Status = t.To
	if t.ClearSnooze {
		out.SnoozedUntil = nil
	}
	out.UpdatedAt = now
	return out
}
