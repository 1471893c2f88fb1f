package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quantumlife/responsibility/internal/command"
	"github.com/quantumlife/responsibility/internal/core"
	"github.com/quantumlife/responsibility/internal/repository"
)

func (s *Server) parseTime(v string) (time.Time, error) {
	return command.ParseTime(v, s.clock(), s.loc)
}

// handleListResponsibilities returns one view: all (default), upcoming,
// missed, snoozed or doable.
func (s *Server) handleListResponsibilities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx := r.Context()

	var items []*core.Responsibility
	switch view := q.Get("view"); view {
	case "", "all":
		items = s.tracker.All(ctx)
	case "upcoming":
		var within time.Duration
		if v := q.Get("within"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				respondError(w, http.StatusBadRequest, "within must be a duration like 24h")
				return
			}
			within = d
		}
		items = s.tracker.Upcoming(ctx, within)
	case "missed":
		items = s.tracker.Missed(ctx)
	case "snoozed":
		items = s.tracker.Snoozed(ctx)
	case "doable":
		energy := core.EnergyMedium
		if v := q.Get("energy"); v != "" {
			e, err := core.ParseEnergyLevel(v)
			if err != nil {
				respondErr(w, err)
				return
			}
			energy = e
		}
		items = s.tracker.DoableNow(ctx, energy)
	default:
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown view %q", view))
		return
	}

	if items == nil {
		items = []*core.Responsibility{}
	}
	respondJSON(w, http.StatusOK, items)
}

// createRequest is a command plus an optional free-form due time.
type createRequest struct {
	command.Command
	Due string `json:"due,omitempty"`
}

func (s *Server) handleCreateResponsibility(w http.ResponseWriter, r *http.Request) {
	var input createRequest
	if !decodeJSON(w, r, &input) {
		return
	}

	cmd := input.Command
	if input.Due != "" {
		at, err := s.parseTime(input.Due)
		if err != nil {
			respondErr(w, err)
			return
		}
		if cmd.Schedule == nil {
			cmd.Schedule = &command.ScheduleInput{}
		}
		cmd.Schedule.Datetime = at
	}

	intent, err := s.adapter.Build(cmd)
	if err != nil {
		respondErr(w, err)
		return
	}

	if intent.Recurring() {
		plan, err := s.tracker.PlanRecurring(r.Context(), intent.Responsibility, *intent.Options)
		if err != nil {
			respondErr(w, err)
			return
		}
		s.Broadcast("plan.created", plan)
		respondJSON(w, http.StatusCreated, plan)
		return
	}

	rec, err := s.tracker.Add(r.Context(), intent.Responsibility)
	if err != nil {
		respondErr(w, err)
		return
	}
	s.Broadcast("responsibility.created", rec)
	respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetResponsibility(w http.ResponseWriter, r *http.Request) {
	rec, err := s.tracker.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// patchRequest mirrors repository.Patch with wire-friendly types. Absent
// fields are left unchanged.
type patchRequest struct {
	Title           *string                `json:"title"`
	Description     *string                `json:"description"`
	Category        *string                `json:"category"`
	EnergyRequired  *string                `json:"energy_required"`
	ReminderStyle   *string                `json:"reminder_style"`
	EscalationRules *[]core.EscalationRule `json:"escalation_rules"`
	Datetime        *string                `json:"datetime"`
	Timezone        *string                `json:"timezone"`
	RecurrenceRule  *string                `json:"recurrence_rule"`
}

func (s *Server) toPatch(in patchRequest) (repository.Patch, error) {
	p := repository.Patch{
		Title:           in.Title,
		Description:     in.Description,
		Category:        in.Category,
		EscalationRules: in.EscalationRules,
		Timezone:        in.Timezone,
		RecurrenceRule:  in.RecurrenceRule,
	}
	if in.EnergyRequired != nil {
		e, err := core.ParseEnergyLevel(*in.EnergyRequired)
		if err != nil {
			return p, err
		}
		p.EnergyRequired = &e
	}
	if in.ReminderStyle != nil {
		st, err := core.ParseReminderStyle(*in.ReminderStyle)
		if err != nil {
			return p, err
		}
		p.ReminderStyle = &st
	}
	if in.Datetime != nil {
		at, err := s.parseTime(*in.Datetime)
		if err != nil {
			return p, err
		}
		p.Datetime = &at
	}
	return p, nil
}

func (s *Server) handleUpdateResponsibility(w http.ResponseWriter, r *http.Request) {
	var input patchRequest
	if !decodeJSON(w, r, &input) {
		return
	}
	patch, err := s.toPatch(input)
	if err != nil {
		respondErr(w, err)
		return
	}

	rec, err := s.tracker.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		respondErr(w, err)
		return
	}
	s.Broadcast("responsibility.updated", rec)
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteResponsibility(w http.ResponseWriter, r *http.Request) {
	rec, err := s.tracker.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	s.Broadcast("responsibility.deleted", map[string]string{"id": rec.ID})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCompleteResponsibility(w http.ResponseWriter, r *http.Request) {
	res, err := s.tracker.Complete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	s.Broadcast("responsibility.completed", res)
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleSnoozeResponsibility(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Until   string `json:"until"`
		Minutes int    `json:"minutes"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}

	var until time.Time
	switch {
	case input.Until != "":
		t, err := s.parseTime(input.Until)
		if err != nil {
			respondErr(w, err)
			return
		}
		until = t
	case input.Minutes > 0:
		until = s.clock().Add(time.Duration(input.Minutes) * time.Minute)
	default:
		respondError(w, http.StatusBadRequest, "until or minutes required")
		return
	}

	rec, err := s.tracker.Snooze(r.Context(), chi.URLParam(r, "id"), until)
	if err != nil {
		respondErr(w, err)
		return
	}
	s.Broadcast("responsibility.snoozed", rec)
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRescheduleResponsibility(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Datetime string `json:"datetime"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}
	at, err := s.parseTime(input.Datetime)
	if err != nil {
		respondErr(w, err)
		return
	}

	rec, err := s.tracker.Reschedule(r.Context(), chi.URLParam(r, "id"), at)
	if err != nil {
		respondErr(w, err)
		return
	}
	s.Broadcast("responsibility.rescheduled", rec)
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleArchiveResponsibility(w http.ResponseWriter, r *http.Request) {
	rec, err := s.tracker.Archive(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	s.Broadcast("responsibility.archived", rec)
	respondJSON(w, http.StatusOK, rec)
}

// --- Checklist ---

func (s *Server) handleAddChecklistItem(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Label string `json:"label"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}

	rec, err := s.tracker.AddChecklistItem(r.Context(), chi.URLParam(r, "id"), input.Label)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleToggleChecklistItem(w http.ResponseWriter, r *http.Request) {
	rec, err := s.tracker.ToggleChecklistItem(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemID"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRemoveChecklistItem(w http.ResponseWriter, r *http.Request) {
	rec, err := s.tracker.RemoveChecklistItem(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemID"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// --- Scheduling ---

func validateOptions(opts core.SchedulingOptions) error {
	if _, err := core.ParseFrequency(string(opts.Frequency)); err != nil {
		return err
	}
	if opts.EnergyLevel != "" && !opts.EnergyLevel.Valid() {
		return fmt.Errorf("%w: energy level %q", core.ErrInvalidInput, opts.EnergyLevel)
	}
	for _, t := range opts.PreferredTimes {
		if _, err := core.ParseTimeOfDay(string(t)); err != nil {
			return err
		}
	}
	for _, d := range opts.AvoidDays {
		if _, err := core.ParseWeekday(d); err != nil {
			return err
		}
	}
	if opts.Count < 0 || opts.DurationMinutes < 0 {
		return fmt.Errorf("%w: count and duration must not be negative", core.ErrInvalidInput)
	}
	return nil
}

func (s *Server) handleFindSlots(w http.ResponseWriter, r *http.Request) {
	var opts core.SchedulingOptions
	if !decodeJSON(w, r, &opts) {
		return
	}
	if err := validateOptions(opts); err != nil {
		respondErr(w, err)
		return
	}

	found := s.tracker.FindSlots(r.Context(), opts)
	if found == nil {
		found = []core.ScheduledSlot{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"slots":     found,
		"requested": opts.EffectiveCount(),
		"limited":   len(found) < opts.EffectiveCount(),
	})
}

// planRequest is the template of a recurring commitment and where to place it.
type planRequest struct {
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	Category      string   `json:"category,omitempty"`
	ReminderStyle string   `json:"reminder_style,omitempty"`
	Checklist     []string `json:"checklist,omitempty"`
	core.SchedulingOptions
}

func (s *Server) handlePlanRecurring(w http.ResponseWriter, r *http.Request) {
	var input planRequest
	if !decodeJSON(w, r, &input) {
		return
	}
	opts := input.SchedulingOptions
	if err := validateOptions(opts); err != nil {
		respondErr(w, err)
		return
	}

	intent, err := s.adapter.Build(command.Command{
		Title:          input.Title,
		Description:    input.Description,
		Category:       input.Category,
		EnergyRequired: string(opts.EnergyLevel),
		ReminderStyle:  input.ReminderStyle,
		Checklist:      input.Checklist,
	})
	if err != nil {
		respondErr(w, err)
		return
	}

	plan, err := s.tracker.PlanRecurring(r.Context(), intent.Responsibility, opts)
	if err != nil {
		respondErr(w, err)
		return
	}
	s.Broadcast("plan.created", plan)
	respondJSON(w, http.StatusCreated, plan)
}

func (s *Server) handleGetConflicts(w http.ResponseWriter, r *http.Request) {
	found := s.tracker.Conflicts(r.Context())
	pairs := make([]map[string]string, 0, len(found))
	for _, c := range found {
		pairs = append(pairs, map[string]string{"a": c.A, "b": c.B})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"conflicts": pairs,
		"count":     len(pairs),
	})
}

func (s *Server) handleResolveConflicts(w http.ResponseWriter, r *http.Request) {
	report, err := s.tracker.ResolveConflicts(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	if len(report.Moved) > 0 {
		s.Broadcast("conflicts.resolved", report)
	}
	respondJSON(w, http.StatusOK, report)
}
