package core

import (
	"errors"
	"testing"
	"time"
)

func TestInterval_Overlaps(t *testing.T) {
	base := time.Date(2026, 10, 12, 8, 0, 0, 0, time.UTC)
	hour := Interval{Start: base, End: base.Add(time.Hour)}

	tests := []struct {
		name  string
		other Interval
		want  bool
	}{
		{"identical", hour, true},
		{"inside", Interval{Start: base.Add(10 * time.Minute), End: base.Add(20 * time.Minute)}, true},
		{"straddles start", Interval{Start: base.Add(-30 * time.Minute), End: base.Add(30 * time.Minute)}, true},
		{"touches end", Interval{Start: base.Add(time.Hour), End: base.Add(2 * time.Hour)}, false},
		{"touches start", Interval{Start: base.Add(-time.Hour), End: base}, false},
		{"disjoint", Interval{Start: base.Add(3 * time.Hour), End: base.Add(4 * time.Hour)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hour.Overlaps(tt.other); got != tt.want {
				t.Errorf("Overlaps() = %v, want %v", got, tt.want)
			}
			if got := tt.other.Overlaps(hour); got != tt.want {
				t.Errorf("Overlaps() not symmetric: got %v", got)
			}
		})
	}
}

func TestResponsibility_AssumedDuration(t *testing.T) {
	tests := []struct {
		energy EnergyLevel
		want   time.Duration
	}{
		{EnergyLow, time.Hour},
		{EnergyMedium, time.Hour},
		{EnergyHigh, 2 * time.Hour},
	}

	for _, tt := range tests {
		r := &Responsibility{EnergyRequired: tt.energy}
		if got := r.AssumedDuration(); got != tt.want {
			t.Errorf("AssumedDuration(%s) = %v, want %v", tt.energy, got, tt.want)
		}
	}
}

func TestResponsibility_Clone(t *testing.T) {
	until := time.Now()
	r := &Responsibility{
		ID:              "r1",
		SnoozedUntil:    &until,
		EscalationRules: []EscalationRule{{OffsetMinutes: 15}},
		Checklist:       []ChecklistItem{{ID: "c1", Label: "pack"}},
	}

	c := r.Clone()
	c.Checklist[0].Done = true
	c.EscalationRules[0].OffsetMinutes = 30
	*c.SnoozedUntil = until.Add(time.Hour)

	if r.Checklist[0].Done {
		t.Error("clone shares checklist with original")
	}
	if r.EscalationRules[0].OffsetMinutes != 15 {
		t.Error("clone shares escalation rules with original")
	}
	if !r.SnoozedUntil.Equal(until) {
		t.Error("clone shares snoozedUntil with original")
	}
}

func TestParseWeekday(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Weekday
		wantErr bool
	}{
		{"monday", time.Monday, false},
		{"Sat", time.Saturday, false},
		{" SUNDAY ", time.Sunday, false},
		{"mo", 0, true},
		{"funday", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseWeekday(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseWeekday(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ParseWeekday(%q) = %v, want %v", tt.in, got, tt.want)
			}
			if err != nil && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("error should wrap ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestSchedulingOptions_Defaults(t *testing.T) {
	weekly := SchedulingOptions{Frequency: FrequencyWeekly}
	if got := weekly.EffectiveCount(); got != 3 {
		t.Errorf("weekly count = %d, want 3", got)
	}
	daily := SchedulingOptions{Frequency: FrequencyDaily}
	if got := daily.EffectiveCount(); got != 7 {
		t.Errorf("daily count = %d, want 7", got)
	}
	if got := weekly.EffectiveDuration(); got != time.Hour {
		t.Errorf("duration = %v, want 1h", got)
	}

	high := SchedulingOptions{EnergyLevel: EnergyHigh}
	if got := high.EffectivePreferredTimes(); len(got) != 1 || got[0] != Morning {
		t.Errorf("high energy preferred = %v, want [morning]", got)
	}
	low := SchedulingOptions{EnergyLevel: EnergyLow}
	if got := low.EffectivePreferredTimes(); len(got) != 2 || got[1] != Evening {
		t.Errorf("low energy preferred = %v, want [morning evening]", got)
	}

	avoid := SchedulingOptions{AvoidDays: []string{"saturday", "nonsense"}}
	if !avoid.AvoidsDay(time.Saturday) {
		t.Error("saturday should be avoided")
	}
	if avoid.AvoidsDay(time.Monday) {
		t.Error("monday should not be avoided")
	}
}

func TestDefaultEscalationRules(t *testing.T) {
	if rules := DefaultEscalationRules(StyleGentle); len(rules) != 0 {
		t.Errorf("gentle rules = %d, want 0", len(rules))
	}
	if rules := DefaultEscalationRules(StylePersistent); len(rules) != 1 {
		t.Errorf("persistent rules = %d, want 1", len(rules))
	}
	rules := DefaultEscalationRules(StyleCritical)
	if len(rules) != 3 {
		t.Fatalf("critical rules = %d, want 3", len(rules))
	}
	for _, r := range rules {
		if r.OffsetMinutes <= 0 {
			t.Errorf("offset %d must be positive minutes before", r.OffsetMinutes)
		}
	}
}

func TestErrors_Unwrap(t *testing.T) {
	var err error = &ConflictError{A: "a", B: "b"}
	if !errors.Is(err, ErrScheduleConflict) {
		t.Error("ConflictError should match ErrScheduleConflict")
	}

	cause := errors.New("disk full")
	err = &PersistenceError{Op: "save all", Err: cause}
	if !errors.Is(err, ErrPersistenceWrite) || !errors.Is(err, cause) {
		t.Error("PersistenceError should match both sentinel and cause")
	}

	err = &InvalidStateError{ID: "x", Reason: "snoozed without snoozedUntil"}
	if !errors.Is(err, ErrInvalidState) {
		t.Error("InvalidStateError should match ErrInvalidState")
	}
}
