package command

import (
	"errors"
	"testing"
	"time"

	"github.com/quantumlife/responsibility/internal/core"
	"github.com/quantumlife/responsibility/internal/testutil"
)

func newAdapter() *Adapter {
	clock := testutil.NewClock(testutil.Monday)
	return NewAdapter(clock.Now, "UTC")
}

func TestBuild_Defaults(t *testing.T) {
	intent, err := newAdapter().Build(Command{Title: "  Water the plants "})
	testutil.AssertNoError(t, err)

	r := intent.Responsibility
	testutil.AssertEqual(t, r.Title, "Water the plants")
	testutil.AssertEqual(t, r.EnergyRequired, core.EnergyMedium)
	testutil.AssertEqual(t, r.ReminderStyle, core.StyleGentle)
	testutil.AssertEqual(t, r.Status, core.StatusActive)
	testutil.AssertEqual(t, r.Schedule.Kind, core.KindOneTime)
	testutil.AssertEqual(t, r.Schedule.Timezone, "UTC")

	if want := testutil.Monday.Add(time.Hour); !r.Schedule.Datetime.Equal(want) {
		t.Errorf("due = %v, want %v", r.Schedule.Datetime, want)
	}
	if len(r.EscalationRules) != 0 {
		t.Errorf("gentle rules = %v, want none", r.EscalationRules)
	}
	if intent.Recurring() {
		t.Error("command without a hint should not be recurring")
	}
}

func TestBuild_StyleLadder(t *testing.T) {
	intent, err := newAdapter().Build(Command{Title: "Pay rent", ReminderStyle: "Critical"})
	testutil.AssertNoError(t, err)

	if got := len(intent.Responsibility.EscalationRules); got != 3 {
		t.Errorf("critical rules = %d, want 3", got)
	}
}

func TestBuild_ExplicitSchedule(t *testing.T) {
	due := time.Date(2026, 10, 14, 18, 30, 0, 0, time.UTC)
	intent, err := newAdapter().Build(Command{
		Title: "Call mom",
		Schedule: &ScheduleInput{
			Datetime:       due,
			Timezone:       "Europe/Berlin",
			RecurrenceRule: "FREQ=WEEKLY;COUNT=4",
		},
		Checklist: []string{"find number", " ", "dial"},
	})
	testutil.AssertNoError(t, err)

	r := intent.Responsibility
	if !r.Schedule.Datetime.Equal(due) || r.Schedule.Datetime.Location().String() != "Europe/Berlin" {
		t.Errorf("due = %v", r.Schedule.Datetime)
	}
	testutil.AssertEqual(t, r.Schedule.Kind, core.KindRecurring)
	if len(r.Checklist) != 2 {
		t.Errorf("checklist = %+v, want 2 items", r.Checklist)
	}
}

func TestBuild_RecurrenceHint(t *testing.T) {
	intent, err := newAdapter().Build(Command{Title: "Go for a run", EnergyRequired: "high", RecurrenceHint: "3 days a week"})
	testutil.AssertNoError(t, err)

	if !intent.Recurring() {
		t.Fatal("hint should produce scheduling options")
	}
	opts := *intent.Options
	testutil.AssertEqual(t, opts.Frequency, core.FrequencyWeekly)
	testutil.AssertEqual(t, opts.Count, 3)
	testutil.AssertEqual(t, opts.EnergyLevel, core.EnergyHigh)
}

func TestBuild_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want error
	}{
		{"empty title", Command{Title: "   "}, core.ErrMissingRequired},
		{"energy", Command{Title: "x", EnergyRequired: "extreme"}, core.ErrInvalidInput},
		{"style", Command{Title: "x", ReminderStyle: "loud"}, core.ErrInvalidInput},
		{"timezone", Command{Title: "x", Schedule: &ScheduleInput{Timezone: "Mars/Olympus"}}, core.ErrInvalidInput},
		{"hint", Command{Title: "x", RecurrenceHint: "fortnightly"}, core.ErrInvalidInput},
		{
			"zero offset",
			Command{Title: "x", EscalationRules: []core.EscalationRule{{OffsetMinutes: 0, Channel: core.ChannelPush, Strength: core.StyleGentle}}},
			core.ErrInvalidInput,
		},
		{
			"after due",
			Command{Title: "x", EscalationRules: []core.EscalationRule{{OffsetMinutes: -10, Channel: core.ChannelPush, Strength: core.StyleGentle}}},
			core.ErrInvalidInput,
		},
		{
			"channel",
			Command{Title: "x", EscalationRules: []core.EscalationRule{{OffsetMinutes: 10, Channel: "pigeon", Strength: core.StyleGentle}}},
			core.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newAdapter().Build(tt.cmd)
			if !errors.Is(err, tt.want) {
				t.Errorf("Build() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseTime(t *testing.T) {
	now := testutil.Monday

	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "+90m", want: now.Add(90 * time.Minute)},
		{in: "in 2h", want: now.Add(2 * time.Hour)},
		{in: "2026-10-13T10:30:00Z", want: time.Date(2026, 10, 13, 10, 30, 0, 0, time.UTC)},
		{in: "2026-10-13T10:30:00+02:00", want: time.Date(2026, 10, 13, 8, 30, 0, 0, time.UTC)},
		{in: "2026-10-13 10:30", want: time.Date(2026, 10, 13, 10, 30, 0, 0, time.UTC)},
		{in: "2026-10-13T10:30", want: time.Date(2026, 10, 13, 10, 30, 0, 0, time.UTC)},
		{in: "2026-10-13", want: time.Date(2026, 10, 13, 9, 0, 0, 0, time.UTC)},
		{in: "", wantErr: true},
		{in: "tomorrow", wantErr: true},
		{in: "+-5m", wantErr: true},
		{in: "in a while", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTime(tt.in, now, time.UTC)
			if tt.wantErr {
				if !errors.Is(err, core.ErrInvalidInput) {
					t.Errorf("ParseTime(%q) error = %v, want ErrInvalidInput", tt.in, err)
				}
				return
			}
			testutil.AssertNoError(t, err)
			if !got.Equal(tt.want) {
				t.Errorf("ParseTime(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
