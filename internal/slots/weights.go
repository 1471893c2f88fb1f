// Package slots ranks candidate time slots for a new recurring commitment.
package slots

import (
	"fmt"
	"strings"
	"time"

	"github.com/quantumlife/responsibility/internal/core"
)

// Weights is the scoring table. Every adjustment the finder makes to a
// candidate's score comes from here.
type Weights struct {
	Base int `json:"base"`

	HighEnergyWeekend int `json:"high_energy_weekend"`
	LowEnergyWeekday  int `json:"low_energy_weekday"`
	AvoidedDay        int `json:"avoided_day"`
	HighEnergyEarly   int `json:"high_energy_early"`
	LowEnergyEvening  int `json:"low_energy_evening"`
	RestDay           int `json:"rest_day"`

	// Per neighbour starting within NearbyWindow of the candidate.
	NearbyBusy       int           `json:"nearby_busy"`
	NearbyCommitment int           `json:"nearby_commitment"`
	NearbyWindow     time.Duration `json:"nearby_window"`

	// Inclusive hour ranges.
	EarlyHours   [2]int `json:"early_hours"`
	EveningHours [2]int `json:"evening_hours"`
}

// DefaultWeights is the standard table
var DefaultWeights = Weights{
	Base:              100,
	HighEnergyWeekend: 20,
	LowEnergyWeekday:  15,
	AvoidedDay:        -50,
	HighEnergyEarly:   25,
	LowEnergyEvening:  15,
	RestDay:           30,
	NearbyBusy:        -10,
	NearbyCommitment:  -8,
	NearbyWindow:      2 * time.Hour,
	EarlyHours:        [2]int{7, 10},
	EveningHours:      [2]int{17, 20},
}

// Candidate is a slot under consideration
type Candidate struct {
	Start time.Time
	End   time.Time
}

// Interval returns the half-open span of the candidate
func (c Candidate) Interval() core.Interval {
	return core.Interval{Start: c.Start, End: c.End}
}

// ScoreContext is everything a score depends on besides the candidate
type ScoreContext struct {
	Options core.SchedulingOptions
	Hint    WorkScheduleHint

	// Calendar busy intervals and existing commitment start times.
	Busy        []core.Interval
	Commitments []time.Time
}

// Score rates c. Reasons lists every adjustment that applied, in table order.
func (w Weights) Score(c Candidate, sc ScoreContext) (int, []string) {
	score := w.Base
	var reasons []string
	add := func(delta int, format string, args ...interface{}) {
		score += delta
		reasons = append(reasons, fmt.Sprintf("%s (%+d)", fmt.Sprintf(format, args...), delta))
	}

	day := c.Start.Weekday()
	weekend := day == time.Saturday || day == time.Sunday
	hour := c.Start.Hour()
	energy := sc.Options.EnergyLevel

	if energy == core.EnergyHigh && weekend {
		add(w.HighEnergyWeekend, "weekend suits high energy")
	}
	if energy == core.EnergyLow && !weekend {
		add(w.LowEnergyWeekday, "weekday suits low energy")
	}
	if sc.Options.AvoidsDay(day) {
		add(w.AvoidedDay, "%s is avoided", day)
	}
	if energy == core.EnergyHigh && inRange(hour, w.EarlyHours) {
		add(w.HighEnergyEarly, "early slot for high energy")
	}
	if energy == core.EnergyLow && inRange(hour, w.EveningHours) {
		add(w.LowEnergyEvening, "evening slot for low energy")
	}

	if n := countNear(c.Start, w.NearbyWindow, intervalStarts(sc.Busy)); n > 0 {
		add(w.NearbyBusy*n, "%d calendar event(s) nearby", n)
	}
	if n := countNear(c.Start, w.NearbyWindow, sc.Commitments); n > 0 {
		add(w.NearbyCommitment*n, "%d commitment(s) nearby", n)
	}
	if sc.Hint.IsRestDay(day) {
		add(w.RestDay, "rest day")
	}

	if score < 0 {
		score = 0
	}
	return score, reasons
}

// Reason joins score reasons for display
func Reason(reasons []string) string {
	return strings.Join(reasons, "; ")
}

func inRange(hour int, r [2]int) bool {
	return hour >= r[0] && hour <= r[1]
}

func intervalStarts(in []core.Interval) []time.Time {
	out := make([]time.Time, len(in))
	for i, iv := range in {
		out[i] = iv.Start
	}
	return out
}

func countNear(at time.Time, window time.Duration, times []time.Time) int {
	n := 0
	for _, t := range times {
		d := t.Sub(at)
		if d < 0 {
			d = -d
		}
		if d <= window {
			n++
		}
	}
	return n
}
