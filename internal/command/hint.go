package command

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/quantumlife/responsibility/internal/core"
)

var (
	quantity = `(\d+|once|one|twice|two|three|four|five|six|seven)(?:\s*(?:x|times|days?))?\s*(?:a|per|each|every)\s*`
	perWeek  = regexp.MustCompile(`^` + quantity + `week$`)
	perMonth = regexp.MustCompile(`^` + quantity + `month$`)
)

var numberWords = map[string]int{
	"once": 1, "one": 1, "twice": 2, "two": 2, "three": 3, "four": 4,
	"five": 5, "six": 6, "seven": 7,
}

// ParseRecurrenceHint maps the small vocabulary adapters emit ("daily",
// "every day", "weekly", "3 days a week", "twice a week", "monthly") to
// scheduling options.
func ParseRecurrenceHint(hint string) (core.SchedulingOptions, error) {
	h := strings.ToLower(strings.Join(strings.Fields(hint), " "))

	switch h {
	case "daily", "every day", "each day", "everyday":
		return core.SchedulingOptions{Frequency: core.FrequencyDaily}, nil
	case "weekly", "every week", "once a week":
		return core.SchedulingOptions{Frequency: core.FrequencyWeekly, Count: 1}, nil
	case "monthly", "every month", "once a month":
		return core.SchedulingOptions{Frequency: core.FrequencyMonthly, Count: 1}, nil
	}

	if m := perWeek.FindStringSubmatch(h); m != nil {
		n, err := count(m[1], 7)
		if err != nil {
			return core.SchedulingOptions{}, fmt.Errorf("%w: recurrence hint %q", core.ErrInvalidInput, hint)
		}
		if n == 7 {
			return core.SchedulingOptions{Frequency: core.FrequencyDaily}, nil
		}
		return core.SchedulingOptions{Frequency: core.FrequencyWeekly, Count: n}, nil
	}
	if m := perMonth.FindStringSubmatch(h); m != nil {
		n, err := count(m[1], 4)
		if err != nil {
			return core.SchedulingOptions{}, fmt.Errorf("%w: recurrence hint %q", core.ErrInvalidInput, hint)
		}
		return core.SchedulingOptions{Frequency: core.FrequencyMonthly, Count: n}, nil
	}

	return core.SchedulingOptions{}, fmt.Errorf("%w: recurrence hint %q", core.ErrInvalidInput, hint)
}

func count(word string, max int) (int, error) {
	n, ok := numberWords[word]
	if !ok {
		v, err := strconv.Atoi(word)
		if err != nil {
			return 0, err
		}
		n = v
	}
	if n < 1 || n > max {
		return 0, fmt.Errorf("count %d out of range", n)
	}
	return n, nil
}
