package calendar

import (
	"context"
	"fmt"

	"github.com/quantumlife/responsibility/internal/core"
)

// Mirror keeps one calendar event per Responsibility
type Mirror struct {
	oracle *GoogleOracle
}

// NewMirror writes events through the oracle's client
func NewMirror(oracle *GoogleOracle) *Mirror {
	return &Mirror{oracle: oracle}
}

// Upsert creates the event for r, or updates the one it already points to,
// and returns the event id.
func (m *Mirror) Upsert(ctx context.Context, r *core.Responsibility) (string, error) {
	c, err := m.oracle.Client(ctx)
	if err != nil {
		return "", fmt.Errorf("calendar unavailable: %w", err)
	}

	req := EventRequest{
		Summary:     r.Title,
		Description: r.Description,
		Start:       r.Schedule.Datetime,
		End:         r.Schedule.Datetime.Add(r.AssumedDuration()),
		TimeZone:    r.Schedule.Timezone,
	}

	if r.CalendarEventID != "" {
		if err := c.UpdateEvent(ctx, r.CalendarEventID, req); err != nil {
			return "", err
		}
		return r.CalendarEventID, nil
	}
	return c.CreateEvent(ctx, req)
}

// Release deletes a mirrored event
func (m *Mirror) Release(ctx context.Context, eventID string) error {
	c, err := m.oracle.Client(ctx)
	if err != nil {
		return fmt.Errorf("calendar unavailable: %w", err)
	}
	return c.DeleteEvent(ctx, eventID)
}
