// Package calendar connects the tracker to Google Calendar: busy intervals
// for slot finding and one mirrored event per Responsibility.
package calendar

import (
	"context"
	"fmt"
	"sort"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/quantumlife/responsibility/internal/core"
)

// DefaultCalendarID is the authenticated user's main calendar
const DefaultCalendarID = "primary"

// Client wraps the Google Calendar API for a single calendar
type Client struct {
	service    *gcal.Service
	calendarID string
}

// NewClient creates a Calendar client. Authentication comes from opts,
// usually option.WithTokenSource.
func NewClient(ctx context.Context, calendarID string, opts ...option.ClientOption) (*Client, error) {
	service, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	if calendarID == "" {
		calendarID = DefaultCalendarID
	}
	return &Client{service: service, calendarID: calendarID}, nil
}

// CalendarID returns the calendar this client reads and writes
func (c *Client) CalendarID() string {
	return c.calendarID
}

// FreeBusy returns the busy intervals of the calendar within [start, end),
// sorted by start.
func (c *Client) FreeBusy(ctx context.Context, start, end time.Time) ([]core.Interval, error) {
	req := &gcal.FreeBusyRequest{
		TimeMin: start.Format(time.RFC3339),
		TimeMax: end.Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: c.calendarID}},
	}

	resp, err := c.service.Freebusy.Query(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get free/busy: %w", err)
	}

	cal, ok := resp.Calendars[c.calendarID]
	if !ok {
		return nil, nil
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("free/busy for %s: %s", c.calendarID, cal.Errors[0].Reason)
	}

	intervals := make([]core.Interval, 0, len(cal.Busy))
	for _, busy := range cal.Busy {
		s, err := time.Parse(time.RFC3339, busy.Start)
		if err != nil {
			return nil, fmt.Errorf("parse busy start %q: %w", busy.Start, err)
		}
		e, err := time.Parse(time.RFC3339, busy.End)
		if err != nil {
			return nil, fmt.Errorf("parse busy end %q: %w", busy.End, err)
		}
		intervals = append(intervals, core.Interval{Start: s, End: e})
	}

	sort.Slice(intervals, func(i, j int) bool { return intervals[i].Start.Before(intervals[j].Start) })
	return intervals, nil
}

// EventRequest contains parameters for creating or updating an event
type EventRequest struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	TimeZone    string
}

func (r EventRequest) event() *gcal.Event {
	return &gcal.Event{
		Summary:     r.Summary,
		Description: r.Description,
		Start:       &gcal.EventDateTime{DateTime: r.Start.Format(time.RFC3339), TimeZone: r.TimeZone},
		End:         &gcal.EventDateTime{DateTime: r.End.Format(time.RFC3339), TimeZone: r.TimeZone},
		// Reminders are delivered by the tracker itself.
		Reminders: &gcal.EventReminders{UseDefault: false, ForceSendFields: []string{"UseDefault"}},
	}
}

// CreateEvent creates an event and returns its id
func (c *Client) CreateEvent(ctx context.Context, req EventRequest) (string, error) {
	created, err := c.service.Events.Insert(c.calendarID, req.event()).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create event: %w", err)
	}
	return created.Id, nil
}

// UpdateEvent overwrites the summary, description and times of an event
func (c *Client) UpdateEvent(ctx context.Context, eventID string, req EventRequest) error {
	existing, err := c.service.Events.Get(c.calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to get existing event: %w", err)
	}

	patch := req.event()
	existing.Summary = patch.Summary
	existing.Description = patch.Description
	existing.Start = patch.Start
	existing.End = patch.End

	if _, err := c.service.Events.Update(c.calendarID, eventID, existing).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	return nil
}

// DeleteEvent deletes an event
func (c *Client) DeleteEvent(ctx context.Context, eventID string) error {
	if err := c.service.Events.Delete(c.calendarID, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}
