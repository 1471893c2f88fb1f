package testutil

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/quantumlife/responsibility/internal/core"
	"github.com/quantumlife/responsibility/internal/escalation"
)

// FakeOracle is a scripted busy-interval oracle.
type FakeOracle struct {
	mu      sync.Mutex
	Denied  bool
	Err     error
	Busy    []core.Interval
	Queries []core.Interval
}

// RequestPermission reports the scripted permission.
func (o *FakeOracle) RequestPermission(ctx context.Context) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.Denied
}

// BusyIntervals returns the scripted intervals that overlap [start, end).
func (o *FakeOracle) BusyIntervals(ctx context.Context, start, end time.Time) ([]core.Interval, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	window := core.Interval{Start: start, End: end}
	o.Queries = append(o.Queries, window)
	if o.Denied {
		return nil, nil
	}
	if o.Err != nil {
		return nil, o.Err
	}
	var out []core.Interval
	for _, iv := range o.Busy {
		if iv.Overlaps(window) {
			out = append(out, iv)
		}
	}
	return out, nil
}

// Scheduled is one notification held by a RecordingChannel.
type Scheduled struct {
	Handle  escalation.Handle
	At      time.Time
	Payload escalation.Payload
}

// RecordingChannel is an in-memory notification channel. FailOn makes the
// given 1-based ScheduleAt calls fail.
type RecordingChannel struct {
	mu        sync.Mutex
	FailOn    map[int]bool
	calls     int
	pending   map[escalation.Handle]Scheduled
	Cancelled []escalation.Handle
	Cleared   int
}

// NewRecordingChannel creates an empty channel.
func NewRecordingChannel() *RecordingChannel {
	return &RecordingChannel{pending: make(map[escalation.Handle]Scheduled)}
}

// ScheduleAt records a pending notification.
func (c *RecordingChannel) ScheduleAt(ctx context.Context, at time.Time, p escalation.Payload) (escalation.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++
	if c.FailOn[c.calls] {
		return "", fmt.Errorf("%w: scripted failure", core.ErrPermissionDenied)
	}
	h := escalation.Handle(fmt.Sprintf("n-%d", c.calls))
	c.pending[h] = Scheduled{Handle: h, At: at, Payload: p}
	return h, nil
}

// Cancel drops a pending notification.
func (c *RecordingChannel) Cancel(ctx context.Context, h escalation.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, h)
	c.Cancelled = append(c.Cancelled, h)
	return nil
}

// CancelFor drops the pending notifications of one Responsibility, only the
// given kinds when any are listed.
func (c *RecordingChannel) CancelFor(ctx context.Context, id string, kinds ...escalation.Kind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for h, s := range c.pending {
		if s.Payload.ResponsibilityID != id {
			continue
		}
		if len(kinds) > 0 && !slices.Contains(kinds, s.Payload.Kind) {
			continue
		}
		delete(c.pending, h)
		c.Cancelled = append(c.Cancelled, h)
	}
	return nil
}

// CancelAll drops every pending notification.
func (c *RecordingChannel) CancelAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = make(map[escalation.Handle]Scheduled)
	c.Cleared++
	return nil
}

// Pending returns pending notifications ordered by fire time.
func (c *RecordingChannel) Pending() []Scheduled {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Scheduled, 0, len(c.pending))
	for _, s := range c.pending {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].Handle < out[j].Handle
		}
		return out[i].At.Before(out[j].At)
	})
	return out
}

// PendingFor returns pending notifications of one Responsibility.
func (c *RecordingChannel) PendingFor(id string) []Scheduled {
	var out []Scheduled
	for _, s := range c.Pending() {
		if s.Payload.ResponsibilityID == id {
			out = append(out, s)
		}
	}
	return out
}
