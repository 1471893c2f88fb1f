package notifications

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlife/responsibility/internal/core"
	"github.com/quantumlife/responsibility/internal/escalation"
	"github.com/quantumlife/responsibility/internal/logging"
	"github.com/quantumlife/responsibility/internal/storage"
)

// Fixed width so that fire_at compares correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const columns = `id, responsibility_id, kind, title, body, channel, strength, fire_at, status, created_at, delivered_at`

// Subscriber receives notifications as they fall due
type Subscriber interface {
	Send(n Notification) error
	ID() string
}

// Service is the SQLite-backed escalation.Channel
type Service struct {
	db      *storage.DB
	clock   core.Clock
	log     *logging.Logger
	enabled atomic.Bool

	mu          sync.RWMutex
	subscribers map[string]Subscriber
}

var _ escalation.Channel = (*Service)(nil)

// NewService creates an enabled notification service
func NewService(db *storage.DB, clock core.Clock) *Service {
	if clock == nil {
		clock = core.SystemClock
	}
	s := &Service{
		db:          db,
		clock:       clock,
		log:         logging.Component("notifications"),
		subscribers: make(map[string]Subscriber),
	}
	s.enabled.Store(true)
	return s
}

// SetEnabled grants or revokes notification permission. While revoked,
// channel operations fail with core.ErrPermissionDenied.
func (s *Service) SetEnabled(enabled bool) {
	s.enabled.Store(enabled)
}

// Enabled reports whether notification permission is granted
func (s *Service) Enabled() bool {
	return s.enabled.Load()
}

func (s *Service) permitted() error {
	if !s.enabled.Load() {
		return fmt.Errorf("notifications disabled: %w", core.ErrPermissionDenied)
	}
	return nil
}

// Subscribe adds a subscriber for delivered notifications
func (s *Service) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[sub.ID()] = sub
}

// Unsubscribe removes a subscriber
func (s *Service) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, id)
}

// ScheduleAt stores a pending notification and returns its id as the handle
func (s *Service) ScheduleAt(ctx context.Context, at time.Time, p escalation.Payload) (escalation.Handle, error) {
	if err := s.permitted(); err != nil {
		return "", err
	}

	id := uuid.New().String()
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO scheduled_notifications (id, responsibility_id, kind, title, body, channel, strength, fire_at, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, p.ResponsibilityID, string(p.Kind), p.Title, p.Body, string(p.Channel), string(p.Strength),
		formatTime(at), string(StatusPending), formatTime(s.clock()))
	if err != nil {
		return "", fmt.Errorf("save notification: %w", err)
	}
	return escalation.Handle(id), nil
}

// Cancel withdraws a pending notification. Delivered or unknown handles are
// left alone.
func (s *Service) Cancel(ctx context.Context, h escalation.Handle) error {
	if err := s.permitted(); err != nil {
		return err
	}
	_, err := s.db.Conn().ExecContext(ctx, `
		UPDATE scheduled_notifications SET status = ? WHERE id = ? AND status = ?
	`, string(StatusCancelled), string(h), string(StatusPending))
	if err != nil {
		return fmt.Errorf("cancel notification: %w", err)
	}
	return nil
}

// CancelFor withdraws the pending notifications of one Responsibility,
// only those of the given kinds when any are listed.
func (s *Service) CancelFor(ctx context.Context, responsibilityID string, kinds ...escalation.Kind) error {
	if err := s.permitted(); err != nil {
		return err
	}

	query := `UPDATE scheduled_notifications SET status = ? WHERE responsibility_id = ? AND status = ?`
	args := []interface{}{string(StatusCancelled), responsibilityID, string(StatusPending)}
	if len(kinds) > 0 {
		query += " AND kind IN (?" + strings.Repeat(", ?", len(kinds)-1) + ")"
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}

	if _, err := s.db.Conn().ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("cancel notifications of %s: %w", responsibilityID, err)
	}
	return nil
}

// CancelAll withdraws every pending notification
func (s *Service) CancelAll(ctx context.Context) error {
	if err := s.permitted(); err != nil {
		return err
	}
	_, err := s.db.Conn().ExecContext(ctx, `
		UPDATE scheduled_notifications SET status = ? WHERE status = ?
	`, string(StatusCancelled), string(StatusPending))
	if err != nil {
		return fmt.Errorf("cancel all notifications: %w", err)
	}
	return nil
}

// DispatchDue delivers every pending notification with fire_at <= now to the
// subscribers and marks it delivered. It returns the number delivered.
func (s *Service) DispatchDue(ctx context.Context, now time.Time) (int, error) {
	if err := s.permitted(); err != nil {
		return 0, err
	}

	due, err := s.List(ctx, Filter{Status: StatusPending, Before: now})
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, n := range due {
		res, err := s.db.Conn().ExecContext(ctx, `
			UPDATE scheduled_notifications SET status = ?, delivered_at = ? WHERE id = ? AND status = ?
		`, string(StatusDelivered), formatTime(now), n.ID, string(StatusPending))
		if err != nil {
			return delivered, fmt.Errorf("mark delivered: %w", err)
		}
		// Lost a race with Cancel or another dispatcher.
		if affected, _ := res.RowsAffected(); affected == 0 {
			continue
		}

		deliveredAt := now.UTC()
		n.Status = StatusDelivered
		n.DeliveredAt = &deliveredAt
		s.broadcast(*n)
		delivered++
	}

	if delivered > 0 {
		s.log.WithField("count", delivered).Debug("dispatched notifications")
	}
	return delivered, nil
}

func (s *Service) broadcast(n Notification) {
	s.mu.RLock()
	subs := make([]Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.Send(n); err != nil {
			s.log.WithFields(map[string]interface{}{
				"subscriber":   sub.ID(),
				"notification": n.ID,
			}).Warn("deliver notification failed: %v", err)
		}
	}
}

// Get retrieves a notification by id
func (s *Service) Get(ctx context.Context, id string) (*Notification, error) {
	row := s.db.Conn().QueryRowContext(ctx, `SELECT `+columns+` FROM scheduled_notifications WHERE id = ?`, id)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("notification %s: %w", id, core.ErrRecordNotFound)
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// List retrieves notifications ordered by fire time
func (s *Service) List(ctx context.Context, filter Filter) ([]*Notification, error) {
	query := `SELECT ` + columns + ` FROM scheduled_notifications WHERE 1=1`
	args := []interface{}{}

	if filter.ResponsibilityID != "" {
		query += " AND responsibility_id = ?"
		args = append(args, filter.ResponsibilityID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if !filter.Before.IsZero() {
		query += " AND fire_at <= ?"
		args = append(args, formatTime(filter.Before))
	}

	query += " ORDER BY fire_at ASC, created_at ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	} else {
		query += " LIMIT -1"
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Pending lists the notifications still waiting to fire
func (s *Service) Pending(ctx context.Context) ([]*Notification, error) {
	return s.List(ctx, Filter{Status: StatusPending})
}

// Stats returns notification statistics
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByKind: make(map[string]int)}

	rows, err := s.db.Conn().QueryContext(ctx, `SELECT status, kind, COUNT(*) FROM scheduled_notifications GROUP BY status, kind`)
	if err != nil {
		return nil, fmt.Errorf("notification stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, kind string
		var count int
		if err := rows.Scan(&status, &kind, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		stats.ByKind[kind] += count
		switch Status(status) {
		case StatusPending:
			stats.Pending += count
		case StatusDelivered:
			stats.Delivered += count
		case StatusCancelled:
			stats.Cancelled += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var next sql.NullString
	err = s.db.Conn().QueryRowContext(ctx,
		`SELECT MIN(fire_at) FROM scheduled_notifications WHERE status = ?`, string(StatusPending)).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("next fire time: %w", err)
	}
	if next.Valid {
		t, err := parseTime(next.String)
		if err != nil {
			return nil, err
		}
		stats.NextFireAt = &t
	}

	return stats, nil
}

// Cleanup removes delivered and cancelled notifications created before
// olderThan ago
func (s *Service) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.clock().Add(-olderThan)
	result, err := s.db.Conn().ExecContext(ctx, `
		DELETE FROM scheduled_notifications WHERE created_at < ? AND status != ?
	`, formatTime(cutoff), string(StatusPending))
	if err != nil {
		return 0, fmt.Errorf("cleanup notifications: %w", err)
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row scanner) (*Notification, error) {
	n := &Notification{}
	var kind, channel, strength, status, fireAt, createdAt string
	var deliveredAt sql.NullString

	err := row.Scan(&n.ID, &n.ResponsibilityID, &kind, &n.Title, &n.Body, &channel, &strength,
		&fireAt, &status, &createdAt, &deliveredAt)
	if err != nil {
		return nil, err
	}

	n.Kind = escalation.Kind(kind)
	n.Channel = core.Channel(channel)
	n.Strength = core.ReminderStyle(strength)
	n.Status = Status(status)

	if n.FireAt, err = parseTime(fireAt); err != nil {
		return nil, err
	}
	if n.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if deliveredAt.Valid {
		t, err := parseTime(deliveredAt.String)
		if err != nil {
			return nil, err
		}
		n.DeliveredAt = &t
	}
	return n, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse notification time %q: %w", s, err)
	}
	return t, nil
}
