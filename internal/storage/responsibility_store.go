package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quantumlife/responsibility/internal/core"
)

// timeLayout is the on-disk instant format. Instants are written in UTC and
// re-expressed in the schedule timezone on load.
const timeLayout = time.RFC3339Nano

// ResponsibilityStore persists the full Responsibility snapshot.
type ResponsibilityStore struct {
	db *DB
}

// NewResponsibilityStore creates a new responsibility store
func NewResponsibilityStore(db *DB) *ResponsibilityStore {
	return &ResponsibilityStore{db: db}
}

// LoadAll returns every stored Responsibility in snapshot order.
func (s *ResponsibilityStore) LoadAll(ctx context.Context) ([]*core.Responsibility, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT id, title, description, category, energy_required,
		       schedule_kind, schedule_datetime, timezone, recurrence_rule,
		       reminder_style, escalation_rules, status, snoozed_until,
		       completed_at, checklist, calendar_event_id, created_at, updated_at
		FROM responsibilities
		ORDER BY position, created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("query responsibilities: %w", err)
	}
	defer rows.Close()

	var items []*core.Responsibility
	for rows.Next() {
		r, err := scanResponsibility(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

// SaveAll replaces the stored snapshot with items in a single transaction.
func (s *ResponsibilityStore) SaveAll(ctx context.Context, items []*core.Responsibility) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM responsibilities`); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO responsibilities (
			    id, title, description, category, energy_required,
			    schedule_kind, schedule_datetime, timezone, recurrence_rule,
			    reminder_style, escalation_rules, status, snoozed_until,
			    completed_at, checklist, calendar_event_id, position,
			    created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, r := range items {
			rules, err := json.Marshal(nonNilRules(r.EscalationRules))
			if err != nil {
				return err
			}
			checklist, err := json.Marshal(nonNilChecklist(r.Checklist))
			if err != nil {
				return err
			}

			_, err = stmt.ExecContext(ctx,
				r.ID, r.Title, r.Description, r.Category, r.EnergyRequired,
				r.Schedule.Kind, formatTime(r.Schedule.Datetime), timezoneName(r.Schedule.Timezone), r.Schedule.RecurrenceRule,
				r.ReminderStyle, string(rules), r.Status, formatTimePtr(r.SnoozedUntil),
				formatTimePtr(r.CompletedAt), string(checklist), r.CalendarEventID, i,
				formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
			)
			if err != nil {
				return fmt.Errorf("insert %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanResponsibility(row scanner) (*core.Responsibility, error) {
	r := &core.Responsibility{}
	var datetime, createdAt, updatedAt, rules, checklist string
	var snoozedUntil, completedAt sql.NullString

	err := row.Scan(
		&r.ID, &r.Title, &r.Description, &r.Category, &r.EnergyRequired,
		&r.Schedule.Kind, &datetime, &r.Schedule.Timezone, &r.Schedule.RecurrenceRule,
		&r.ReminderStyle, &rules, &r.Status, &snoozedUntil,
		&completedAt, &checklist, &r.CalendarEventID, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan responsibility: %w", err)
	}

	loc := r.Schedule.Location()
	if r.Schedule.Datetime, err = parseTime(datetime, loc); err != nil {
		return nil, fmt.Errorf("%s schedule_datetime: %w", r.ID, err)
	}
	if r.CreatedAt, err = parseTime(createdAt, time.UTC); err != nil {
		return nil, fmt.Errorf("%s created_at: %w", r.ID, err)
	}
	if r.UpdatedAt, err = parseTime(updatedAt, time.UTC); err != nil {
		return nil, fmt.Errorf("%s updated_at: %w", r.ID, err)
	}
	if r.SnoozedUntil, err = parseTimePtr(snoozedUntil, loc); err != nil {
		return nil, fmt.Errorf("%s snoozed_until: %w", r.ID, err)
	}
	if r.CompletedAt, err = parseTimePtr(completedAt, loc); err != nil {
		return nil, fmt.Errorf("%s completed_at: %w", r.ID, err)
	}

	if err := json.Unmarshal([]byte(rules), &r.EscalationRules); err != nil {
		return nil, fmt.Errorf("%s escalation_rules: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(checklist), &r.Checklist); err != nil {
		return nil, fmt.Errorf("%s checklist: %w", r.ID, err)
	}
	if len(r.EscalationRules) == 0 {
		r.EscalationRules = nil
	}
	if len(r.Checklist) == 0 {
		r.Checklist = nil
	}

	return r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(loc), nil
}

func parseTimePtr(s sql.NullString, loc *time.Location) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String, loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func timezoneName(tz string) string {
	if tz == "" {
		return "UTC"
	}
	return tz
}

func nonNilRules(r []core.EscalationRule) []core.EscalationRule {
	if r == nil {
		return []core.EscalationRule{}
	}
	return r
}

func nonNilChecklist(c []core.ChecklistItem) []core.ChecklistItem {
	if c == nil {
		return []core.ChecklistItem{}
	}
	return c
}
