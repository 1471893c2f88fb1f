// Package notifications is the reminder channel: scheduled notifications are
// stored in SQLite, delivered to subscribers once due, and kept as history.
package notifications

import (
	"time"

	"github.com/quantumlife/responsibility/internal/core"
	"github.com/quantumlife/responsibility/internal/escalation"
)

// Status of a scheduled notification
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// Notification is one scheduled reminder
type Notification struct {
	ID               string             `json:"id"`
	ResponsibilityID string             `json:"responsibility_id"`
	Kind             escalation.Kind    `json:"kind"`
	Title            string             `json:"title"`
	Body             string             `json:"body,omitempty"`
	Channel          core.Channel       `json:"channel"`
	Strength         core.ReminderStyle `json:"strength"`
	FireAt           time.Time          `json:"fire_at"`
	Status           Status             `json:"status"`
	CreatedAt        time.Time          `json:"created_at"`
	DeliveredAt      *time.Time         `json:"delivered_at,omitempty"`
}

// Filter for querying notifications
type Filter struct {
	ResponsibilityID string
	Status           Status
	Before           time.Time // fire_at <= Before when set
	Limit            int
	Offset           int
}

// Stats summarises the notification table
type Stats struct {
	Total      int            `json:"total"`
	Pending    int            `json:"pending"`
	Delivered  int            `json:"delivered"`
	Cancelled  int            `json:"cancelled"`
	ByKind     map[string]int `json:"by_kind"`
	NextFireAt *time.Time     `json:"next_fire_at,omitempty"`
}

// WebSocketMessage for real-time delivery
type WebSocketMessage struct {
	Type    string       `json:"type"`
	Payload Notification `json:"payload"`
}
