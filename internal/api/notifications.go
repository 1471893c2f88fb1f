package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quantumlife/responsibility/internal/core"
	"github.com/quantumlife/responsibility/internal/notifications"
)

// NotificationsAPI handles notification endpoints
type NotificationsAPI struct {
	service *notifications.Service
	clock   core.Clock
}

// NewNotificationsAPI creates a new notifications API
func NewNotificationsAPI(service *notifications.Service, clock core.Clock) *NotificationsAPI {
	if clock == nil {
		clock = core.SystemClock
	}
	return &NotificationsAPI{service: service, clock: clock}
}

// RegisterRoutes registers notification routes
func (api *NotificationsAPI) RegisterRoutes(r chi.Router) {
	r.Get("/notifications", api.handleGetNotifications)
	r.Get("/notifications/stats", api.handleGetNotificationStats)
	r.Get("/notifications/{id}", api.handleGetNotification)
	r.Put("/notifications/enabled", api.handleSetEnabled)
	r.Post("/notifications/dispatch", api.handleDispatch)
}

// handleGetNotifications returns notifications with optional filters
func (api *NotificationsAPI) handleGetNotifications(w http.ResponseWriter, r *http.Request) {
	filter := notifications.Filter{}
	q := r.URL.Query()

	if s := q.Get("status"); s != "" {
		filter.Status = notifications.Status(s)
	}
	if id := q.Get("responsibility_id"); id != "" {
		filter.ResponsibilityID = id
	}
	if b := q.Get("before"); b != "" {
		t, err := time.Parse(time.RFC3339, b)
		if err != nil {
			respondError(w, http.StatusBadRequest, "before must be RFC 3339")
			return
		}
		filter.Before = t
	}
	if l := q.Get("limit"); l != "" {
		filter.Limit, _ = strconv.Atoi(l)
	}
	if o := q.Get("offset"); o != "" {
		filter.Offset, _ = strconv.Atoi(o)
	}

	notifs, err := api.service.List(r.Context(), filter)
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": notifs,
		"count":         len(notifs),
	})
}

// handleGetNotification returns a single notification
func (api *NotificationsAPI) handleGetNotification(w http.ResponseWriter, r *http.Request) {
	notif, err := api.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, notif)
}

// handleGetNotificationStats returns notification statistics
func (api *NotificationsAPI) handleGetNotificationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := api.service.Stats(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// handleSetEnabled grants or revokes notification permission
func (api *NotificationsAPI) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Enabled *bool `json:"enabled"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}
	if input.Enabled == nil {
		respondError(w, http.StatusBadRequest, "enabled required")
		return
	}

	api.service.SetEnabled(*input.Enabled)
	respondJSON(w, http.StatusOK, map[string]bool{"enabled": api.service.Enabled()})
}

// handleDispatch delivers every due notification now
func (api *NotificationsAPI) handleDispatch(w http.ResponseWriter, r *http.Request) {
	n, err := api.service.DispatchDue(r.Context(), api.clock())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"delivered": n})
}
