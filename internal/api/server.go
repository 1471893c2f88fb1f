// Package api provides the HTTP API server for the responsibility tracker.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/quantumlife/responsibility/internal/command"
	"github.com/quantumlife/responsibility/internal/core"
	"github.com/quantumlife/responsibility/internal/logging"
	"github.com/quantumlife/responsibility/internal/notifications"
	"github.com/quantumlife/responsibility/internal/scheduler"
	"github.com/quantumlife/responsibility/internal/tracker"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	// Components
	tracker       *tracker.Service
	adapter       *command.Adapter
	notifications *notifications.Service
	scheduler     *scheduler.Scheduler
	wsHub         *WebSocketHub

	clock core.Clock
	loc   *time.Location
	log   *logging.Logger
}

// Config for the server
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string

	Tracker       *tracker.Service
	Adapter       *command.Adapter
	Notifications *notifications.Service
	Scheduler     *scheduler.Scheduler

	Clock    core.Clock
	Location *time.Location
}

// New creates a new API server. When a notification service is configured
// the WebSocket hub subscribes to it, so due reminders reach browser clients.
func New(cfg Config) *Server {
	if cfg.Clock == nil {
		cfg.Clock = core.SystemClock
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Adapter == nil {
		cfg.Adapter = command.NewAdapter(cfg.Clock, cfg.Location.String())
	}

	s := &Server{
		tracker:       cfg.Tracker,
		adapter:       cfg.Adapter,
		notifications: cfg.Notifications,
		scheduler:     cfg.Scheduler,
		wsHub:         NewWebSocketHub(),
		clock:         cfg.Clock,
		loc:           cfg.Location,
		log:           logging.Component("api"),
	}

	if s.notifications != nil {
		s.notifications.Subscribe(s.wsHub)
	}

	s.setupRouter(cfg.AllowedOrigins)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRouter configures all routes
func (s *Server) setupRouter(origins []string) {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/health", s.handleHealth)

		// Responsibilities
		r.Route("/responsibilities", func(r chi.Router) {
			r.Get("/", s.handleListResponsibilities)
			r.Post("/", s.handleCreateResponsibility)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetResponsibility)
				r.Patch("/", s.handleUpdateResponsibility)
				r.Delete("/", s.handleDeleteResponsibility)

				r.Post("/complete", s.handleCompleteResponsibility)
				r.Post("/snooze", s.handleSnoozeResponsibility)
				r.Post("/reschedule", s.handleRescheduleResponsibility)
				r.Post("/archive", s.handleArchiveResponsibility)

				r.Post("/checklist", s.handleAddChecklistItem)
				r.Post("/checklist/{itemID}/toggle", s.handleToggleChecklistItem)
				r.Delete("/checklist/{itemID}", s.handleRemoveChecklistItem)
			})
		})

		r.Post("/reconcile", s.handleReconcile)

		// Scheduling
		r.Post("/slots", s.handleFindSlots)
		r.Post("/plans", s.handlePlanRecurring)
		r.Get("/conflicts", s.handleGetConflicts)
		r.Post("/conflicts/resolve", s.handleResolveConflicts)

		// Notifications (if service configured)
		if s.notifications != nil {
			notifAPI := NewNotificationsAPI(s.notifications, s.clock)
			notifAPI.RegisterRoutes(r)
		}

		// Background jobs (if scheduler configured)
		if s.scheduler != nil {
			r.Get("/scheduler", s.handleGetScheduler)
			r.Post("/scheduler/jobs/{jobID}/run", s.handleRunJob)
		}
	})

	// WebSocket
	r.Get("/ws", s.wsHub.ServeHTTP)

	s.router = r
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the WebSocket hub
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// Start starts the hub and serves HTTP until Stop is called.
func (s *Server) Start() error {
	go s.wsHub.Run()

	s.log.Info("API server listening on http://%s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	if s.notifications != nil {
		s.notifications.Unsubscribe(s.wsHub.ID())
	}
	s.wsHub.Stop()
	return s.httpServer.Shutdown(ctx)
}

// Broadcast sends an event to all WebSocket clients
func (s *Server) Broadcast(eventType string, data interface{}) {
	s.wsHub.Broadcast(Event{
		Type:      eventType,
		Data:      data,
		Timestamp: s.clock(),
	})
}

// --- Response helpers ---

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps domain errors to HTTP status codes.
func respondErr(w http.ResponseWriter, err error) {
	respondError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrResponsibilityNotFound),
		errors.Is(err, core.ErrChecklistItemNotFound),
		errors.Is(err, core.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidInput), errors.Is(err, core.ErrMissingRequired):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, core.ErrPermissionDenied):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	return true
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	result := map[string]interface{}{
		"status": "ok",
		"time":   s.clock(),
		"ws":     s.wsHub.ClientCount(),
	}
	if s.notifications != nil {
		result["notifications_enabled"] = s.notifications.Enabled()
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report := s.tracker.Reconcile(r.Context())
	if len(report.Transitions) > 0 {
		s.Broadcast("responsibilities.reconciled", report.Transitions)
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetScheduler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"stats": s.scheduler.Stats(),
		"jobs":  s.scheduler.Jobs(),
	})
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if err := s.scheduler.RunNow(r.Context(), id); err != nil {
		respondErr(w, err)
		return
	}
	status, _ := s.scheduler.Job(id)
	respondJSON(w, http.StatusOK, status)
}
