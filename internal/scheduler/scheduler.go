// Package scheduler runs the tracker's periodic jobs: the reconciliation
// pass, notification delivery, conflict resolution and housekeeping.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quantumlife/responsibility/internal/core"
	"github.com/quantumlife/responsibility/internal/logging"
)

// JobHandler is the function executed for a job
type JobHandler func(ctx context.Context) error

// ScheduleType represents the type of schedule
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval" // Run every X duration
	ScheduleDaily    ScheduleType = "daily"    // Run at a wall-clock time daily
)

// Schedule defines when a job runs
type Schedule struct {
	Type     ScheduleType  `json:"type"`
	Interval time.Duration `json:"interval,omitempty"`
	At       string        `json:"at,omitempty"` // "HH:MM" for daily jobs
}

// Job is a registered periodic job
type Job struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Schedule   Schedule      `json:"schedule"`
	Handler    JobHandler    `json:"-"`
	Timeout    time.Duration `json:"timeout"`
	RunOnStart bool          `json:"run_on_start"`

	Enabled    bool       `json:"enabled"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	NextRun    *time.Time `json:"next_run,omitempty"`
	RunCount   int64      `json:"run_count"`
	ErrorCount int64      `json:"error_count"`
	LastError  string     `json:"last_error,omitempty"`

	// exec serializes runs of the same job.
	exec sync.Mutex
}

// Config configures the scheduler
type Config struct {
	Timezone string        // Location of daily jobs (default: Local)
	Timeout  time.Duration // Default per-run timeout
	Clock    core.Clock
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Timezone: "Local",
		Timeout:  time.Minute,
	}
}

// Scheduler manages periodic jobs
type Scheduler struct {
	jobs     map[string]*Job
	running  map[string]context.CancelFunc
	mu       sync.RWMutex
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	timezone *time.Location
	timeout  time.Duration
	clock    core.Clock
	log      *logging.Logger
}

// NewScheduler creates a new scheduler. An unknown timezone is an error.
func NewScheduler(cfg Config) (*Scheduler, error) {
	tz := time.Local
	if cfg.Timezone != "" && cfg.Timezone != "Local" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("%w: timezone %q", core.ErrInvalidInput, cfg.Timezone)
		}
		tz = loc
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = core.SystemClock
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		jobs:     make(map[string]*Job),
		running:  make(map[string]context.CancelFunc),
		ctx:      ctx,
		cancel:   cancel,
		timezone: tz,
		timeout:  cfg.Timeout,
		clock:    cfg.Clock,
		log:      logging.Component("scheduler"),
	}, nil
}

// Register adds a job to the scheduler
func (s *Scheduler) Register(job *Job) error {
	if job.ID == "" {
		return fmt.Errorf("%w: job id", core.ErrMissingRequired)
	}
	if job.Handler == nil {
		return fmt.Errorf("%w: job handler", core.ErrMissingRequired)
	}
	switch job.Schedule.Type {
	case ScheduleInterval:
		if job.Schedule.Interval <= 0 {
			return fmt.Errorf("%w: interval must be positive", core.ErrInvalidInput)
		}
	case ScheduleDaily:
		if _, _, err := parseAt(job.Schedule.At); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: schedule type %q", core.ErrInvalidInput, job.Schedule.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: job %s already registered", core.ErrInvalidInput, job.ID)
	}
	if job.Timeout <= 0 {
		job.Timeout = s.timeout
	}
	job.Enabled = true
	next := s.nextRun(job.Schedule, s.clock())
	job.NextRun = &next

	s.jobs[job.ID] = job
	if s.started {
		s.startJob(job)
	}
	return nil
}

// Unregister removes a job
func (s *Scheduler) Unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.running[id]; ok {
		cancel()
		delete(s.running, id)
	}
	delete(s.jobs, id)
}

// Enable resumes a disabled job
func (s *Scheduler) Enable(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: job %s", core.ErrRecordNotFound, id)
	}
	job.Enabled = true
	if _, running := s.running[id]; s.started && !running {
		s.startJob(job)
	}
	return nil
}

// Disable pauses a job without unregistering it
func (s *Scheduler) Disable(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: job %s", core.ErrRecordNotFound, id)
	}
	job.Enabled = false
	if cancel, ok := s.running[id]; ok {
		cancel()
		delete(s.running, id)
	}
	return nil
}

// Start launches every enabled job
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.started = true

	for _, job := range s.jobs {
		if job.Enabled {
			s.startJob(job)
		}
	}
	s.log.Info("scheduler started with %d jobs", len(s.running))
	return nil
}

// Stop cancels all job loops and waits for in-flight runs
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = make(map[string]context.CancelFunc)
	s.started = false
	s.mu.Unlock()

	// Loops take the read lock, so wait outside the write lock.
	s.wg.Wait()

	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()
	s.log.Info("scheduler stopped")
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Scheduler) startJob(job *Job) {
	ctx, cancel := context.WithCancel(s.ctx)
	s.running[job.ID] = cancel

	s.wg.Add(1)
	go s.loop(ctx, job)
}

func (s *Scheduler) loop(ctx context.Context, job *Job) {
	defer s.wg.Done()

	if job.RunOnStart {
		s.execute(ctx, job)
	}

	for {
		s.mu.RLock()
		wait := job.NextRun.Sub(s.clock())
		s.mu.RUnlock()
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.execute(ctx, job)
		}
	}
}

// execute runs one job invocation under its timeout and records the outcome.
// Errors are counted and logged, never propagated to the loop.
func (s *Scheduler) execute(ctx context.Context, job *Job) error {
	job.exec.Lock()
	defer job.exec.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	now := s.clock()
	s.mu.Lock()
	job.LastRun = &now
	job.RunCount++
	s.mu.Unlock()

	err := job.Handler(runCtx)

	s.mu.Lock()
	if err != nil {
		job.ErrorCount++
		job.LastError = err.Error()
	} else {
		job.LastError = ""
	}
	next := s.nextRun(job.Schedule, s.clock())
	job.NextRun = &next
	s.mu.Unlock()

	if err != nil {
		s.log.WithField("job", job.ID).Warn("job failed: %v", err)
	}
	return err
}

// nextRun calculates the next run time for a schedule
func (s *Scheduler) nextRun(schedule Schedule, from time.Time) time.Time {
	switch schedule.Type {
	case ScheduleDaily:
		hour, minute, _ := parseAt(schedule.At)
		now := from.In(s.timezone)
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, s.timezone)
		if !next.After(now) {
			next = time.Date(now.Year(), now.Month(), now.Day()+1, hour, minute, 0, 0, s.timezone)
		}
		return next
	default:
		return from.Add(schedule.Interval)
	}
}

func parseAt(at string) (hour, minute int, err error) {
	if _, err := fmt.Sscanf(at, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("%w: daily time %q", core.ErrInvalidInput, at)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: daily time %q", core.ErrInvalidInput, at)
	}
	return hour, minute, nil
}

// RunNow executes a job immediately and returns its error. It waits for a
// run of the same job already in progress.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	s.mu.RLock()
	job, ok := s.jobs[id]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: job %s", core.ErrRecordNotFound, id)
	}
	return s.execute(ctx, job)
}

// Job returns a copy of a job's state
func (s *Scheduler) Job(id string) (JobStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return JobStatus{}, false
	}
	return statusOf(job), true
}

// Jobs returns every job's state ordered by id
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, statusOf(job))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// JobStatus is a point-in-time view of a job
type JobStatus struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Schedule   Schedule   `json:"schedule"`
	Enabled    bool       `json:"enabled"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	NextRun    *time.Time `json:"next_run,omitempty"`
	RunCount   int64      `json:"run_count"`
	ErrorCount int64      `json:"error_count"`
	LastError  string     `json:"last_error,omitempty"`
}

func statusOf(j *Job) JobStatus {
	return JobStatus{
		ID:         j.ID,
		Name:       j.Name,
		Schedule:   j.Schedule,
		Enabled:    j.Enabled,
		LastRun:    j.LastRun,
		NextRun:    j.NextRun,
		RunCount:   j.RunCount,
		ErrorCount: j.ErrorCount,
		LastError:  j.LastError,
	}
}

// Stats returns scheduler statistics
func (s *Scheduler) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Started:     s.started,
		TotalJobs:   len(s.jobs),
		RunningJobs: len(s.running),
		Timezone:    s.timezone.String(),
	}
	for _, job := range s.jobs {
		if job.Enabled {
			stats.EnabledJobs++
		}
		stats.TotalRuns += job.RunCount
		stats.TotalErrors += job.ErrorCount
	}
	return stats
}

// Stats contains scheduler statistics
type Stats struct {
	Started     bool   `json:"started"`
	TotalJobs   int    `json:"total_jobs"`
	EnabledJobs int    `json:"enabled_jobs"`
	RunningJobs int    `json:"running_jobs"`
	TotalRuns   int64  `json:"total_runs"`
	TotalErrors int64  `json:"total_errors"`
	Timezone    string `json:"timezone"`
}

// IntervalJob creates a job that runs at a fixed interval
func IntervalJob(id, name string, interval time.Duration, handler JobHandler) *Job {
	return &Job{
		ID:       id,
		Name:     name,
		Schedule: Schedule{Type: ScheduleInterval, Interval: interval},
		Handler:  handler,
	}
}

// DailyJob creates a job that runs daily at a wall-clock time
func DailyJob(id, name, at string, handler JobHandler) *Job {
	return &Job{
		ID:       id,
		Name:     name,
		Schedule: Schedule{Type: ScheduleDaily, At: at},
		Handler:  handler,
	}
}
