package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantumlife/responsibility/internal/calendar"
	"github.com/quantumlife/responsibility/internal/command"
	"github.com/quantumlife/responsibility/internal/config"
	"github.com/quantumlife/responsibility/internal/core"
	"github.com/quantumlife/responsibility/internal/effects"
	"github.com/quantumlife/responsibility/internal/escalation"
	"github.com/quantumlife/responsibility/internal/logging"
	"github.com/quantumlife/responsibility/internal/notifications"
	"github.com/quantumlife/responsibility/internal/repository"
	"github.com/quantumlife/responsibility/internal/slots"
	"github.com/quantumlife/responsibility/internal/storage"
	"github.com/quantumlife/responsibility/internal/tracker"
)

// app is the wired tracker stack shared by every command
type app struct {
	cfg  *config.Config
	loc  *time.Location
	db   *storage.DB
	lock *storage.FileLock

	repo          *repository.Repository
	notifications *notifications.Service
	reminders     *escalation.Scheduler
	tracker       *tracker.Service
	adapter       *command.Adapter
}

// resolvedConfigPath is --config, or config.yaml in the data directory.
func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath(dataDir)
}

// readConfig reads the config file, letting --data-dir override it.
func readConfig(cmd *cobra.Command) (*config.Config, error) {
	if cmd.Flags().Changed("data-dir") {
		os.Setenv(config.EnvPrefix+"DATA_DIR", dataDir)
	}
	return config.Load(resolvedConfigPath())
}

// loadConfig reads and validates the config, then applies the log level.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := readConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logging.SetLevel(logging.ParseLevel(cfg.Log.Level))
	return cfg, nil
}

// lockWait is how long a command waits for another resp command to finish
// with the data directory.
var lockWait = 3 * time.Second

// lockDataDir takes the data directory lock. Every process holding a
// snapshot in memory must hold it: the snapshot is written back whole, so a
// second writer would erase the first one's records.
func lockDataDir(ctx context.Context, cfg *config.Config) (*storage.FileLock, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	lock := storage.NewFileLock(filepath.Join(cfg.DataDir, storage.LockFile))

	ctx, cancel := context.WithTimeout(ctx, lockWait)
	defer cancel()
	err := lock.Lock(ctx, 100*time.Millisecond)
	if errors.Is(err, storage.ErrLocked) {
		return nil, fmt.Errorf("%w\n   %s is in use by another resp process; if 'resp serve' is running, stop it or use its API at http://%s:%d/api/v1",
			err, cfg.DataDir, cfg.Server.Host, cfg.Server.Port)
	}
	return lock, err
}

// openApp locks the data directory, opens the database, loads the snapshot
// and wires the services.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	hint, err := slots.ParseWorkScheduleHint(cfg.Slots.WorkDays)
	if err != nil {
		return nil, err
	}

	lock, err := lockDataDir(cmd.Context(), cfg)
	if err != nil {
		return nil, err
	}

	db, err := storage.Open(storage.Config{Path: cfg.DatabasePath()})
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		lock.Unlock()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	clock := core.SystemClock
	store := storage.NewResponsibilityStore(db)

	mirrorEvents := cfg.Calendar.Enabled && cfg.Calendar.MirrorEvents
	repo := repository.New(clock, repository.WithEventMirroring(mirrorEvents))
	if err := repo.Load(cmd.Context(), store); err != nil {
		db.Close()
		lock.Unlock()
		return nil, fmt.Errorf("failed to load responsibilities: %w", err)
	}

	notif := notifications.NewService(db, clock)
	notif.SetEnabled(cfg.Notifications.Enabled)
	reminders := escalation.New(notif, clock)

	var oracle calendar.Oracle = calendar.NoopOracle{}
	var opts []effects.Option
	if cfg.Calendar.Enabled {
		oauth := calendar.NewOAuthClient(calendar.NewOAuthConfig(cfg.Calendar.ClientID, cfg.Calendar.ClientSecret))
		google := calendar.NewGoogleOracle(oauth, cfg.Calendar.TokenFile, cfg.Calendar.CalendarID)
		oracle = google
		if mirrorEvents {
			opts = append(opts, effects.WithEventMirror(calendar.NewMirror(google), repo))
		}
	}
	if cfg.Mirror.Enabled {
		opts = append(opts, effects.WithRemoteMirror(storage.NewRemoteMirror(cfg.Mirror.URL, cfg.MirrorTimeout()), cfg.MirrorTimeout()))
	}
	runner := effects.NewRunner(store, reminders, opts...)

	finder := slots.NewFinder(oracle, repo, clock,
		slots.WithLocation(loc),
		slots.WithHours(slots.Hours{
			Morning:   cfg.Slots.MorningHour,
			Afternoon: slots.DefaultHours.Afternoon,
			Evening:   cfg.Slots.EveningHour,
		}),
	)

	svc := tracker.New(repo, runner, finder, tracker.Options{
		Clock:        clock,
		Nudge:        time.Duration(cfg.Conflicts.NudgeMinutes) * time.Minute,
		WorkSchedule: hint,
	})

	return &app{
		cfg:           cfg,
		loc:           loc,
		db:            db,
		lock:          lock,
		repo:          repo,
		notifications: notif,
		reminders:     reminders,
		tracker:       svc,
		adapter:       command.NewAdapter(clock, loc.String()),
	}, nil
}

// Close waits for background effects, closes the database and releases the
// data directory.
func (a *app) Close() error {
	a.tracker.Wait()
	err := a.db.Close()
	if uerr := a.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

// withApp runs fn against an opened app.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}
