package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/quantumlife/responsibility/internal/api"
	"github.com/quantumlife/responsibility/internal/logging"
	"github.com/quantumlife/responsibility/internal/scheduler"
)

// notificationRetention is how long delivered and cancelled reminders are kept.
const notificationRetention = 30 * 24 * time.Hour

// serveCmd runs the daemon: HTTP API, WebSocket hub and background jobs
func serveCmd() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("host") {
				a.cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			return serve(cmd.Context(), a)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config)")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	log := logging.Component("daemon")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Rebuild the reminder queue from the snapshot this process now owns.
	n, err := a.reminders.Resync(ctx, a.repo.All())
	if err != nil {
		log.Warn("reminder resync failed: %v", err)
	} else {
		log.Info("rescheduled %d reminders", n)
	}
	a.tracker.Reconcile(ctx)

	sched, err := scheduler.NewScheduler(scheduler.Config{Timezone: a.loc.String()})
	if err != nil {
		return err
	}
	if err := registerJobs(sched, a); err != nil {
		return err
	}

	server := api.New(api.Config{
		Host:          a.cfg.Server.Host,
		Port:          a.cfg.Server.Port,
		Tracker:       a.tracker,
		Adapter:       a.adapter,
		Notifications: a.notifications,
		Scheduler:     sched,
		Location:      a.loc,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start()
	})
	g.Go(func() error {
		return sched.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Stop(shutdownCtx)
	})

	fmt.Printf("🚀 resp is running on http://%s:%d\n", a.cfg.Server.Host, a.cfg.Server.Port)
	fmt.Println("   Press Ctrl+C to stop")

	return g.Wait()
}

// registerJobs adds the periodic passes of the daemon
func registerJobs(sched *scheduler.Scheduler, a *app) error {
	jobs := []*scheduler.Job{
		scheduler.IntervalJob("reconcile", "Lifecycle reconciliation", a.cfg.ReconcileInterval(), func(ctx context.Context) error {
			a.tracker.Reconcile(ctx)
			return nil
		}),
		scheduler.IntervalJob("dispatch", "Deliver due reminders", a.cfg.DispatchInterval(), func(ctx context.Context) error {
			_, err := a.notifications.DispatchDue(ctx, time.Now())
			return err
		}),
		scheduler.DailyJob("cleanup", "Prune old reminders", "03:00", func(ctx context.Context) error {
			_, err := a.notifications.Cleanup(ctx, notificationRetention)
			return err
		}),
	}
	if a.cfg.Conflicts.Enabled {
		jobs = append(jobs, scheduler.IntervalJob("conflicts", "Resolve schedule conflicts", a.cfg.ConflictInterval(), func(ctx context.Context) error {
			_, err := a.tracker.ResolveConflicts(ctx)
			return err
		}))
	}

	for _, job := range jobs {
		if err := sched.Register(job); err != nil {
			return fmt.Errorf("register %s: %w", job.ID, err)
		}
	}
	return nil
}
