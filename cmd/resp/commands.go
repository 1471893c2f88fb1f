package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/quantumlife/responsibility/internal/command"
	"github.com/quantumlife/responsibility/internal/config"
	"github.com/quantumlife/responsibility/internal/core"
	"github.com/quantumlife/responsibility/internal/notifications"
	"github.com/quantumlife/responsibility/internal/storage"
)

// initCmd writes a config file and creates the database
func initCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the data directory and config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolvedConfigPath()
			if _, err := os.Stat(path); err == nil && !force {
				fmt.Println("⚠️  resp is already initialized!")
				fmt.Printf("   Config: %s\n", path)
				fmt.Println("\nUse 'resp init --force' to start over.")
				return nil
			}

			fmt.Println("🚀 Welcome to resp!")
			fmt.Println()

			cfg := config.Default()
			cfg.DataDir = dataDir

			reader := bufio.NewReader(os.Stdin)
			fmt.Printf("Timezone [%s]: ", time.Local.String())
			tz, _ := reader.ReadString('\n')
			if tz = strings.TrimSpace(tz); tz != "" {
				cfg.Timezone = tz
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if err := cfg.Save(path); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}

			db, err := storage.Open(storage.Config{Path: cfg.DatabasePath()})
			if err != nil {
				return fmt.Errorf("failed to create database: %w", err)
			}
			defer db.Close()
			if err := db.Migrate(); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}

			fmt.Println("\n✅ Ready!")
			fmt.Printf("   Config:   %s\n", path)
			fmt.Printf("   Database: %s\n", cfg.DatabasePath())
			fmt.Println("\nNext steps:")
			fmt.Println("  resp add \"Pay rent\" --due 2025-01-01 --style critical")
			fmt.Println("  resp calendar connect   # optional: use your Google Calendar")
			fmt.Println("  resp serve              # reminders, API and background jobs")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

// addCmd adds a responsibility, or plans a recurring one from --hint
func addCmd() *cobra.Command {
	var (
		due, timezone, rrule string
		energy, style        string
		category, desc, hint string
		checklist            []string
	)

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a responsibility",
		Long: `Add a responsibility. Without --due it is due in one hour.

--due accepts RFC 3339, "2006-01-02 15:04", a bare date (09:00) or a
relative "+90m". --hint plans a recurring habit in free slots instead,
for example "daily", "weekly" or "3 times a week".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				in := command.Command{
					Title:          strings.Join(args, " "),
					Description:    desc,
					Category:       category,
					EnergyRequired: energy,
					ReminderStyle:  style,
					RecurrenceHint: hint,
					Checklist:      checklist,
				}
				if due != "" || timezone != "" || rrule != "" {
					in.Schedule = &command.ScheduleInput{Timezone: timezone, RecurrenceRule: rrule}
					if due != "" {
						loc := a.loc
						if timezone != "" {
							l, err := time.LoadLocation(timezone)
							if err != nil {
								return fmt.Errorf("invalid timezone %q", timezone)
							}
							loc = l
						}
						at, err := command.ParseTime(due, time.Now(), loc)
						if err != nil {
							return err
						}
						in.Schedule.Datetime = at
					}
				}

				intent, err := a.adapter.Build(in)
				if err != nil {
					return err
				}

				if intent.Recurring() {
					plan, err := a.tracker.PlanRecurring(ctx, intent.Responsibility, *intent.Options)
					if err != nil {
						return err
					}
					fmt.Printf("✅ Planned %d of %d\n", len(plan.Created), plan.Requested)
					if plan.Limited {
						fmt.Println("   Not enough free slots this week for all of them.")
					}
					printTable(a, plan.Created)
					return nil
				}

				rec, err := a.tracker.Add(ctx, intent.Responsibility)
				if err != nil {
					return err
				}
				fmt.Printf("✅ Added %s\n", rec.Title)
				fmt.Printf("   ID:  %s\n", rec.ID)
				fmt.Printf("   Due: %s\n", formatTime(rec.Schedule.Datetime, a.loc))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&due, "due", "", "due time")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone of the due time")
	cmd.Flags().StringVar(&rrule, "rrule", "", "RFC 5545 recurrence rule")
	cmd.Flags().StringVar(&energy, "energy", "", "energy required: low, medium or high")
	cmd.Flags().StringVar(&style, "style", "", "reminder style: gentle, persistent or critical")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&hint, "hint", "", "recurrence hint")
	cmd.Flags().StringSliceVar(&checklist, "checklist", nil, "checklist items (comma separated)")
	return cmd
}

// listCmd shows a view of the responsibilities
func listCmd() *cobra.Command {
	var (
		view   string
		energy string
		within time.Duration
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List responsibilities",
		Long:  `Views: all, upcoming, missed, snoozed and doable (needs --energy).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				var items []*core.Responsibility
				switch view {
				case "all":
					items = a.tracker.All(ctx)
				case "upcoming":
					items = a.tracker.Upcoming(ctx, within)
				case "missed":
					items = a.tracker.Missed(ctx)
				case "snoozed":
					items = a.tracker.Snoozed(ctx)
				case "doable":
					e, err := core.ParseEnergyLevel(energy)
					if err != nil {
						return err
					}
					items = a.tracker.DoableNow(ctx, e)
				default:
					return fmt.Errorf("unknown view %q", view)
				}

				if asJSON {
					return printJSON(items)
				}
				if len(items) == 0 {
					fmt.Println("No responsibilities found.")
					return nil
				}
				printTable(a, items)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&view, "view", "all", "view: all, upcoming, missed, snoozed, doable")
	cmd.Flags().StringVar(&energy, "energy", "medium", "available energy for the doable view")
	cmd.Flags().DurationVar(&within, "within", 24*time.Hour, "window of the upcoming view")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// showCmd prints one responsibility
func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a responsibility",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				rec, err := a.tracker.Get(ctx, args[0])
				if err != nil {
					return err
				}
				printResponsibility(a, rec)
				return nil
			})
		},
	}
}

func completeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark a responsibility done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.tracker.Complete(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("✅ Completed %s\n", res.Completed.Title)
				if res.Next != nil {
					fmt.Printf("   Next occurrence: %s (%s)\n", formatTime(res.Next.Schedule.Datetime, a.loc), res.Next.ID)
				}
				return nil
			})
		},
	}
}

func snoozeCmd() *cobra.Command {
	var (
		until string
		dur   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "snooze <id>",
		Short: "Snooze a responsibility",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				var (
					rec *core.Responsibility
					err error
				)
				switch {
				case until != "":
					at, perr := command.ParseTime(until, time.Now(), a.loc)
					if perr != nil {
						return perr
					}
					rec, err = a.tracker.Snooze(ctx, args[0], at)
				case dur > 0:
					rec, err = a.tracker.SnoozeFor(ctx, args[0], dur)
				default:
					return fmt.Errorf("one of --until or --for is required")
				}
				if err != nil {
					return err
				}
				fmt.Printf("💤 Snoozed %s until %s\n", rec.Title, formatTime(*rec.SnoozedUntil, a.loc))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&until, "until", "", "snooze until this time")
	cmd.Flags().DurationVar(&dur, "for", 0, "snooze for this long")
	return cmd
}

func rescheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reschedule <id> <when>",
		Short: "Move a responsibility to a new time",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				at, err := command.ParseTime(args[1], time.Now(), a.loc)
				if err != nil {
					return err
				}
				rec, err := a.tracker.Reschedule(ctx, args[0], at)
				if err != nil {
					return err
				}
				fmt.Printf("📅 %s is now due %s\n", rec.Title, formatTime(rec.Schedule.Datetime, a.loc))
				return nil
			})
		},
	}
}

func archiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a responsibility",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				rec, err := a.tracker.Archive(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("📦 Archived %s\n", rec.Title)
				return nil
			})
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a responsibility",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				rec, err := a.tracker.Delete(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("🗑️  Deleted %s\n", rec.Title)
				return nil
			})
		},
	}
}

// checkCmd manages checklist items
func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Manage checklist items",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <id> <label>",
		Short: "Add a checklist item",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				rec, err := a.tracker.AddChecklistItem(ctx, args[0], strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				printChecklist(rec)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "toggle <id> <item-id>",
		Short: "Toggle a checklist item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				rec, err := a.tracker.ToggleChecklistItem(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				printChecklist(rec)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <id> <item-id>",
		Short: "Remove a checklist item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				rec, err := a.tracker.RemoveChecklistItem(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				printChecklist(rec)
				return nil
			})
		},
	})

	return cmd
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one lifecycle pass now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				report := a.tracker.Reconcile(ctx)
				if len(report.Transitions) == 0 {
					fmt.Println("Nothing changed.")
				}
				for _, t := range report.Transitions {
					fmt.Printf("   %s: %s → %s\n", t.ID, t.From, t.To)
				}
				for _, an := range report.Anomalies {
					fmt.Printf("⚠️  %v\n", an)
				}
				return nil
			})
		},
	}
}

// schedulingFlags are the options shared by slots and plan
type schedulingFlags struct {
	frequency string
	count     int
	duration  int
	energy    string
	preferred []string
	avoid     []string
}

func (f *schedulingFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.frequency, "frequency", "weekly", "daily, weekly or monthly")
	cmd.Flags().IntVar(&f.count, "count", 0, "slots wanted (default depends on frequency)")
	cmd.Flags().IntVar(&f.duration, "duration", 0, "minutes per slot (default 30)")
	cmd.Flags().StringVar(&f.energy, "energy", "", "energy level: low, medium or high")
	cmd.Flags().StringSliceVar(&f.preferred, "prefer", nil, "preferred times: morning, afternoon, evening")
	cmd.Flags().StringSliceVar(&f.avoid, "avoid", nil, "days to avoid, e.g. sat,sun")
}

func (f *schedulingFlags) options() (core.SchedulingOptions, error) {
	freq, err := core.ParseFrequency(f.frequency)
	if err != nil {
		return core.SchedulingOptions{}, err
	}
	opts := core.SchedulingOptions{
		Frequency:       freq,
		Count:           f.count,
		DurationMinutes: f.duration,
		AvoidDays:       f.avoid,
	}
	if f.energy != "" {
		e, err := core.ParseEnergyLevel(f.energy)
		if err != nil {
			return core.SchedulingOptions{}, err
		}
		opts.EnergyLevel = e
	}
	for _, name := range f.preferred {
		t, err := core.ParseTimeOfDay(name)
		if err != nil {
			return core.SchedulingOptions{}, err
		}
		opts.PreferredTimes = append(opts.PreferredTimes, t)
	}
	if opts.Count < 0 || opts.DurationMinutes < 0 {
		return core.SchedulingOptions{}, fmt.Errorf("%w: count and duration must not be negative", core.ErrInvalidInput)
	}
	return opts, nil
}

// slotsCmd suggests free slots this week
func slotsCmd() *cobra.Command {
	var f schedulingFlags

	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Find free slots this week",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := f.options()
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				found := a.tracker.FindSlots(ctx, opts)
				if len(found) == 0 {
					fmt.Println("No free slots this week.")
					return nil
				}

				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Date", "Start", "End", "Score", "Reason"})
				for _, s := range found {
					tw.AppendRow(table.Row{
						s.Date,
						s.StartTime.In(a.loc).Format("15:04"),
						s.EndTime.In(a.loc).Format("15:04"),
						s.Score,
						s.Reason,
					})
				}
				tw.Render()
				if len(found) < opts.EffectiveCount() {
					fmt.Printf("Only %d of %d requested slots are free.\n", len(found), opts.EffectiveCount())
				}
				return nil
			})
		},
	}

	f.register(cmd)
	return cmd
}

// planCmd creates one recurring responsibility per free slot
func planCmd() *cobra.Command {
	var (
		f               schedulingFlags
		style, category string
		desc            string
	)

	cmd := &cobra.Command{
		Use:   "plan <title>",
		Short: "Plan a recurring habit into free slots",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := f.options()
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				intent, err := a.adapter.Build(command.Command{
					Title:          strings.Join(args, " "),
					Description:    desc,
					Category:       category,
					EnergyRequired: string(opts.EnergyLevel),
					ReminderStyle:  style,
				})
				if err != nil {
					return err
				}

				plan, err := a.tracker.PlanRecurring(ctx, intent.Responsibility, opts)
				if err != nil {
					return err
				}
				fmt.Printf("✅ Planned %d of %d\n", len(plan.Created), plan.Requested)
				if plan.Limited {
					fmt.Println("   Not enough free slots this week for all of them.")
				}
				for _, msg := range plan.Failed {
					fmt.Printf("⚠️  %s\n", msg)
				}
				if len(plan.Created) > 0 {
					printTable(a, plan.Created)
				}
				return nil
			})
		},
	}

	f.register(cmd)
	cmd.Flags().StringVar(&style, "style", "", "reminder style: gentle, persistent or critical")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	return cmd
}

// conflictsCmd lists overlapping commitments
func conflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "Show overlapping commitments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				found := a.tracker.Conflicts(ctx)
				if len(found) == 0 {
					fmt.Println("No conflicts.")
				}
				for _, c := range found {
					fmt.Printf("⚠️  %v\n", c)
				}
				return nil
			})
		},
	}
}

// resolveCmd nudges the lower-priority side of each conflict
func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Move conflicting commitments apart",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				report, err := a.tracker.ResolveConflicts(ctx)
				if err != nil {
					return err
				}
				for _, m := range report.Moved {
					fmt.Printf("📅 %s: %s → %s\n", m.ID, formatTime(m.From, a.loc), formatTime(m.To, a.loc))
				}
				for _, c := range report.Unresolved {
					fmt.Printf("⚠️  %v\n", c)
				}
				if len(report.Moved) == 0 && len(report.Unresolved) == 0 {
					fmt.Println("No conflicts.")
				}
				return nil
			})
		},
	}
}

// notificationsCmd shows scheduled reminders
func notificationsCmd() *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Show scheduled reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				list, err := a.notifications.List(ctx, notifications.Filter{
					Status: notifications.Status(status),
					Limit:  limit,
				})
				if err != nil {
					return err
				}
				stats, err := a.notifications.Stats(ctx)
				if err != nil {
					return err
				}

				fmt.Printf("📬 %d pending, %d delivered, %d cancelled\n", stats.Pending, stats.Delivered, stats.Cancelled)
				if !a.notifications.Enabled() {
					fmt.Println("   Notifications are disabled in the config.")
				}
				if len(list) == 0 {
					return nil
				}

				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Fire at", "Kind", "Strength", "Status", "Title"})
				for _, n := range list {
					tw.AppendRow(table.Row{formatTime(n.FireAt, a.loc), n.Kind, n.Strength, n.Status, n.Title})
				}
				tw.Render()
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "pending", "pending, delivered or cancelled (empty for all)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	return cmd
}

// --- helpers ---

func formatTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("Mon Jan 2 15:04")
}

func printTable(a *app, items []*core.Responsibility) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Due", "Status", "Energy", "Style"})
	for _, r := range items {
		due := formatTime(r.Schedule.Datetime, a.loc)
		if r.Schedule.Kind == core.KindRecurring {
			due += " ↻"
		}
		tw.AppendRow(table.Row{r.ID, r.Title, due, r.Status, r.EnergyRequired, r.ReminderStyle})
	}
	tw.Render()
}

func printResponsibility(a *app, r *core.Responsibility) {
	fmt.Printf("📋 %s\n", r.Title)
	fmt.Printf("   ID:       %s\n", r.ID)
	fmt.Printf("   Status:   %s\n", r.Status)
	fmt.Printf("   Due:      %s (%s)\n", formatTime(r.Schedule.Datetime, a.loc), r.Schedule.Timezone)
	if r.Schedule.RecurrenceRule != "" {
		fmt.Printf("   Repeats:  %s\n", r.Schedule.RecurrenceRule)
	}
	fmt.Printf("   Energy:   %s\n", r.EnergyRequired)
	fmt.Printf("   Style:    %s\n", r.ReminderStyle)
	if r.Category != "" {
		fmt.Printf("   Category: %s\n", r.Category)
	}
	if r.SnoozedUntil != nil {
		fmt.Printf("   Snoozed:  until %s\n", formatTime(*r.SnoozedUntil, a.loc))
	}
	if r.CompletedAt != nil {
		fmt.Printf("   Done:     %s\n", formatTime(*r.CompletedAt, a.loc))
	}
	if r.Description != "" {
		fmt.Printf("\n   %s\n", r.Description)
	}
	for _, rule := range r.EscalationRules {
		fmt.Printf("   ⏰ %d min before via %s (%s)\n", rule.OffsetMinutes, rule.Channel, rule.Strength)
	}
	if len(r.Checklist) > 0 {
		fmt.Println()
		printChecklist(r)
	}
}

func printChecklist(r *core.Responsibility) {
	for _, item := range r.Checklist {
		mark := "[ ]"
		if item.Done {
			mark = "[x]"
		}
		fmt.Printf("   %s %s  (%s)\n", mark, item.Label, item.ID)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
