// resp - the command-line interface of the responsibility tracker.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quantumlife/responsibility/internal/config"
)

var (
	// Config
	dataDir    string
	configPath string

	// Version
	version = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "resp",
		Short: "Track the things you are responsible for",
		Long: `resp keeps track of your responsibilities: one-time and recurring
commitments with reminders that escalate until you act on them.

It finds free slots in your week for recurring habits, nudges
overlapping commitments apart, and can mirror everything to
Google Calendar.

Your data stays on YOUR device. Always.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", config.DefaultDataDir(), "data directory")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <data-dir>/config.yaml)")

	// Commands
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(completeCmd())
	rootCmd.AddCommand(snoozeCmd())
	rootCmd.AddCommand(rescheduleCmd())
	rootCmd.AddCommand(archiveCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(slotsCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(conflictsCmd())
	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(notificationsCmd())
	rootCmd.AddCommand(calendarCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(mcpCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// versionCmd shows version info
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("resp %s\n", version)
		},
	}
}
