package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/quantumlife/responsibility/internal/calendar"
	"github.com/quantumlife/responsibility/internal/config"
	"github.com/quantumlife/responsibility/internal/core"
)

// calendarCmd manages the Google Calendar connection
func calendarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Connect Google Calendar",
	}
	cmd.AddCommand(calendarConnectCmd())
	cmd.AddCommand(calendarStatusCmd())
	return cmd
}

func calendarConnectCmd() *cobra.Command {
	var mirror bool

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Authorize access to your calendar",
		Long: `Runs the Google OAuth flow in your browser and stores the token in the
data directory. Busy times then keep slot suggestions clear of your
meetings; with --mirror every responsibility also gets a calendar event.

The client secret is never written to the config file. Export it as
GOOGLE_CLIENT_SECRET (or RESP_CALENDAR__CLIENT_SECRET) for later runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfig(cmd)
			if err != nil {
				return err
			}

			reader := bufio.NewReader(os.Stdin)
			if cfg.Calendar.ClientID == "" {
				fmt.Print("OAuth client ID: ")
				id, _ := reader.ReadString('\n')
				cfg.Calendar.ClientID = strings.TrimSpace(id)
			}
			if cfg.Calendar.ClientSecret == "" {
				fmt.Print("OAuth client secret: ")
				secret, err := term.ReadPassword(int(os.Stdin.Fd()))
				if err != nil {
					return fmt.Errorf("failed to read client secret: %w", err)
				}
				fmt.Println()
				cfg.Calendar.ClientSecret = strings.TrimSpace(string(secret))
			}

			oauthCfg := calendar.NewOAuthConfig(cfg.Calendar.ClientID, cfg.Calendar.ClientSecret)
			if !oauthCfg.Configured() {
				return fmt.Errorf("%w: client id and secret", core.ErrMissingRequired)
			}

			token, err := calendar.NewOAuthClient(oauthCfg).Authorize(cmd.Context(), func(url string) {
				fmt.Println("🔗 Open this URL in your browser:")
				fmt.Printf("\n   %s\n\n", url)
				fmt.Println("Waiting for authorization...")
			})
			if err != nil {
				return err
			}
			if err := calendar.SaveToken(cfg.Calendar.TokenFile, token); err != nil {
				return err
			}

			cfg.Calendar.Enabled = true
			if cmd.Flags().Changed("mirror") {
				cfg.Calendar.MirrorEvents = mirror
			}
			if err := cfg.Save(resolvedConfigPath()); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}

			fmt.Println("✅ Calendar connected!")
			fmt.Printf("   Token: %s\n", cfg.Calendar.TokenFile)
			if os.Getenv("GOOGLE_CLIENT_SECRET") == "" && os.Getenv(config.EnvPrefix+"CALENDAR__CLIENT_SECRET") == "" {
				fmt.Println("\n⚠️  Set GOOGLE_CLIENT_SECRET before the next run.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&mirror, "mirror", false, "create a calendar event per responsibility")
	return cmd
}

func calendarStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the calendar connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfig(cmd)
			if err != nil {
				return err
			}
			if !cfg.Calendar.Enabled {
				fmt.Println("Calendar: not connected")
				fmt.Println("\nUse 'resp calendar connect' to connect.")
				return nil
			}

			token, err := calendar.LoadToken(cfg.Calendar.TokenFile)
			switch {
			case errors.Is(err, core.ErrNotConfigured):
				fmt.Println("Calendar: enabled, but no token")
			case err != nil:
				return err
			case !token.Valid() && token.RefreshToken == "":
				fmt.Println("Calendar: token expired")
			default:
				fmt.Println("Calendar: connected")
			}
			fmt.Printf("   Calendar ID:   %s\n", cfg.Calendar.CalendarID)
			fmt.Printf("   Mirror events: %v\n", cfg.Calendar.MirrorEvents)
			return nil
		},
	}
}
