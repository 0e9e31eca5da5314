// Package commands provides the CLI command implementations for orderstream.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/orderstream/cli/styles"
	"github.com/AshkanYarmoradi/orderstream/cli/ui"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// NewRootCommand creates the root command for the orderstream CLI
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "orderstream",
		Short: "Event-sourced order management",
		Long: ui.SimpleBanner() + `

orderstream records every change to an order as an immutable event and
derives the current state by replaying them.

` + styles.Title.Render("Quick Start:") + `

  ` + styles.Code.Render("orderstream init") + `                       Create orderstream.yaml
  ` + styles.Code.Render("orderstream migrate") + `                    Create the event and projection tables
  ` + styles.Code.Render("orderstream order create ord-1 ...") + `    Place an order
  ` + styles.Code.Render("orderstream events list ord-1") + `          Show an order's history`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				styles.DisableColors()
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (default: search orderstream.yaml upward)")
	rootCmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&opts.traceStdout, "trace", false, "Print OpenTelemetry spans to stderr")
	rootCmd.PersistentFlags().BoolVar(&opts.showMetrics, "metrics", false, "Print collected metrics after the command")

	rootCmd.AddCommand(NewInitCommand())
	rootCmd.AddCommand(NewMigrateCommand(opts))
	rootCmd.AddCommand(NewOrderCommand(opts))
	rootCmd.AddCommand(NewEventsCommand(opts))
	rootCmd.AddCommand(NewReplayCommand(opts))
	rootCmd.AddCommand(NewProjectionCommand(opts))
	rootCmd.AddCommand(NewPurgeCommand(opts))
	rootCmd.AddCommand(NewVersionCommand(Version, Commit, BuildDate))

	return rootCmd
}

// withApp opens the application for the duration of fn.
func withApp(cmd *cobra.Command, opts *globalOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := openApp(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	runErr := fn(ctx, a)

	if opts.showMetrics {
		fmt.Fprintln(cmd.OutOrStdout())
		fmt.Fprintln(cmd.OutOrStdout(), styles.Title.Render("Metrics"))
		if err := writeMetrics(cmd.OutOrStdout(), a.registry); err != nil && runErr == nil {
			runErr = err
		}
	}

	if err := a.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styles.FormatError(err.Error()))
		return err
	}

	return nil
}
