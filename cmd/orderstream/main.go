// orderstream is the command-line interface for the event-sourced order system.
//
// Usage:
//
//	orderstream <command> [flags]
//
// Commands:
//
//	init        Create an orderstream.yaml configuration file
//	migrate     Create the event and projection tables
//	order       Run order commands and inspect orders
//	events      Query the event store
//	replay      Fold an order's history without writing anything
//	projection  Inspect and rebuild the read model
//	purge       Delete the history of finished orders
//	version     Show version information
//
// Examples:
//
//	# Create a SQLite-backed configuration
//	orderstream init --non-interactive --driver=sqlite --path=orders.db
//
//	# Place and pay an order
//	orderstream order create ord-1 --customer c1 --item SKU-1:2:9.99 --address "Via Roma 1"
//	orderstream order pay ord-1 --method card --transaction tx-1
//
//	# Show the order's history
//	orderstream events list ord-1
package main

import (
	"os"

	"github.com/AshkanYarmoradi/orderstream/cli/commands"
)

// Build information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.BuildDate = buildDate

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
