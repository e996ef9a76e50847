// Package cli implements the Sentinel command-line interface using Cobra.
// Each subcommand maps to one daemon capability (serve, status, coverage,
// drift, lifecycle, emit).
package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Sentinel — continuous test observability",
	Long: `Sentinel watches your migrated test suite run: it ingests execution
events, maintains a living coverage graph, and raises drift signals when
test behavior changes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	// Optional .env for local development; absence is not an error.
	_ = godotenv.Load()

	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
