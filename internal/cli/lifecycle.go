package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sentinel-ci/sentinel/internal/daemon"
)

func init() {
	lifecycleCmd.AddCommand(lifecycleShowCmd)
	lifecycleCmd.AddCommand(completeMigrationCmd)
	lifecycleCmd.AddCommand(enterOptimizationCmd)
	lifecycleCmd.AddCommand(allowRemigrationCmd)
	lifecycleCmd.AddCommand(reopenMigrationCmd)
	rootCmd.AddCommand(lifecycleCmd)
}

var lifecycleCmd = &cobra.Command{
	Use:   "lifecycle",
	Short: "Inspect and transition project lifecycle state",
}

var lifecycleShowCmd = &cobra.Command{
	Use:   "show [project-id]",
	Short: "Show a project's lifecycle state",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLifecycleShow,
}

func runLifecycleShow(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	st, err := d.Lifecycle.Lookup(projectArg(d, args))
	if err != nil {
		return err
	}
	return printJSON(st)
}

var completeMigrationCmd = &cobra.Command{
	Use:   "complete-migration [project-id]",
	Short: "Transition a project into OBSERVER mode",
	Long: `Mark migration as complete. The transition is one-way unless the
project recorded a re-migration opt-in beforehand.`,
	Args: cobra.MaximumNArgs(1),
	RunE: lifecycleOp(func(d *daemon.Daemon, id string) error {
		return d.Lifecycle.CompleteMigration(id)
	}),
}

var enterOptimizationCmd = &cobra.Command{
	Use:   "enter-optimization [project-id]",
	Short: "Mark an observing project as optimizing",
	Args:  cobra.MaximumNArgs(1),
	RunE: lifecycleOp(func(d *daemon.Daemon, id string) error {
		return d.Lifecycle.EnterOptimization(id)
	}),
}

var allowRemigrationCmd = &cobra.Command{
	Use:   "allow-remigration [project-id]",
	Short: "Permit reopening migration later (only before completion)",
	Args:  cobra.MaximumNArgs(1),
	RunE: lifecycleOp(func(d *daemon.Daemon, id string) error {
		return d.Lifecycle.AllowRemigration(id)
	}),
}

var reopenMigrationCmd = &cobra.Command{
	Use:   "reopen-migration [project-id]",
	Short: "Return an opted-in project to MIGRATION mode",
	Args:  cobra.MaximumNArgs(1),
	RunE: lifecycleOp(func(d *daemon.Daemon, id string) error {
		return d.Lifecycle.ReopenMigration(id)
	}),
}

// lifecycleOp wraps a manager transition into a cobra handler that prints
// the resulting state.
func lifecycleOp(op func(d *daemon.Daemon, id string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		d, err := daemon.New()
		if err != nil {
			return err
		}
		defer d.Close()

		id := projectArg(d, args)
		if err := op(d, id); err != nil {
			return err
		}
		st, err := d.Lifecycle.Lookup(id)
		if err != nil {
			return err
		}
		fmt.Printf("Project %s is now in %s mode.\n", id, st.Mode)
		return nil
	}
}

// projectArg picks the explicit project ID or falls back to the configured one.
func projectArg(d *daemon.Daemon, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return d.Config.Project.ID
}
