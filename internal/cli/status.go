package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running daemon's observer status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	var status map[string]any
	if err := getJSON("/api/status", &status); err != nil {
		return err
	}
	return printJSON(status)
}
