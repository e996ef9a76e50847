package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sentinel-ci/sentinel/internal/domain"
)

func init() {
	emitCmd.Flags().StringVar(&emitType, "type", "", "Event type (test_start, test_end, step, api_call, ui_interaction, assertion, error)")
	emitCmd.Flags().StringVar(&emitTestID, "test", "", "Test ID")
	emitCmd.Flags().StringVar(&emitStatus, "status", "", "Test status for test_end (passed, failed, skipped)")
	emitCmd.Flags().Float64Var(&emitDuration, "duration", 0, "Duration in milliseconds for test_end")
	emitCmd.Flags().StringArrayVar(&emitMeta, "meta", nil, "Metadata as key=value (repeatable)")
	emitCmd.Flags().StringVar(&emitFile, "file", "", "Read a JSON event from a file ('-' for stdin) instead of flags")
	rootCmd.AddCommand(emitCmd)
}

var (
	emitType     string
	emitTestID   string
	emitStatus   string
	emitDuration float64
	emitMeta     []string
	emitFile     string
)

var emitCmd = &cobra.Command{
	Use:   "emit",
	Short: "Send a test execution event to the running daemon",
	Long: `Send one event to the daemon's ingestion endpoint. Useful for
shell-driven test harnesses and for smoke-testing the pipeline.`,
	RunE: runEmit,
}

func runEmit(cmd *cobra.Command, args []string) error {
	var e domain.Event
	if emitFile != "" {
		data, err := readEventFile(emitFile)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("parse event: %w", err)
		}
	} else {
		if emitType == "" || emitTestID == "" {
			return fmt.Errorf("--type and --test are required (or use --file)")
		}
		e = domain.Event{
			Type:       domain.EventType(emitType),
			TestID:     emitTestID,
			Status:     emitStatus,
			DurationMS: emitDuration,
		}
		for _, kv := range emitMeta {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("bad --meta %q, want key=value", kv)
			}
			if e.Metadata == nil {
				e.Metadata = make(map[string]string)
			}
			e.Metadata[k] = v
		}
	}

	if err := postJSON("/api/events", e); err != nil {
		return err
	}
	fmt.Println("Event accepted.")
	return nil
}

func readEventFile(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
