package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sentinel-ci/sentinel/internal/daemon"
	"github.com/sentinel-ci/sentinel/internal/domain"
	"github.com/sentinel-ci/sentinel/internal/infra/sqlite"
)

func init() {
	signalsCmd.Flags().StringVar(&signalType, "type", "", "Filter by signal type (new_test, removed_test, behavior_change, flaky)")
	signalsCmd.Flags().StringVar(&signalTestID, "test", "", "Filter by test ID")
	signalsCmd.Flags().BoolVar(&signalUnacked, "unacked", false, "Only unacknowledged signals")
	signalsCmd.Flags().IntVar(&signalLimit, "limit", 50, "Maximum signals to show")
	ackCmd.Flags().StringVar(&ackBy, "by", "", "Who is acknowledging")
	driftCmd.AddCommand(signalsCmd)
	driftCmd.AddCommand(ackCmd)
	rootCmd.AddCommand(driftCmd)
}

var (
	signalType    string
	signalTestID  string
	signalUnacked bool
	signalLimit   int
	ackBy         string
)

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Inspect and acknowledge drift signals",
}

var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "List detected drift signals, newest first",
	RunE:  runSignals,
}

func runSignals(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	signals, err := d.DB.ListSignals(sqlite.SignalFilter{
		Type:    domain.SignalType(signalType),
		TestID:  signalTestID,
		Unacked: signalUnacked,
		Limit:   signalLimit,
	})
	if err != nil {
		return err
	}
	if len(signals) == 0 {
		fmt.Println("No drift signals.")
		return nil
	}

	w := newTabWriter()
	fmt.Fprintln(w, "ID\tTYPE\tSEVERITY\tTEST\tDETECTED\tACK\tDESCRIPTION")
	for _, s := range signals {
		ack := ""
		if s.Acknowledged {
			ack = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.Type, s.Severity, s.TestID,
			s.DetectedAt.Format("2006-01-02 15:04"), ack, s.Description)
	}
	return w.Flush()
}

var ackCmd = &cobra.Command{
	Use:   "ack <signal-id>",
	Short: "Acknowledge a drift signal",
	Args:  cobra.ExactArgs(1),
	RunE:  runAck,
}

func runAck(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.DB.AcknowledgeSignal(args[0], ackBy, time.Now()); err != nil {
		return err
	}
	fmt.Printf("Acknowledged %s.\n", args[0])
	return nil
}
