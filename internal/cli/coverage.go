package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sentinel-ci/sentinel/internal/daemon"
	"github.com/sentinel-ci/sentinel/internal/domain"
)

func init() {
	impactedCmd.Flags().StringVar(&impactedType, "type", "api", "Resource type (api, page, ui_component, feature)")
	coverageCmd.AddCommand(coverageTestCmd)
	coverageCmd.AddCommand(coverageTestsCmd)
	coverageCmd.AddCommand(impactedCmd)
	coverageCmd.AddCommand(coverageStatsCmd)
	rootCmd.AddCommand(coverageCmd)
}

var impactedType string

var coverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "Inspect the behavioral coverage graph",
}

var coverageTestCmd = &cobra.Command{
	Use:   "test <test-id>",
	Short: "Show everything a test touches",
	Args:  cobra.ExactArgs(1),
	RunE:  runCoverageTest,
}

func runCoverageTest(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	cov, err := d.Coverage.GetTestCoverage(args[0])
	if err != nil {
		return err
	}
	if len(cov.Edges) == 0 {
		fmt.Printf("No coverage recorded for test %q.\n", args[0])
		return nil
	}

	w := newTabWriter()
	fmt.Fprintln(w, "RESOURCE\tRELATION\tOBSERVATIONS\tLAST SEEN")
	for _, e := range cov.Edges {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			e.ToNode, e.EdgeType, e.Weight, e.LastSeen.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

var coverageTestsCmd = &cobra.Command{
	Use:   "tests",
	Short: "List every observed test ID",
	RunE:  runCoverageTests,
}

func runCoverageTests(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	ids, err := d.DB.DistinctTestIDs()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No tests observed yet.")
		return nil
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

var impactedCmd = &cobra.Command{
	Use:   "impacted <resource-id>",
	Short: "List tests that exercise a resource",
	Long:  `List the tests to re-run when a resource changes, e.g. an API endpoint.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runImpacted,
}

func runImpacted(cmd *cobra.Command, args []string) error {
	nt := domain.NodeType(impactedType)
	if !nt.Valid() {
		return fmt.Errorf("unknown resource type %q", impactedType)
	}

	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	tests, err := d.Coverage.GetImpactedTests(args[0], nt)
	if err != nil {
		return err
	}
	if len(tests) == 0 {
		fmt.Printf("No tests exercise %s %q.\n", impactedType, args[0])
		return nil
	}
	for _, id := range tests {
		fmt.Println(id)
	}
	return nil
}

var coverageStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show coverage graph totals",
	RunE:  runCoverageStats,
}

func runCoverageStats(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	stats, err := d.Coverage.Stats()
	if err != nil {
		return err
	}
	return printJSON(stats)
}
