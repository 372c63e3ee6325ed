package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tpott/diy-ralph/internal/analyzer"
)

var (
	analyzeLast     int
	analyzeDetailed bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [log-file]",
	Short: "Analyze a run log for token waste and expensive behaviors",
	Long: `Analyze re-parses a persisted run log and reports per-session token and
cost totals, tool call distribution, and detected waste patterns such as
redundant file reads and late test execution.

Without an argument the most recent run log is analyzed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().IntVar(&analyzeLast, "last", 0, "only analyze the last N sessions")
	analyzeCmd.Flags().BoolVar(&analyzeDetailed, "detailed", false, "show per-session tool call sequences")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	logPath := ""
	if len(args) > 0 {
		logPath = args[0]
	} else {
		latest, err := analyzer.LatestLog(cfg.Global.LogDir)
		if err != nil {
			return err
		}
		logPath = latest
	}

	report, err := analyzer.Analyze(logPath)
	if err != nil {
		return err
	}
	if len(report.Sessions) == 0 && report.Iterations == 0 {
		return fmt.Errorf("no iterations found in %s", logPath)
	}
	report.Last(analyzeLast)

	if IsJSONOutput() {
		out, err := report.JSON()
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}

	fmt.Print(report.Text())
	if analyzeDetailed {
		fmt.Println()
		fmt.Print(report.Detailed())
	}
	return nil
}
