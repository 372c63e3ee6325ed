package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tpott/diy-ralph/internal/db"
	"github.com/tpott/diy-ralph/internal/models"
)

var iterationsCmd = &cobra.Command{
	Use:   "iterations <run-id>",
	Short: "List recorded iterations for a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runIterations,
}

func init() {
	rootCmd.AddCommand(iterationsCmd)
}

func runIterations(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	database, err := db.Open(db.Config{
		Path:          cfg.Database.Path,
		MaxOpenConns:  cfg.Database.MaxConnections,
		BusyTimeoutMs: cfg.Database.BusyTimeoutMs,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(cmd.Context()); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	repo := db.NewIterationRepository(database)
	iterations, err := repo.ListByRun(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(iterations) == 0 {
		return fmt.Errorf("no iterations recorded for run %s", args[0])
	}

	if IsJSONOutput() {
		data, err := json.MarshalIndent(iterations, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NUM\tOUTCOME\tATTEMPTS\tSESSION\tSTARTED\tDURATION")
	for _, it := range iterations {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\n",
			it.Number,
			colorizeOutcome(it.Outcome),
			it.Attempts,
			shortSession(it.SessionID),
			it.StartedAt.Local().Format("2006-01-02 15:04:05"),
			duration(it),
		)
	}
	return w.Flush()
}

func colorizeOutcome(outcome models.IterationOutcome) string {
	switch outcome {
	case models.IterationCompleted:
		return colorize(string(outcome), colorGreen)
	case models.IterationRateLimited:
		return colorize(string(outcome), colorYellow)
	case models.IterationFailed:
		return colorize(string(outcome), colorRed)
	case models.IterationStopped:
		return colorize(string(outcome), colorCyan)
	default:
		return string(outcome)
	}
}

func shortSession(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	if id == "" {
		return "-"
	}
	return id
}

func duration(it *models.Iteration) string {
	if it.FinishedAt == nil {
		return "-"
	}
	return it.FinishedAt.Sub(it.StartedAt).Round(time.Second).String()
}
