package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tpott/diy-ralph/internal/config"
	"github.com/tpott/diy-ralph/internal/db"
	"github.com/tpott/diy-ralph/internal/events"
	"github.com/tpott/diy-ralph/internal/loop"
)

var (
	runMaxIterations int
	runResumeID      string
	runPromptPath    string
	runLogDir        string
	runRepoPath      string
	runFetchScript   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent loop until the iteration budget is spent",
	Long: `Run starts the loop: each iteration feeds the prompt file to the agent
CLI, streams its output to a per-run log, and records the outcome.

The loop exits cleanly when the budget is spent or a STOP_RALPH file
appears. It exits with an error when the prompt file is missing, the
agent repeatedly fails to launch, or API errors persist past the retry
budget.`,
	RunE: runLoop,
}

func init() {
	runCmd.Flags().IntVarP(&runMaxIterations, "max-iterations", "n", 0, "iteration budget, 0 for unbounded (default from config)")
	runCmd.Flags().StringVar(&runResumeID, "resume", "", "resume an existing run ID, numbering after its last iteration")
	runCmd.Flags().StringVar(&runPromptPath, "prompt", "", "prompt file path (default RALPH.md)")
	runCmd.Flags().StringVar(&runLogDir, "log-dir", "", "directory for run logs")
	runCmd.Flags().StringVar(&runRepoPath, "repo", "", "repository the agent works in (default current directory)")
	runCmd.Flags().StringVar(&runFetchScript, "fetch-feedback-script", "", "script run before each iteration to fetch feedback")
	rootCmd.AddCommand(runCmd)
}

func runLoop(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	if cmd.Flags().Changed("max-iterations") {
		cfg.Loop.MaxIterations = runMaxIterations
	}
	if runPromptPath != "" {
		cfg.Loop.PromptPath = runPromptPath
	}
	if runLogDir != "" {
		cfg.Global.LogDir = runLogDir
	}
	if runRepoPath != "" {
		cfg.Loop.RepoPath = runRepoPath
	}
	if runFetchScript != "" {
		cfg.Loop.FetchFeedbackScript = runFetchScript
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(db.Config{
		Path:          cfg.Database.Path,
		MaxOpenConns:  cfg.Database.MaxConnections,
		BusyTimeoutMs: cfg.Database.BusyTimeoutMs,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	controller := loop.NewController(database, cfg)
	controller.RunID = runResumeID
	if !verbose {
		controller.OnEvent = newProgressPrinter(os.Stdout).observe
	}

	// With a config file in play, pick up backoff/poll tuning edits mid-run.
	if cfgUsed := configLoader.ConfigFileUsed(); cfgUsed != "" {
		watcher, err := config.NewWatcher(config.NewLoader(), cfgUsed)
		if err == nil && watcher.Start(ctx) == nil {
			defer watcher.Stop()
			go func() {
				for event := range watcher.Events() {
					if event.Error != nil {
						logger.Warn().Err(event.Error).Msg("config reload failed")
						continue
					}
					controller.ApplyTuning(event.Config)
				}
			}()
		}
	}

	summary, err := controller.Run(ctx)
	fmt.Println()
	if err != nil {
		return err
	}

	if summary.Stopped {
		fmt.Printf("%s after %d iterations (run %s)\n",
			colorize("Stopped", colorYellow), summary.Iterations, summary.RunID)
	} else {
		fmt.Printf("%s %d iterations (run %s)\n",
			colorize("Completed", colorGreen), summary.Iterations, summary.RunID)
	}
	fmt.Printf("Log: %s\n", summary.LogPath)
	return nil
}

// progressPrinter renders non-verbose progress: the session ID once per
// session, then a dot per streamed event.
type progressPrinter struct {
	out  *os.File
	dots int
}

func newProgressPrinter(out *os.File) *progressPrinter {
	return &progressPrinter{out: out}
}

func (p *progressPrinter) observe(evt events.Event) {
	switch evt.Kind {
	case events.KindSystemInit:
		if p.dots > 0 {
			fmt.Fprintln(p.out)
			p.dots = 0
		}
		fmt.Fprintf(p.out, "session %s\n", evt.SessionID)
	case events.KindResult:
		if p.dots > 0 {
			fmt.Fprintln(p.out)
			p.dots = 0
		}
	default:
		fmt.Fprint(p.out, ".")
		p.dots++
	}
}
