// Package loop drives the iteration loop: prompt assembly, agent
// invocation, backoff on rate limits, and control-file handling.
package loop

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tpott/diy-ralph/internal/backoff"
	"github.com/tpott/diy-ralph/internal/config"
	"github.com/tpott/diy-ralph/internal/control"
	"github.com/tpott/diy-ralph/internal/db"
	"github.com/tpott/diy-ralph/internal/events"
	"github.com/tpott/diy-ralph/internal/logging"
	"github.com/tpott/diy-ralph/internal/models"
	"github.com/tpott/diy-ralph/internal/runner"
)

const defaultOutputTailLines = 40

// InvokeFunc launches one agent invocation. Injected so tests can drive the
// controller without spawning real processes.
type InvokeFunc func(ctx context.Context, inv runner.Invocation, prompt string, log io.Writer) (models.RunResult, error)

// Summary is what a finished run looks like from the outside.
type Summary struct {
	RunID      string
	Iterations int
	Stopped    bool
	LogPath    string
}

// Controller owns one run of the loop.
type Controller struct {
	Iterations *db.IterationRepository
	Config     *config.Config
	Logger     zerolog.Logger
	Watcher    *control.Watcher
	Scheduler  backoff.Scheduler
	Invoke     InvokeFunc
	OnEvent    func(events.Event)
	Now        func() time.Time

	// RunID pins the run identifier; empty generates one.
	RunID string

	// tuningMu guards the knobs ApplyTuning may swap mid-run.
	tuningMu sync.RWMutex
	poll     time.Duration
}

// SchedulerFromConfig builds a backoff scheduler from the config knobs,
// falling back to the documented defaults for unset values.
func SchedulerFromConfig(cfg *config.Config) backoff.Scheduler {
	sched := backoff.NewScheduler()
	if cfg.Backoff.SafetyMarginSeconds > 0 {
		sched.SafetyMargin = time.Duration(cfg.Backoff.SafetyMarginSeconds) * time.Second
	}
	if cfg.Backoff.DefaultWaitMinutes > 0 {
		sched.DefaultWait = time.Duration(cfg.Backoff.DefaultWaitMinutes) * time.Minute
	}
	if cfg.Backoff.ServerErrorInitialSeconds > 0 {
		sched.ServerErrorInitial = time.Duration(cfg.Backoff.ServerErrorInitialSeconds) * time.Second
	}
	if cfg.Backoff.ServerErrorMaxSeconds > 0 {
		sched.ServerErrorMax = time.Duration(cfg.Backoff.ServerErrorMaxSeconds) * time.Second
	}
	if cfg.Backoff.ServerErrorBudgetHours > 0 {
		sched.ServerErrorBudget = time.Duration(cfg.Backoff.ServerErrorBudgetHours) * time.Hour
	}
	return sched
}

// NewController wires a Controller from live dependencies.
func NewController(database *db.DB, cfg *config.Config) *Controller {
	ctrl := &Controller{
		Iterations: db.NewIterationRepository(database),
		Config:     cfg,
		Logger:     logging.Component("loop"),
		Watcher:    control.NewWatcher(control.OSFS(), cfg.Loop.StopPath, cfg.Loop.FeedbackPath),
		Scheduler:  SchedulerFromConfig(cfg),
		Now:        time.Now,
	}

	run := runner.New()
	run.RateLimitPattern = cfg.Agent.RateLimitPattern
	ctrl.Invoke = func(ctx context.Context, inv runner.Invocation, prompt string, log io.Writer) (models.RunResult, error) {
		run.OnEvent = ctrl.OnEvent
		return run.Run(ctx, inv, prompt, log)
	}

	return ctrl
}

// ApplyTuning adopts the backoff and polling knobs from a reloaded
// configuration. Budget, paths, and the agent command stay fixed for the
// lifetime of a run.
func (c *Controller) ApplyTuning(cfg *config.Config) {
	c.tuningMu.Lock()
	defer c.tuningMu.Unlock()
	c.Scheduler = SchedulerFromConfig(cfg)
	c.poll = cfg.StopPollInterval()
	c.Logger.Info().
		Dur("safety_margin", c.Scheduler.SafetyMargin).
		Dur("stop_poll", c.poll).
		Msg("applied reloaded tuning")
}

func (c *Controller) scheduler() backoff.Scheduler {
	c.tuningMu.RLock()
	defer c.tuningMu.RUnlock()
	return c.Scheduler
}

func (c *Controller) pollInterval() time.Duration {
	c.tuningMu.RLock()
	defer c.tuningMu.RUnlock()
	if c.poll > 0 {
		return c.poll
	}
	return c.Config.StopPollInterval()
}

func (c *Controller) invocation() runner.Invocation {
	return runner.Invocation{
		CommandTemplate: c.Config.Agent.CommandTemplate,
		ExtraArgs:       c.Config.Agent.ExtraArgs,
		Dir:             c.Config.Loop.RepoPath,
		Env:             c.Config.Agent.Env,
	}
}

// Run executes up to MaxIterations agent invocations and returns a summary.
// A budget of 0 runs unbounded until a stop request or a fatal error. When
// RunID names an existing run, numbering resumes after its last recorded
// iteration. Stop requests end the run cleanly with a nil error; an error
// return means the loop itself could not keep going (missing prompt,
// repeated launch failures, exhausted server-error budget).
func (c *Controller) Run(ctx context.Context) (Summary, error) {
	if c.Now == nil {
		c.Now = time.Now
	}

	runID := c.RunID
	if runID == "" {
		runID = NewRunID()
	}
	maxIterations := c.Config.Loop.MaxIterations

	start, err := c.Iterations.NextNumber(ctx, runID)
	if err != nil {
		return Summary{RunID: runID}, fmt.Errorf("derive starting iteration: %w", err)
	}

	if err := os.MkdirAll(c.Config.Global.LogDir, 0o755); err != nil {
		return Summary{RunID: runID}, fmt.Errorf("create log directory: %w", err)
	}
	logPath := LogPath(c.Config.Global.LogDir, runID)
	runLog, err := newRunLogger(logPath)
	if err != nil {
		return Summary{RunID: runID}, fmt.Errorf("open run log: %w", err)
	}
	defer runLog.Close()

	summary := Summary{RunID: runID, LogPath: logPath}
	c.Logger.Info().
		Str("run_id", runID).
		Int("max_iterations", maxIterations).
		Int("start_number", start).
		Str("log_path", logPath).
		Msg("starting loop")

	consecutiveLaunchFailures := 0

	lastNumber := 0
	if maxIterations > 0 {
		lastNumber = start + maxIterations - 1
	}

	for number := start; maxIterations == 0 || number <= lastNumber; number++ {
		if c.Watcher.StopRequested() {
			runLog.WriteLine(fmt.Sprintf("stop requested before iteration %d, exiting", number))
			c.Logger.Info().Str("stop_file", c.Watcher.StopPath()).Msg("stop marker present, ending run")
			summary.Stopped = true
			return summary, nil
		}

		c.fetchFeedback(ctx, runLog)

		signal, err := c.Watcher.Check()
		if err != nil {
			return summary, fmt.Errorf("check control files: %w", err)
		}
		if signal.Kind == models.ControlStop {
			summary.Stopped = true
			return summary, nil
		}

		prompt, err := c.buildPrompt(signal)
		if err != nil {
			return summary, err
		}
		hasFeedback := signal.Kind == models.ControlFeedback

		var headBefore string
		if hasFeedback {
			headBefore = gitHead(c.Config.Loop.RepoPath)
			runLog.WriteLine(fmt.Sprintf("feedback present (%d bytes), prepending to prompt", len(signal.Feedback)))
		}

		record := &models.Iteration{
			RunID:   runID,
			Number:  number,
			LogPath: logPath,
			Outcome: models.IterationRunning,
		}
		if err := c.Iterations.Create(ctx, record); err != nil {
			return summary, fmt.Errorf("record iteration %d: %w", number, err)
		}

		stamp := c.Now().UTC().Format(time.RFC3339)
		if lastNumber > 0 {
			runLog.WriteHeader(fmt.Sprintf("=== Iteration %d/%d === %s", number, lastNumber, stamp))
		} else {
			runLog.WriteHeader(fmt.Sprintf("=== Iteration %d === %s", number, stamp))
		}

		result, tail, stopped, runErr := c.runIteration(ctx, record, prompt, runLog)
		if runErr != nil {
			record.Outcome = models.IterationFailed
			record.LastError = runErr.Error()
			_ = c.Iterations.Finish(ctx, record)
			return summary, runErr
		}
		if stopped {
			record.Outcome = models.IterationStopped
			_ = c.Iterations.Finish(ctx, record)
			summary.Iterations = number - start + 1
			summary.Stopped = true
			runLog.WriteLine("stop requested during backoff, exiting")
			return summary, nil
		}

		summary.Iterations = number - start + 1
		exitCode := result.ExitCode
		record.ExitCode = &exitCode
		record.SessionID = result.SessionID
		record.ResultText = result.ResultText

		switch {
		case result.LaunchFailure:
			consecutiveLaunchFailures++
			record.Outcome = models.IterationFailed
			record.LastError = result.FailureReason
			runLog.WriteLine("launch failure: " + result.FailureReason)
			c.Logger.Error().
				Int("iteration", number).
				Int("consecutive", consecutiveLaunchFailures).
				Str("reason", result.FailureReason).
				Msg("agent could not be launched")
			if err := c.Iterations.Finish(ctx, record); err != nil {
				return summary, err
			}
			if consecutiveLaunchFailures >= c.Config.Loop.MaxLaunchFailures {
				return summary, fmt.Errorf("agent failed to launch %d times in a row: %s",
					consecutiveLaunchFailures, result.FailureReason)
			}

		case result.Status == models.RunCompleted:
			consecutiveLaunchFailures = 0
			record.Outcome = models.IterationCompleted
			if err := c.Iterations.Finish(ctx, record); err != nil {
				return summary, err
			}
			if hasFeedback {
				if err := c.Watcher.ConsumeFeedback(); err != nil {
					c.Logger.Warn().Err(err).Msg("could not remove feedback file; it will be re-delivered")
				} else {
					c.auditFeedback(runID, number, signal.Feedback, headBefore)
				}
			}
			c.appendLedger(record, tail, runLog)

		default:
			consecutiveLaunchFailures = 0
			record.Outcome = models.IterationFailed
			record.LastError = result.FailureReason
			runLog.WriteLine(fmt.Sprintf("iteration failed (exit %d): %s", result.ExitCode, result.FailureReason))
			if err := c.Iterations.Finish(ctx, record); err != nil {
				return summary, err
			}
			c.appendLedger(record, tail, runLog)
		}

		if err := ctx.Err(); err != nil {
			return summary, err
		}
	}

	runLog.WriteLine(fmt.Sprintf("Completed %d iterations", summary.Iterations))
	c.Logger.Info().Int("iterations", summary.Iterations).Msg("loop budget exhausted")
	return summary, nil
}

// runIteration drives one iteration slot to a settled outcome, retrying
// in place on rate limits and transient server errors. Retries reuse the
// same iteration number so the budget only counts real attempts at work.
func (c *Controller) runIteration(ctx context.Context, record *models.Iteration, prompt string, runLog *runLogger) (models.RunResult, string, bool, error) {
	serverErrorAttempt := 0
	var serverErrorSince time.Time
	tail := newTailWriter(defaultOutputTailLines)

	for {
		result, err := c.Invoke(ctx, c.invocation(), prompt, io.MultiWriter(runLog, tail))
		if err != nil {
			return result, tail.String(), false, fmt.Errorf("iteration %d: %w", record.Number, err)
		}

		switch {
		case result.Status == models.RunRateLimited:
			var resetAt time.Time
			if result.RateLimit != nil {
				resetAt = result.RateLimit.ResetAt
			}
			plan := c.scheduler().PlanReset(resetAt, c.Now())
			runLog.WriteLine(plan.Reason)
			c.Logger.Warn().
				Int("iteration", record.Number).
				Dur("wait", plan.Wait).
				Msg("rate limited, backing off")

			if stopped := backoff.Sleep(ctx, plan.Wait, c.pollInterval(), c.Watcher.StopRequested); stopped {
				return result, tail.String(), true, nil
			}
			if err := ctx.Err(); err != nil {
				return result, tail.String(), false, err
			}
			if err := c.Iterations.RecordAttempt(ctx, record.ID); err != nil {
				return result, tail.String(), false, err
			}
			record.Attempts++
			runLog.WriteHeader(fmt.Sprintf("=== Iteration %d (retry %d) === %s",
				record.Number, record.Attempts, c.Now().UTC().Format(time.RFC3339)))

		case result.ServerError:
			if serverErrorSince.IsZero() {
				serverErrorSince = c.Now()
			}
			if c.Now().Sub(serverErrorSince) > c.scheduler().ServerErrorBudget {
				return result, tail.String(), false, fmt.Errorf("iteration %d: API server errors persisted beyond %s",
					record.Number, c.scheduler().ServerErrorBudget)
			}
			plan := c.scheduler().PlanServerError(serverErrorAttempt)
			serverErrorAttempt++
			runLog.WriteLine(plan.Reason)
			c.Logger.Warn().
				Int("iteration", record.Number).
				Int("attempt", serverErrorAttempt).
				Dur("wait", plan.Wait).
				Msg("transient API error, backing off")

			if stopped := backoff.Sleep(ctx, plan.Wait, c.pollInterval(), c.Watcher.StopRequested); stopped {
				return result, tail.String(), true, nil
			}
			if err := ctx.Err(); err != nil {
				return result, tail.String(), false, err
			}
			if err := c.Iterations.RecordAttempt(ctx, record.ID); err != nil {
				return result, tail.String(), false, err
			}
			record.Attempts++
			runLog.WriteHeader(fmt.Sprintf("=== Iteration %d (retry %d) === %s",
				record.Number, record.Attempts, c.Now().UTC().Format(time.RFC3339)))

		default:
			return result, tail.String(), false, nil
		}
	}
}

// buildPrompt reads the prompt file and prepends any pending feedback.
// A missing prompt file is fatal: the loop has nothing to do without it.
func (c *Controller) buildPrompt(signal models.ControlSignal) (string, error) {
	data, err := os.ReadFile(c.Config.Loop.PromptPath)
	if err != nil {
		return "", fmt.Errorf("read prompt file %s: %w", c.Config.Loop.PromptPath, err)
	}
	prompt := string(data)

	if signal.Kind == models.ControlFeedback {
		prompt = "# Operator Feedback\n\nAddress the following feedback before continuing with the main task:\n\n" +
			signal.Feedback + "\n\n---\n\n" + prompt
	}
	return prompt, nil
}

func (c *Controller) appendLedger(record *models.Iteration, outputTail string, runLog *runLogger) {
	path := LedgerPath(c.Config.Loop.RepoPath, record.RunID)
	if err := ensureLedger(path, record.RunID, c.Config.Loop.RepoPath); err != nil {
		c.Logger.Warn().Err(err).Msg("could not create ledger file")
		return
	}
	if err := appendLedgerEntry(path, c.Config.Loop.RepoPath, record, outputTail); err != nil {
		c.Logger.Warn().Err(err).Msg("could not append ledger entry")
	} else {
		runLog.WriteLine("ledger entry appended: " + path)
	}
}

func (c *Controller) auditFeedback(runID string, iteration int, feedback, headBefore string) {
	headAfter := gitHead(c.Config.Loop.RepoPath)
	path := FeedbackLogPath(c.Config.Global.LogDir, runID)
	if err := appendFeedbackAudit(path, iteration, feedback, headBefore, headAfter); err != nil {
		c.Logger.Warn().Err(err).Msg("could not write feedback audit entry")
	}
}

// fetchFeedback runs the optional feedback-fetching script before each
// iteration. Failures are logged and ignored; a broken fetcher must never
// stall the loop.
func (c *Controller) fetchFeedback(ctx context.Context, runLog *runLogger) {
	script := c.Config.Loop.FetchFeedbackScript
	if script == "" {
		return
	}
	timeout := time.Duration(c.Config.Loop.FetchFeedbackTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	if err := runFetchScript(ctx, script, c.Config.Loop.RepoPath, timeout); err != nil {
		runLog.WriteLine("feedback fetch script failed: " + err.Error())
		c.Logger.Warn().Err(err).Str("script", script).Msg("feedback fetch script failed")
	}
}

func ensureParentDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
