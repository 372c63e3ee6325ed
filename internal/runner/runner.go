// Package runner launches the external agent process and classifies its
// outcome. One Run call is one process lifetime.
package runner

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"time"

	"context"

	"github.com/rs/zerolog"

	"github.com/tpott/diy-ralph/internal/events"
	"github.com/tpott/diy-ralph/internal/logging"
	"github.com/tpott/diy-ralph/internal/models"
)

const maxLineBytes = 1 << 20

// Runner executes agent invocations.
type Runner struct {
	Logger zerolog.Logger

	// RateLimitPattern overrides the marker grammar. Empty uses the default.
	RateLimitPattern string

	// Now is the clock used to resolve reset times. Defaults to time.Now.
	Now func() time.Time

	// OnEvent, when set, observes every parsed event as it arrives.
	OnEvent func(events.Event)
}

// New creates a Runner with default dependencies.
func New() *Runner {
	return &Runner{
		Logger: logging.Component("runner"),
		Now:    time.Now,
	}
}

// Run launches one agent process, feeds it the prompt on stdin, and streams
// its record-per-line output. Every raw line is mirrored to log before it is
// parsed, so a crash mid-iteration still leaves a partial, inspectable log.
//
// Agent-side failures never surface as errors; they come back classified in
// the RunResult. The error return is reserved for the runner's own inability
// to operate (log writes failing).
func (r *Runner) Run(ctx context.Context, inv Invocation, prompt string, log io.Writer) (models.RunResult, error) {
	if r.Now == nil {
		r.Now = time.Now
	}

	start := r.Now()

	cmd, err := inv.Command(ctx, prompt)
	if err != nil {
		return launchFailure(err, r.Now().Sub(start)), nil
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return launchFailure(err, r.Now().Sub(start)), nil
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return launchFailure(err, r.Now().Sub(start)), nil
	}

	result, readErr := r.consume(stdout, log)

	waitErr := cmd.Wait()
	result.ExitCode = exitCodeFromError(waitErr)
	result.Elapsed = r.Now().Sub(start)

	if readErr != nil {
		return result, fmt.Errorf("read agent output: %w", readErr)
	}

	if stderr.Len() > 0 {
		if _, err := io.WriteString(log, "--- STDERR ---\n"+stderr.String()+"\n"); err != nil {
			return result, fmt.Errorf("write stderr to log: %w", err)
		}
	}

	r.classify(&result)
	return result, nil
}

// consume reads line-delimited records until the stream closes, mirroring
// each raw line to the log and folding parsed events into the result.
func (r *Runner) consume(stream io.Reader, log io.Writer) (models.RunResult, error) {
	result := models.RunResult{ExitCode: -1}

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Text()
		if _, err := io.WriteString(log, line+"\n"); err != nil {
			return result, err
		}

		evts, err := events.ParseLine(line)
		if err != nil {
			continue
		}
		for _, evt := range evts {
			result.EventCount++
			if r.OnEvent != nil {
				r.OnEvent(evt)
			}
			if evt.SessionID != "" && result.SessionID == "" {
				result.SessionID = evt.SessionID
			}
			if evt.Kind == events.KindResult {
				result.ResultText = evt.ResultText
				if evt.IsError {
					result.Status = models.RunFailed
				}
			}
		}
	}

	return result, scanner.Err()
}

// classify settles the final status from the result event and exit code.
// A rate-limit marker wins over everything else; the wait decision itself
// belongs to the backoff scheduler, not here.
func (r *Runner) classify(result *models.RunResult) {
	if result.Status == models.RunFailed && result.ResultText != "" {
		if reset, ok := events.ParseRateLimitReset(result.ResultText, r.RateLimitPattern); ok {
			notice := &models.RateLimitNotice{Raw: result.ResultText}
			if at, err := reset.ResetTime(r.Now()); err == nil {
				notice.ResetAt = at
			} else {
				r.Logger.Warn().Err(err).Msg("rate limit marker named an unusable reset time")
			}
			result.Status = models.RunRateLimited
			result.RateLimit = notice
			return
		}
		if events.IsServerError(result.ResultText) {
			result.ServerError = true
			result.FailureReason = result.ResultText
			return
		}
		result.FailureReason = result.ResultText
		return
	}

	if result.ExitCode == 0 {
		result.Status = models.RunCompleted
		return
	}

	result.Status = models.RunFailed
	// The template runs through a shell, so a missing or non-executable
	// agent binary surfaces as exit 127/126 rather than a Start error.
	if (result.ExitCode == 127 || result.ExitCode == 126) && result.EventCount == 0 {
		result.LaunchFailure = true
		result.FailureReason = fmt.Sprintf("agent command could not be launched (exit %d)", result.ExitCode)
		return
	}
	if result.FailureReason == "" {
		result.FailureReason = fmt.Sprintf("agent exited with code %d", result.ExitCode)
	}
}

func launchFailure(err error, elapsed time.Duration) models.RunResult {
	return models.RunResult{
		Status:        models.RunFailed,
		ExitCode:      -1,
		LaunchFailure: true,
		FailureReason: err.Error(),
		Elapsed:       elapsed,
	}
}

func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}
