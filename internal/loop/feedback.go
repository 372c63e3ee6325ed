package loop

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// runFetchScript executes the operator's feedback-fetching script, bounded
// by timeout so a hung fetcher cannot stall the loop.
func runFetchScript(ctx context.Context, script, dir string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-lc", script)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("timed out after %s", timeout)
		}
		msg := strings.TrimSpace(string(output))
		if msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

// appendFeedbackAudit records one delivered feedback message together with
// the repo HEAD before and after the consuming iteration, so the effect of
// each piece of feedback stays traceable.
func appendFeedbackAudit(path string, iteration int, feedback, headBefore, headAfter string) error {
	if err := ensureParentDir(path); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	entry := strings.Builder{}
	entry.WriteString(fmt.Sprintf("=== Feedback consumed on iteration %d === %s\n",
		iteration, time.Now().UTC().Format(time.RFC3339)))
	if headBefore != "" {
		entry.WriteString("head_before: " + headBefore + "\n")
	}
	if headAfter != "" {
		entry.WriteString("head_after: " + headAfter + "\n")
	}
	entry.WriteString(strings.TrimSpace(feedback))
	entry.WriteString("\n\n")

	_, err = f.WriteString(entry.String())
	return err
}
