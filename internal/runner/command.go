package runner

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/tpott/diy-ralph/internal/models"
)

// PromptMode controls how the prompt payload reaches the agent.
type PromptMode string

const (
	// PromptModeStdin streams the prompt on standard input.
	PromptModeStdin PromptMode = "stdin"

	// PromptModeEnv exposes the prompt as RALPH_PROMPT_CONTENT so the
	// command template can interpolate it.
	PromptModeEnv PromptMode = "env"
)

// Invocation describes how to launch the agent CLI.
type Invocation struct {
	// CommandTemplate is the shell command, run through `bash -lc`.
	CommandTemplate string

	// ExtraArgs are appended verbatim to the command.
	ExtraArgs []string

	// PromptMode defaults to stdin.
	PromptMode PromptMode

	// Dir is the working directory for the process.
	Dir string

	// Env adds or overrides environment variables.
	Env map[string]string
}

// DefaultCommandTemplate is the stock claude invocation: prompt on stdin,
// stream-json records on stdout.
const DefaultCommandTemplate = "claude --print --dangerously-skip-permissions --output-format=stream-json --verbose --model opus"

// Command prepares the exec.Cmd for one invocation.
func (inv Invocation) Command(ctx context.Context, prompt string) (*exec.Cmd, error) {
	command := strings.TrimSpace(inv.CommandTemplate)
	if command == "" {
		return nil, models.ErrInvalidCommand
	}
	if len(inv.ExtraArgs) > 0 {
		command = command + " " + strings.Join(inv.ExtraArgs, " ")
	}

	cmd := exec.CommandContext(ctx, "bash", "-lc", command)
	cmd.Dir = inv.Dir

	env := append([]string{}, os.Environ()...)
	mode := inv.PromptMode
	if mode == "" {
		mode = PromptModeStdin
	}
	switch mode {
	case PromptModeStdin:
		cmd.Stdin = strings.NewReader(prompt)
	case PromptModeEnv:
		env = append(env, "RALPH_PROMPT_CONTENT="+prompt)
	}
	for key, value := range inv.Env {
		env = append(env, key+"="+value)
	}
	cmd.Env = env

	return cmd, nil
}
