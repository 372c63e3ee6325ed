package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	require.Equal(t, "RALPH.md", cfg.Loop.PromptPath)
	require.Equal(t, "STOP_RALPH", cfg.Loop.StopPath)
	require.Equal(t, "FEEDBACK.md", cfg.Loop.FeedbackPath)
	require.Equal(t, 10, cfg.Loop.MaxIterations)
	require.Equal(t, 60, cfg.Backoff.SafetyMarginSeconds)
	require.Equal(t, 30, cfg.Backoff.DefaultWaitMinutes)
	require.Contains(t, cfg.Agent.CommandTemplate, "--output-format=stream-json")
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing prompt path", func(c *Config) { c.Loop.PromptPath = "" }},
		{"missing database path", func(c *Config) { c.Database.Path = "" }},
		{"negative iterations", func(c *Config) { c.Loop.MaxIterations = -1 }},
		{"zero launch failures", func(c *Config) { c.Loop.MaxLaunchFailures = 0 }},
		{"empty command template", func(c *Config) { c.Agent.CommandTemplate = "" }},
		{"bogus log level", func(c *Config) { c.Logging.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoaderReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
loop:
  max_iterations: 25
  prompt_path: TASK.md
backoff:
  default_wait_minutes: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	loader := NewLoader()
	loader.SetConfigFile(path)
	cfg, err := loader.Load()
	require.NoError(t, err)

	require.Equal(t, 25, cfg.Loop.MaxIterations)
	require.Equal(t, "TASK.md", cfg.Loop.PromptPath)
	require.Equal(t, 5, cfg.Backoff.DefaultWaitMinutes)
	// Untouched keys keep their defaults.
	require.Equal(t, 3, cfg.Loop.MaxLaunchFailures)
}

func TestLoaderEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("loop:\n  max_iterations: 25\n"), 0o644))

	t.Setenv("RALPH_LOOP_MAX_ITERATIONS", "7")

	loader := NewLoader()
	loader.SetConfigFile(path)
	cfg, err := loader.Load()
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Loop.MaxIterations)
}

func TestLoaderMissingExplicitFileErrors(t *testing.T) {
	loader := NewLoader()
	loader.SetConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := loader.Load()
	require.Error(t, err)
}

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	require.Equal(t, home, expandTilde("~"))
	require.Equal(t, filepath.Join(home, "logs"), expandTilde("~/logs"))
	require.Equal(t, "/abs/path", expandTilde("/abs/path"))
	require.Equal(t, "", expandTilde(""))
}

func TestStopPollInterval(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 15*time.Second, cfg.StopPollInterval())

	cfg.Loop.StopPollSeconds = 2
	require.Equal(t, 2*time.Second, cfg.StopPollInterval())

	cfg.Loop.StopPollSeconds = 0
	require.Equal(t, 15*time.Second, cfg.StopPollInterval())
}
