// Package config handles ralph configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration structure for ralph.
type Config struct {
	// Global settings
	Global GlobalConfig `yaml:"global" mapstructure:"global"`

	// Database settings
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Loop settings
	Loop LoopConfig `yaml:"loop" mapstructure:"loop"`

	// Agent invocation settings
	Agent AgentConfig `yaml:"agent" mapstructure:"agent"`

	// Backoff settings
	Backoff BackoffConfig `yaml:"backoff" mapstructure:"backoff"`
}

// GlobalConfig contains global ralph settings.
type GlobalConfig struct {
	// DataDir is where ralph stores its data (default: ~/.ralph).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// LogDir is where run logs are written (default: <data_dir>/logs).
	LogDir string `yaml:"log_dir" mapstructure:"log_dir"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" mapstructure:"path"`

	// MaxConnections is the maximum number of database connections.
	MaxConnections int `yaml:"max_connections" mapstructure:"max_connections"`

	// BusyTimeoutMs is how long to wait for a locked database (milliseconds).
	BusyTimeoutMs int `yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`
}

// LoopConfig contains loop controller settings.
type LoopConfig struct {
	// PromptPath is the prompt file read at the start of each iteration.
	PromptPath string `yaml:"prompt_path" mapstructure:"prompt_path"`

	// StopPath is the stop marker file. Presence requests a graceful stop.
	StopPath string `yaml:"stop_path" mapstructure:"stop_path"`

	// FeedbackPath is the operator feedback file.
	FeedbackPath string `yaml:"feedback_path" mapstructure:"feedback_path"`

	// MaxIterations bounds the run. 0 means unbounded.
	MaxIterations int `yaml:"max_iterations" mapstructure:"max_iterations"`

	// MaxLaunchFailures is how many consecutive launch failures are
	// tolerated before the run is abandoned.
	MaxLaunchFailures int `yaml:"max_launch_failures" mapstructure:"max_launch_failures"`

	// StopPollSeconds is how often the stop marker is re-checked during a
	// long backoff wait.
	StopPollSeconds int `yaml:"stop_poll_seconds" mapstructure:"stop_poll_seconds"`

	// FetchFeedbackScript, when set, runs before each iteration to populate
	// the feedback file. Its failure never blocks the loop.
	FetchFeedbackScript string `yaml:"fetch_feedback_script" mapstructure:"fetch_feedback_script"`

	// FetchFeedbackTimeoutSeconds bounds the fetch script's runtime.
	FetchFeedbackTimeoutSeconds int `yaml:"fetch_feedback_timeout_seconds" mapstructure:"fetch_feedback_timeout_seconds"`

	// RepoPath is the workspace the agent edits. Defaults to the current
	// directory.
	RepoPath string `yaml:"repo_path" mapstructure:"repo_path"`
}

// AgentConfig contains agent invocation settings.
type AgentConfig struct {
	// CommandTemplate is the shell command launching the agent CLI.
	CommandTemplate string `yaml:"command_template" mapstructure:"command_template"`

	// ExtraArgs are appended to the command.
	ExtraArgs []string `yaml:"extra_args" mapstructure:"extra_args"`

	// RateLimitPattern overrides the rate-limit marker grammar.
	RateLimitPattern string `yaml:"rate_limit_pattern" mapstructure:"rate_limit_pattern"`

	// Env adds environment variables to the agent process.
	Env map[string]string `yaml:"env" mapstructure:"env"`
}

// BackoffConfig contains rate-limit wait settings.
type BackoffConfig struct {
	// SafetyMarginSeconds pads the published reset time.
	SafetyMarginSeconds int `yaml:"safety_margin_seconds" mapstructure:"safety_margin_seconds"`

	// DefaultWaitMinutes applies when the reset time is unparseable.
	DefaultWaitMinutes int `yaml:"default_wait_minutes" mapstructure:"default_wait_minutes"`

	// ServerErrorInitialSeconds starts the exponential schedule.
	ServerErrorInitialSeconds int `yaml:"server_error_initial_seconds" mapstructure:"server_error_initial_seconds"`

	// ServerErrorMaxSeconds caps a single exponential wait.
	ServerErrorMaxSeconds int `yaml:"server_error_max_seconds" mapstructure:"server_error_max_seconds"`

	// ServerErrorBudgetHours bounds total server-error retry time.
	ServerErrorBudgetHours int `yaml:"server_error_budget_hours" mapstructure:"server_error_budget_hours"`
}

// DefaultConfig returns a config populated with defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".ralph")

	return &Config{
		Global: GlobalConfig{
			DataDir: dataDir,
			LogDir:  filepath.Join(dataDir, "logs"),
		},
		Database: DatabaseConfig{
			Path:           filepath.Join(dataDir, "ralph.db"),
			MaxConnections: 10,
			BusyTimeoutMs:  5000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Loop: LoopConfig{
			PromptPath:                  "RALPH.md",
			StopPath:                    "STOP_RALPH",
			FeedbackPath:                "FEEDBACK.md",
			MaxIterations:               10,
			MaxLaunchFailures:           3,
			StopPollSeconds:             15,
			FetchFeedbackTimeoutSeconds: 30,
			RepoPath:                    ".",
		},
		Agent: AgentConfig{
			CommandTemplate: "claude --print --dangerously-skip-permissions --output-format=stream-json --verbose --model opus",
		},
		Backoff: BackoffConfig{
			SafetyMarginSeconds:       60,
			DefaultWaitMinutes:        30,
			ServerErrorInitialSeconds: 15,
			ServerErrorMaxSeconds:     240,
			ServerErrorBudgetHours:    8,
		},
	}
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Global.DataDir == "" {
		return fmt.Errorf("global.data_dir is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Loop.PromptPath == "" {
		return fmt.Errorf("loop.prompt_path is required")
	}
	if c.Loop.MaxIterations < 0 {
		return fmt.Errorf("loop.max_iterations must be >= 0")
	}
	if c.Loop.MaxLaunchFailures <= 0 {
		return fmt.Errorf("loop.max_launch_failures must be > 0")
	}
	if c.Agent.CommandTemplate == "" {
		return fmt.Errorf("agent.command_template is required")
	}
	switch c.Logging.Level {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not valid", c.Logging.Level)
	}
	return nil
}

// StopPollInterval returns the stop-check granularity for backoff waits.
func (c *Config) StopPollInterval() time.Duration {
	if c.Loop.StopPollSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Loop.StopPollSeconds) * time.Second
}
