package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// Load loads configuration with proper precedence:
// defaults < config file < env vars < CLI flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		// Config file is optional, only error if explicitly specified
		if l.configFile != "" {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// ConfigFileUsed returns the config file Viper settled on, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// expandPaths expands ~ in all path-related config fields.
func expandPaths(cfg *Config) {
	cfg.Global.DataDir = expandTilde(cfg.Global.DataDir)
	cfg.Global.LogDir = expandTilde(cfg.Global.LogDir)
	cfg.Database.Path = expandTilde(cfg.Database.Path)
	cfg.Logging.File = expandTilde(cfg.Logging.File)
	cfg.Loop.RepoPath = expandTilde(cfg.Loop.RepoPath)
	cfg.Loop.FetchFeedbackScript = expandTilde(cfg.Loop.FetchFeedbackScript)
}

// setupViper configures Viper with defaults and environment bindings.
func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "ralph"))
	}

	homeDir, _ := os.UserHomeDir()
	if homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "ralph"))
	}

	v.AddConfigPath(".")

	v.SetEnvPrefix("RALPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)
}

func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if ok := errorsAs(err, &notFound); ok && l.configFile == "" {
			return nil
		}
		return err
	}
	return nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("global.data_dir", cfg.Global.DataDir)
	v.SetDefault("global.log_dir", cfg.Global.LogDir)

	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.max_connections", cfg.Database.MaxConnections)
	v.SetDefault("database.busy_timeout_ms", cfg.Database.BusyTimeoutMs)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file", cfg.Logging.File)

	v.SetDefault("loop.prompt_path", cfg.Loop.PromptPath)
	v.SetDefault("loop.stop_path", cfg.Loop.StopPath)
	v.SetDefault("loop.feedback_path", cfg.Loop.FeedbackPath)
	v.SetDefault("loop.max_iterations", cfg.Loop.MaxIterations)
	v.SetDefault("loop.max_launch_failures", cfg.Loop.MaxLaunchFailures)
	v.SetDefault("loop.stop_poll_seconds", cfg.Loop.StopPollSeconds)
	v.SetDefault("loop.fetch_feedback_script", cfg.Loop.FetchFeedbackScript)
	v.SetDefault("loop.fetch_feedback_timeout_seconds", cfg.Loop.FetchFeedbackTimeoutSeconds)
	v.SetDefault("loop.repo_path", cfg.Loop.RepoPath)

	v.SetDefault("agent.command_template", cfg.Agent.CommandTemplate)
	v.SetDefault("agent.rate_limit_pattern", cfg.Agent.RateLimitPattern)

	v.SetDefault("backoff.safety_margin_seconds", cfg.Backoff.SafetyMarginSeconds)
	v.SetDefault("backoff.default_wait_minutes", cfg.Backoff.DefaultWaitMinutes)
	v.SetDefault("backoff.server_error_initial_seconds", cfg.Backoff.ServerErrorInitialSeconds)
	v.SetDefault("backoff.server_error_max_seconds", cfg.Backoff.ServerErrorMaxSeconds)
	v.SetDefault("backoff.server_error_budget_hours", cfg.Backoff.ServerErrorBudgetHours)
}

// errorsAs is a tiny wrapper so loadConfigFile reads cleanly.
func errorsAs(err error, target *viper.ConfigFileNotFoundError) bool {
	if e, ok := err.(viper.ConfigFileNotFoundError); ok {
		*target = e
		return true
	}
	return false
}
