// Package cli implements the ralph command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tpott/diy-ralph/internal/config"
	"github.com/tpott/diy-ralph/internal/logging"
)

var (
	// Global flags
	cfgFile    string
	jsonOutput bool
	verbose    bool
	noColor    bool
	logLevel   string
	logFormat  string

	configLoader *config.Loader
	appConfig    *config.Config
	logger       zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ralph",
	Short: "Loop orchestrator for AI coding agents",
	Long: `Ralph repeatedly feeds a prompt file to a coding agent CLI, giving the
agent a fixed budget of iterations to make progress on a repository.

It handles the operational edges of long unattended runs:
  - Rate-limit detection with scheduled resumption
  - Exponential backoff on transient API errors
  - Graceful stop and feedback injection via control files
  - Per-iteration records in SQLite and streaming run logs

Drop a STOP_RALPH file in the working directory to stop a run cleanly,
or write FEEDBACK.md to steer the next iteration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute(version, commit, date string) error {
	rootCmd.Version = formatVersion(version, commit, date)
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/ralph/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override logging format (json, console)")
}

// initConfig loads configuration with precedence:
// defaults < config file < env vars < CLI flags.
func initConfig() {
	configLoader = config.NewLoader()
	if cfgFile != "" {
		configLoader.SetConfigFile(cfgFile)
	}

	var err error
	appConfig, err = configLoader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	applyCLIOverrides()
	initLogging()

	if cfgUsed := configLoader.ConfigFileUsed(); cfgUsed != "" {
		logger.Debug().Str("config_file", cfgUsed).Msg("loaded config file")
	}
}

func applyCLIOverrides() {
	flags := rootCmd.PersistentFlags()

	if flags.Changed("log-level") {
		appConfig.Logging.Level = logLevel
	} else if verbose {
		appConfig.Logging.Level = "debug"
	}

	if flags.Changed("log-format") {
		appConfig.Logging.Format = logFormat
	}
}

func initLogging() {
	logCfg := logging.Config{
		Level:  appConfig.Logging.Level,
		Format: appConfig.Logging.Format,
		File:   appConfig.Logging.File,
	}

	if err := logging.Setup(logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up logging: %v\n", err)
		os.Exit(1)
	}
	logger = logging.Component("cli")
}

// GetConfig returns the loaded configuration, nil before initConfig.
func GetConfig() *config.Config {
	return appConfig
}

// IsJSONOutput reports whether JSON output mode is enabled.
func IsJSONOutput() bool {
	return jsonOutput
}

func formatVersion(version, commit, date string) string {
	return version + " (commit: " + commit + ", built: " + date + ")"
}
