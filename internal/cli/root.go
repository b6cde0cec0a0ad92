// Package cli provides the command-line interface for the trusted-releases
// engine: the task worker, migrations, and read-only inspection commands.
package cli

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/sebbASF/tooling-trusted-releases/internal/config"
)

var versionInfo struct {
	Version string
	Commit  string
	Date    string
}

// Global flags.
var (
	cfgFile  string
	logLevel string
)

var (
	cfg    *config.Config
	logger *log.Logger
)

// SetVersionInfo sets the version information from main.
func SetVersionInfo(version, commit, date string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.Date = date
}

var rootCmd = &cobra.Command{
	Use:   "atr",
	Short: "Apache Trusted Releases engine",
	Long: `atr runs the trusted-releases engine: a durable release lifecycle
store with immutable content revisions, background check workers, and
vote coordination.

State lives under the configured state directory; configuration comes
from a config file plus ATR_-prefixed environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = log.NewWithOptions(os.Stderr, log.Options{
			ReportTimestamp: true,
			Level:           parseLogLevel(logLevel),
		})

		// Inspection commands run without a config file; commands that
		// touch state load it themselves via loadConfig.
		return nil
	},
}

func parseLogLevel(s string) log.Level {
	switch strings.ToLower(s) {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// loadConfig loads and validates the engine configuration.
func loadConfig() (*config.Config, error) {
	if cfg != nil {
		return cfg, nil
	}
	loader := config.NewLoader()
	if cfgFile != "" {
		loader = loader.WithConfigPath(cfgFile)
	}
	c, err := loader.Load()
	if err != nil {
		return nil, err
	}
	cfg = c
	return cfg, nil
}

// serviceLogger bridges the CLI logger into the slog API the services use.
func serviceLogger() *slog.Logger {
	return slog.New(logger)
}

// ExecuteContext runs the root command.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}
