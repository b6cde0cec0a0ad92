package config

import (
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
)

// Loader handles configuration loading and merging.
type Loader struct {
	v          *viper.Viper
	configPath string
}

// NewLoader creates a new configuration loader. Environment variables use the
// ATR_ prefix with dots and hyphens mapped to underscores, so STATE_DIR is
// ATR_STATE_DIR and limits.max_content_length is ATR_LIMITS_MAX_CONTENT_LENGTH.
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix("ATR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return &Loader{v: v}
}

// WithConfigPath sets an explicit config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// Load loads and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	const op = "config.Load"

	l.setDefaults()

	if l.configPath != "" {
		l.v.SetConfigFile(l.configPath)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, atrerrors.FatalWrap(err, op, "failed to read config file")
		}
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, atrerrors.FatalWrap(err, op, "failed to unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults sets default values using Viper.
func (l *Loader) setDefaults() {
	defaults := DefaultConfig()

	l.v.SetDefault("sqlite_db_path", defaults.SQLiteDBPath)
	l.v.SetDefault("app_host", defaults.AppHost)
	l.v.SetDefault("ssh_host", defaults.SSHHost)
	l.v.SetDefault("ssh_port", defaults.SSHPort)
	l.v.SetDefault("smtp_host", defaults.SMTPHost)

	l.v.SetDefault("limits.max_content_length", defaults.Limits.MaxContentLength)
	l.v.SetDefault("limits.max_extract_size", defaults.Limits.MaxExtractSize)
	l.v.SetDefault("limits.extract_chunk_size", defaults.Limits.ExtractChunkSize)

	l.v.SetDefault("checks.disable_cache", defaults.Checks.DisableCache)

	l.v.SetDefault("worker.tasks_per_run", defaults.Worker.TasksPerRun)
	l.v.SetDefault("worker.poll_interval", defaults.Worker.PollInterval)
	l.v.SetDefault("worker.max_loop_failures", defaults.Worker.MaxLoopFailures)

	l.v.SetDefault("audit.max_size_mb", defaults.Audit.MaxSizeMB)
	l.v.SetDefault("audit.max_backups", defaults.Audit.MaxBackups)
	l.v.SetDefault("audit.queue_depth", defaults.Audit.QueueDepth)
}

// Validate checks the configuration for fatal errors.
func (c *Config) Validate() error {
	const op = "config.Validate"

	if c.StateDir == "" {
		return atrerrors.Fatal(op, "state_dir must be set")
	}
	if !filepath.IsAbs(c.StateDir) {
		return atrerrors.Newf(atrerrors.KindFatal, "state_dir must be absolute, got %q", c.StateDir)
	}
	if c.SQLiteDBPath == "" {
		return atrerrors.Fatal(op, "sqlite_db_path must be set")
	}
	if filepath.IsAbs(c.SQLiteDBPath) {
		return atrerrors.Newf(atrerrors.KindFatal, "sqlite_db_path must be relative to state_dir, got %q", c.SQLiteDBPath)
	}
	if c.Limits.MaxContentLength <= 0 {
		return atrerrors.Fatal(op, "limits.max_content_length must be positive")
	}
	if c.Limits.MaxExtractSize <= 0 {
		return atrerrors.Fatal(op, "limits.max_extract_size must be positive")
	}
	if c.Limits.ExtractChunkSize <= 0 {
		return atrerrors.Fatal(op, "limits.extract_chunk_size must be positive")
	}
	if c.Worker.TasksPerRun <= 0 {
		return atrerrors.Fatal(op, "worker.tasks_per_run must be positive")
	}
	if c.Worker.PollInterval <= 0 {
		return atrerrors.Fatal(op, "worker.poll_interval must be positive")
	}

	return nil
}

// DatabasePath returns the absolute path of the SQLite store file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.StateDir, c.SQLiteDBPath)
}
