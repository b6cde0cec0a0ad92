// Package config provides configuration management for the trusted-releases engine.
package config

import (
	"time"
)

// Config is the root configuration for the engine.
// It is loaded once at startup, validated, and passed by reference.
type Config struct {
	// StateDir is the absolute root of the filesystem hierarchy.
	StateDir string `mapstructure:"state_dir" json:"state_dir"`
	// SQLiteDBPath is the store file, relative to StateDir.
	SQLiteDBPath string `mapstructure:"sqlite_db_path" json:"sqlite_db_path"`
	// AllowTests enables test-only accounts and admin endpoints.
	AllowTests bool `mapstructure:"allow_tests" json:"allow_tests"`

	// AppHost is the HTTP bind point consumed by the outer server layer.
	AppHost string `mapstructure:"app_host" json:"app_host,omitempty"`
	// SSHHost and SSHPort are the ingest server bind points.
	SSHHost string `mapstructure:"ssh_host" json:"ssh_host,omitempty"`
	SSHPort int    `mapstructure:"ssh_port" json:"ssh_port,omitempty"`
	// SMTPHost is the outbound mail relay for vote and announce email.
	SMTPHost string `mapstructure:"smtp_host" json:"smtp_host,omitempty"`

	// Limits configures upload and archive-extraction bounds.
	Limits LimitsConfig `mapstructure:"limits" json:"limits"`
	// Admin configures the foundation-admin user set.
	Admin AdminConfig `mapstructure:"admin" json:"admin"`
	// Checks configures the check orchestrator.
	Checks ChecksConfig `mapstructure:"checks" json:"checks"`
	// Worker configures the task executor workers.
	Worker WorkerConfig `mapstructure:"worker" json:"worker"`
	// Audit configures the audit log sink.
	Audit AuditConfig `mapstructure:"audit" json:"audit"`

	// RatJarPath is the path to the Apache RAT jar for license scanning.
	RatJarPath string `mapstructure:"apache_rat_jar_path" json:"apache_rat_jar_path,omitempty"`
	// SVNToken authenticates svn imports.
	SVNToken string `mapstructure:"svn_token" json:"svn_token,omitempty"`
}

// LimitsConfig bounds uploads and archive extraction.
type LimitsConfig struct {
	// MaxContentLength is the maximum upload size in bytes.
	MaxContentLength int64 `mapstructure:"max_content_length" json:"max_content_length"`
	// MaxExtractSize is the maximum total archive extraction size in bytes.
	MaxExtractSize int64 `mapstructure:"max_extract_size" json:"max_extract_size"`
	// ExtractChunkSize is the read chunk size used during extraction.
	ExtractChunkSize int64 `mapstructure:"extract_chunk_size" json:"extract_chunk_size"`
}

// AdminConfig configures the foundation-admin set.
type AdminConfig struct {
	// Users is the base set of admin user ids.
	Users []string `mapstructure:"users" json:"users"`
	// UsersAdditional extends Users without replacing it.
	UsersAdditional []string `mapstructure:"users_additional" json:"users_additional,omitempty"`
}

// ChecksConfig configures the check orchestrator.
type ChecksConfig struct {
	// DisableCache opts out of check-result reuse by content hash.
	DisableCache bool `mapstructure:"disable_cache" json:"disable_cache"`
}

// WorkerConfig configures task executor workers.
type WorkerConfig struct {
	// TasksPerRun is how many tasks a worker processes before exiting
	// so a supervisor can restart it.
	TasksPerRun int `mapstructure:"tasks_per_run" json:"tasks_per_run"`
	// PollInterval is how long the claim loop sleeps when the queue is empty.
	PollInterval time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	// MaxLoopFailures is how many consecutive claim-loop failures a worker
	// tolerates before exiting for the supervisor to restart it.
	MaxLoopFailures int `mapstructure:"max_loop_failures" json:"max_loop_failures"`
}

// AuditConfig configures the audit log sink.
type AuditConfig struct {
	// MaxSizeMB is the rotation threshold for the audit log file.
	MaxSizeMB int `mapstructure:"max_size_mb" json:"max_size_mb"`
	// MaxBackups is how many rotated audit files to keep.
	MaxBackups int `mapstructure:"max_backups" json:"max_backups"`
	// QueueDepth is the buffered channel depth between callers and the writer.
	QueueDepth int `mapstructure:"queue_depth" json:"queue_depth"`
}

// AdminSet returns the effective admin user set, merging the base and
// additional lists.
func (c *Config) AdminSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.Admin.Users)+len(c.Admin.UsersAdditional))
	for _, u := range c.Admin.Users {
		set[u] = struct{}{}
	}
	for _, u := range c.Admin.UsersAdditional {
		set[u] = struct{}{}
	}
	return set
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SQLiteDBPath: "atr.db",
		AppHost:      "127.0.0.1:8080",
		SSHHost:      "127.0.0.1",
		SSHPort:      2222,
		SMTPHost:     "localhost:25",
		Limits: LimitsConfig{
			MaxContentLength: 512 << 20, // 512 MiB
			MaxExtractSize:   2 << 30,   // 2 GiB
			ExtractChunkSize: 4 << 20,   // 4 MiB
		},
		Checks: ChecksConfig{
			DisableCache: false,
		},
		Worker: WorkerConfig{
			TasksPerRun:     10,
			PollInterval:    100 * time.Millisecond,
			MaxLoopFailures: 5,
		},
		Audit: AuditConfig{
			MaxSizeMB:  64,
			MaxBackups: 8,
			QueueDepth: 1024,
		},
	}
}
