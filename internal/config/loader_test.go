package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ATR_STATE_DIR", t.TempDir())

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "atr.db", cfg.SQLiteDBPath)
	assert.Equal(t, int64(512<<20), cfg.Limits.MaxContentLength)
	assert.Equal(t, int64(2<<30), cfg.Limits.MaxExtractSize)
	assert.Equal(t, 10, cfg.Worker.TasksPerRun)
	assert.Equal(t, 100*time.Millisecond, cfg.Worker.PollInterval)
	assert.False(t, cfg.Checks.DisableCache)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	stateDir := filepath.Join(dir, "state")
	require.NoError(t, os.MkdirAll(stateDir, 0o755))

	cfgFile := filepath.Join(dir, "atr.yaml")
	content := `
state_dir: ` + stateDir + `
sqlite_db_path: data/atr.db
allow_tests: true
admin:
  users: [alice, bob]
  users_additional: [carol]
checks:
  disable_cache: true
`
	require.NoError(t, os.WriteFile(cfgFile, []byte(content), 0o644))

	cfg, err := NewLoader().WithConfigPath(cfgFile).Load()
	require.NoError(t, err)

	assert.Equal(t, stateDir, cfg.StateDir)
	assert.True(t, cfg.AllowTests)
	assert.True(t, cfg.Checks.DisableCache)
	assert.Equal(t, filepath.Join(stateDir, "data/atr.db"), cfg.DatabasePath())

	admins := cfg.AdminSet()
	assert.Len(t, admins, 3)
	assert.Contains(t, admins, "carol")
}

func TestValidateFatalErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing state dir", func(c *Config) { c.StateDir = "" }},
		{"relative state dir", func(c *Config) { c.StateDir = "relative/path" }},
		{"absolute db path", func(c *Config) { c.SQLiteDBPath = "/abs/atr.db" }},
		{"zero content length", func(c *Config) { c.Limits.MaxContentLength = 0 }},
		{"zero extract size", func(c *Config) { c.Limits.MaxExtractSize = 0 }},
		{"zero tasks per run", func(c *Config) { c.Worker.TasksPerRun = 0 }},
		{"zero poll interval", func(c *Config) { c.Worker.PollInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.StateDir = t.TempDir()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, atrerrors.IsKind(err, atrerrors.KindFatal))
		})
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("ATR_STATE_DIR", t.TempDir())
	t.Setenv("ATR_CHECKS_DISABLE_CACHE", "true")
	t.Setenv("ATR_WORKER_TASKS_PER_RUN", "25")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.True(t, cfg.Checks.DisableCache)
	assert.Equal(t, 25, cfg.Worker.TasksPerRun)
}
