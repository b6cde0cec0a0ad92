package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, log.DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, log.WarnLevel, parseLogLevel("WARN"))
	assert.Equal(t, log.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, log.InfoLevel, parseLogLevel("info"))
	assert.Equal(t, log.InfoLevel, parseLogLevel("bogus"))
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "abcdef0", "2026-08-24")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "atr 1.2.3")
	assert.Contains(t, out.String(), "abcdef0")
}

func TestLoadConfigRequiresStateDir(t *testing.T) {
	cfg = nil
	t.Cleanup(func() { cfg = nil })

	_, err := loadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state_dir")
}
