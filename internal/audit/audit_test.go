package audit

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage-audit.log")
	l := New(Options{Path: path, MaxSizeMB: 1, QueueDepth: 8}, slog.Default())

	l.Append("release.start", map[string]any{"project": "test", "version": "0.1"})
	l.Append("release.delete", nil)
	require.NoError(t, l.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var obj map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &obj))
		lines = append(lines, obj)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 2)

	assert.Equal(t, "release.start", lines[0]["action"])
	assert.Equal(t, "test", lines[0]["project"])
	assert.Equal(t, "0.1", lines[0]["version"])
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z$`, lines[0]["datetime"])

	assert.Equal(t, "release.delete", lines[1]["action"])
}

func TestAppendNeverDropsWhenQueueFull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage-audit.log")
	l := New(Options{Path: path, MaxSizeMB: 1, QueueDepth: 1}, slog.Default())

	for i := 0; i < 100; i++ {
		l.Append("keys.add", map[string]any{"n": i})
	}
	require.NoError(t, l.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		count++
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, 100, count)
}
