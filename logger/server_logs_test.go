package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/migadu/ftrd/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenServerLogs_RequiresBothPaths(t *testing.T) {
	dir := t.TempDir()

	_, err := OpenServerLogs("", filepath.Join(dir, "error.log"))
	assert.ErrorContains(t, err, "access log")

	_, err = OpenServerLogs(filepath.Join(dir, "access.log"), "")
	assert.ErrorContains(t, err, "error log")
}

func TestOpenServerLogs_Unopenable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	// A regular file cannot be used as a parent directory.
	_, err := OpenServerLogs(filepath.Join(blocker, "access.log"), filepath.Join(dir, "error.log"))
	assert.Error(t, err)
}

func TestServerLogs_RouteRecords(t *testing.T) {
	dir := t.TempDir()
	accessPath := filepath.Join(dir, "logs", "access.log")
	errorPath := filepath.Join(dir, "logs", "error.log")

	logs, err := OpenServerLogs(accessPath, errorPath)
	require.NoError(t, err)

	Access("RETR", "user", "alice", "path", "/notes.txt")
	Info("not an error")
	Error("disk on fire", "error", "EIO")
	require.NoError(t, logs.Close())

	// After Close the access logger is detached.
	Access("dropped")

	access, err := os.ReadFile(accessPath)
	require.NoError(t, err)
	assert.Contains(t, string(access), "msg=RETR")
	assert.Contains(t, string(access), "user=alice")
	assert.NotContains(t, string(access), "dropped")

	errs, err := os.ReadFile(errorPath)
	require.NoError(t, err)
	assert.Contains(t, string(errs), "disk on fire")
	assert.NotContains(t, string(errs), "not an error")
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLogLevel("debug").String())
	assert.Equal(t, "WARN", parseLogLevel("warning").String())
	assert.Equal(t, "INFO", parseLogLevel("bogus").String())
}

func TestInitializeFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ftrd.log")
	f, err := Initialize(config.LoggingConfig{Output: path, Format: "json", Level: "warn"})
	require.NoError(t, err)
	require.NotNil(t, f)

	Info("dropped by level")
	Warn("kept", "key", "value")
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped by level")
	assert.Contains(t, string(data), `"msg":"kept"`)
	assert.Contains(t, string(data), `"key":"value"`)

	// Restore a stderr logger for the other tests.
	_, err = Initialize(config.LoggingConfig{})
	require.NoError(t, err)
}
