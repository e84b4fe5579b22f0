package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ftrd.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
server_name = "ftr-test"
host = "127.0.0.1"
port = 2121
root = "/tmp/ftr"
error_log = "error.log"
access_log = "access.log"
idle_timeout = "2m"

[logging]
level = "debug"

[[users]]
username = "alice"
password = "secret"
root = "/alice"

[[users]]
username = " bob "
password = "hunter2"
root = "/bob"
`)

	cfg := NewDefaultConfig()
	require.NoError(t, LoadConfigFromFile(path, &cfg))

	assert.Equal(t, "ftr-test", cfg.ServerName)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 2121, cfg.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format, "defaults survive partial sections")
	require.Len(t, cfg.Users, 2)
	assert.Equal(t, "alice", cfg.Users[0].Username)
	assert.Equal(t, "bob", cfg.Users[1].Username)

	idle, err := cfg.GetIdleTimeout()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, idle)

	data, err := cfg.GetDataTimeout()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, data)
}

func TestLoadConfigFromFile_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		cfg := NewDefaultConfig()
		err := LoadConfigFromFile(filepath.Join(t.TempDir(), "nope.toml"), &cfg)
		require.Error(t, err)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("empty file", func(t *testing.T) {
		cfg := NewDefaultConfig()
		err := LoadConfigFromFile(writeConfig(t, "  \n\t\n"), &cfg)
		assert.ErrorIs(t, err, ErrEmptyConfig)
	})

	t.Run("zero port", func(t *testing.T) {
		cfg := NewDefaultConfig()
		err := LoadConfigFromFile(writeConfig(t, "port = 0\n"), &cfg)
		assert.ErrorIs(t, err, ErrZeroPort)
	})

	t.Run("syntax error", func(t *testing.T) {
		cfg := NewDefaultConfig()
		err := LoadConfigFromFile(writeConfig(t, "port = \n"), &cfg)
		assert.Error(t, err)
	})

	t.Run("duplicate user", func(t *testing.T) {
		cfg := NewDefaultConfig()
		err := LoadConfigFromFile(writeConfig(t, `
[[users]]
username = "alice"
[[users]]
username = "alice"
`), &cfg)
		assert.ErrorContains(t, err, "duplicate user")
	})

	t.Run("bad duration", func(t *testing.T) {
		cfg := NewDefaultConfig()
		err := LoadConfigFromFile(writeConfig(t, `data_timeout = "soon"`), &cfg)
		assert.ErrorContains(t, err, "data_timeout")
	})
}

func TestLoadConfigFromFile_UnknownKeys(t *testing.T) {
	cfg := NewDefaultConfig()
	err := LoadConfigFromFile(writeConfig(t, `
port = 2100
typo_setting = 123
`), &cfg)
	require.NoError(t, err, "unknown keys only produce warnings")
	assert.Equal(t, 2100, cfg.Port)
}

func TestResolvePaths(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.ErrorLog = "logs/error.log"
	cfg.AccessLog = "/var/log/ftrd/access.log"
	cfg.History.Path = "history.db"

	cfg.ResolvePaths("/opt/ftrd")

	assert.Equal(t, "/opt/ftrd/logs/error.log", cfg.ErrorLog)
	assert.Equal(t, "/var/log/ftrd/access.log", cfg.AccessLog)
	assert.Equal(t, "/opt/ftrd/history.db", cfg.History.Path)
}

func TestFindUser(t *testing.T) {
	cfg := Config{Users: []UserConfig{
		{Username: "alice", Password: "a", Root: "/alice"},
		{Username: "bob", Password: "b", Root: "/bob"},
	}}

	u, ok := cfg.FindUser("bob")
	require.True(t, ok)
	assert.Equal(t, "/bob", u.Root)

	_, ok = cfg.FindUser("mallory")
	assert.False(t, ok)
}
