package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultConfigFile is the configuration file name looked up under the prefix directory.
const DefaultConfigFile = "ftrd.toml"

var (
	ErrEmptyConfig = errors.New("configuration file is empty")
	ErrZeroPort    = errors.New("port must be a non-zero value")
	ErrNoRoot      = errors.New("root directory is required")
)

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Output string `toml:"output"` // Log output: "stderr", "stdout", "syslog", or file path
	Format string `toml:"format"` // Log format: "json" or "console"
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", "error"
}

// MetricsConfig holds Prometheus exporter configuration
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"` // Listen address for the exporter, e.g. "127.0.0.1:9121"
	Path    string `toml:"path"` // HTTP path, defaults to "/metrics"
}

// HTTPAPIConfig holds the operations API configuration
type HTTPAPIConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	APIKey       string   `toml:"api_key"`       // Bearer token, empty disables authentication
	AllowedHosts []string `toml:"allowed_hosts"` // IPs or CIDR blocks, empty allows all
}

// HistoryConfig holds transfer history storage configuration
type HistoryConfig struct {
	Enabled   bool   `toml:"enabled"`
	Path      string `toml:"path"`      // SQLite database file
	Retention string `toml:"retention"` // Rows older than this are purged, e.g. "720h"; empty keeps everything
}

// UserConfig is one configured account. Password may be plain text or a bcrypt hash.
type UserConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
	Root     string `toml:"root"` // Fragment appended to the server root, e.g. "/alice"
}

// Config holds all configuration for the application.
type Config struct {
	ServerName  string `toml:"server_name"`
	Host        string `toml:"host"` // IPv4/IPv6 literal, domain name or "localhost"
	Port        int    `toml:"port"`
	Root        string `toml:"root"`
	ErrorLog    string `toml:"error_log"`
	AccessLog   string `toml:"access_log"`
	IdleTimeout string `toml:"idle_timeout"` // Control channel idle timeout, empty disables
	DataTimeout string `toml:"data_timeout"` // Bound on data channel setup and I/O

	Logging LoggingConfig `toml:"logging"`
	Metrics MetricsConfig `toml:"metrics"`
	HTTPAPI HTTPAPIConfig `toml:"http_api"`
	History HistoryConfig `toml:"history"`

	Users []UserConfig `toml:"users"`
}

// NewDefaultConfig creates a Config struct with default values.
func NewDefaultConfig() Config {
	return Config{
		ServerName:  "ftrd",
		Host:        "localhost",
		Port:        21,
		Root:        "/srv/ftrd",
		ErrorLog:    "logs/error.log",
		AccessLog:   "logs/access.log",
		DataTimeout: "5m",
		Logging: LoggingConfig{
			Output: "stderr",  // Default to stderr
			Format: "console", // Default to console format
			Level:  "info",    // Default to info level
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9121",
			Path:    "/metrics",
		},
		HTTPAPI: HTTPAPIConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9122",
		},
		History: HistoryConfig{
			Enabled: false,
			Path:    "history.db",
		},
	}
}

// LoadConfigFromFile decodes a TOML file into cfg. Unknown keys are reported
// and ignored; an unreadable or empty file and a zero port are errors.
func LoadConfigFromFile(configPath string, cfg *Config) error {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	if strings.TrimSpace(string(content)) == "" {
		return fmt.Errorf("%s: %w", configPath, ErrEmptyConfig)
	}

	metadata, err := toml.Decode(string(content), cfg)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", configPath, err)
	}

	// Warn about unknown keys (might be typos or deprecated settings)
	if len(metadata.Undecoded()) > 0 {
		log.Printf("WARNING: Configuration file '%s' contains unknown keys that will be ignored:", configPath)
		for _, key := range metadata.Undecoded() {
			log.Printf("WARNING:   - %s", key)
		}
	}

	trimUsers(cfg)

	return cfg.Validate()
}

// Validate checks the loaded values for consistency.
func (c *Config) Validate() error {
	if c.Port == 0 {
		return ErrZeroPort
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d is out of range", c.Port)
	}
	if strings.TrimSpace(c.Root) == "" {
		return ErrNoRoot
	}

	seen := make(map[string]bool, len(c.Users))
	for i, u := range c.Users {
		if u.Username == "" {
			return fmt.Errorf("user #%d has an empty username", i+1)
		}
		if seen[u.Username] {
			return fmt.Errorf("duplicate user '%s'", u.Username)
		}
		seen[u.Username] = true
	}

	if _, err := c.GetIdleTimeout(); err != nil {
		return fmt.Errorf("invalid idle_timeout: %w", err)
	}
	if _, err := c.GetDataTimeout(); err != nil {
		return fmt.Errorf("invalid data_timeout: %w", err)
	}
	if _, err := c.GetHistoryRetention(); err != nil {
		return fmt.Errorf("invalid history.retention: %w", err)
	}
	if c.History.Enabled && c.History.Path == "" {
		return errors.New("history.path is required when history is enabled")
	}
	return nil
}

// ResolvePaths makes relative log and history paths absolute against prefix.
func (c *Config) ResolvePaths(prefix string) {
	if prefix == "" {
		return
	}
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(prefix, p)
	}
	c.ErrorLog = resolve(c.ErrorLog)
	c.AccessLog = resolve(c.AccessLog)
	c.History.Path = resolve(c.History.Path)
}

// FindUser returns the configured user with the given name.
func (c *Config) FindUser(username string) (UserConfig, bool) {
	for _, u := range c.Users {
		if u.Username == username {
			return u, true
		}
	}
	return UserConfig{}, false
}

// GetIdleTimeout returns the control channel idle timeout; zero means disabled.
func (c *Config) GetIdleTimeout() (time.Duration, error) {
	return parseOptionalDuration(c.IdleTimeout)
}

// GetDataTimeout returns the data channel timeout; zero means disabled.
func (c *Config) GetDataTimeout() (time.Duration, error) {
	return parseOptionalDuration(c.DataTimeout)
}

// GetHistoryRetention returns how long transfer history is kept; zero keeps everything.
func (c *Config) GetHistoryRetention() (time.Duration, error) {
	return parseOptionalDuration(c.History.Retention)
}

func parseOptionalDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}

func trimUsers(cfg *Config) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	for i := range cfg.Users {
		cfg.Users[i].Username = strings.TrimSpace(cfg.Users[i].Username)
		cfg.Users[i].Root = strings.TrimSpace(cfg.Users[i].Root)
	}
}
