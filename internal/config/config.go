// Package config loads the quote form server configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all server configuration.
type Config struct {
	// AppEnv is the deployment environment. "local" enables sample data.
	AppEnv string `yaml:"app_env"`

	Server   ServerConfig   `yaml:"server"`
	Backend  BackendConfig  `yaml:"backend"`
	Postal   PostalConfig   `yaml:"postal"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Storage  StorageConfig  `yaml:"storage"`
	Activity ActivityConfig `yaml:"activity"`
	Session  SessionConfig  `yaml:"session"`
	Dev      DevConfig      `yaml:"dev"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int    `yaml:"port"`
	SecureCookies   bool   `yaml:"secure_cookies"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// BackendConfig configures the estimate backend client.
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"` // empty: no client timeout
}

// PostalConfig configures postal code lookup.
type PostalConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// CatalogConfig selects where the luggage catalog comes from.
type CatalogConfig struct {
	Source string `yaml:"source"` // embedded, file, http
	Path   string `yaml:"path"`
	URL    string `yaml:"url"`
	Watch  bool   `yaml:"watch"` // reload on file change
}

// StorageConfig selects the session storage backend.
type StorageConfig struct {
	Driver string `yaml:"driver"` // memory, sqlite, badger
	DSN    string `yaml:"dsn"`    // sqlite
	Dir    string `yaml:"dir"`    // badger; empty runs in memory
}

// ActivityConfig selects the audit trail backend.
type ActivityConfig struct {
	Driver string `yaml:"driver"` // memory, sqlite
	DSN    string `yaml:"dsn"`
	// API mounts the read-only /api/activity routes for support staff.
	API bool `yaml:"api"`
}

// SessionConfig bounds session lifetime.
type SessionConfig struct {
	MaxAge          string `yaml:"max_age"`
	IdleTimeout     string `yaml:"idle_timeout"`
	CleanupInterval string `yaml:"cleanup_interval"`
}

// DevConfig holds development conveniences.
type DevConfig struct {
	// SubmitFallback answers a failed backend submission with a local id.
	SubmitFallback bool `yaml:"submit_fallback"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		AppEnv: "production",
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: "10s",
		},
		Backend: BackendConfig{
			BaseURL: "http://localhost:8000",
		},
		Postal: PostalConfig{
			Enabled: true,
			BaseURL: "https://zipcloud.ibsnet.co.jp",
			Timeout: "5s",
		},
		Catalog: CatalogConfig{
			Source: "embedded",
		},
		Storage: StorageConfig{
			Driver: "memory",
			DSN:    "file:quoteform.db",
		},
		Activity: ActivityConfig{
			Driver: "memory",
			DSN:    "file:quoteform-activity.db",
		},
		Session: SessionConfig{
			MaxAge:          "24h",
			IdleTimeout:     "30m",
			CleanupInterval: "10m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment variables override both.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("APP_ENV"); v != "" {
		c.AppEnv = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}

	// Backend URL, the public name wins over the server-only one.
	if v := os.Getenv("API_BASE_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("NEXT_PUBLIC_API_URL"); v != "" {
		c.Backend.BaseURL = v
	}

	if v := os.Getenv("POSTAL_LOOKUP_URL"); v != "" {
		c.Postal.BaseURL = v
	}
	if v := os.Getenv("SESSION_BACKEND"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("BADGER_DIR"); v != "" {
		c.Storage.Dir = v
	}
	if v := os.Getenv("CATALOG_PATH"); v != "" {
		c.Catalog.Source = "file"
		c.Catalog.Path = v
	}
	if v := os.Getenv("CATALOG_URL"); v != "" {
		c.Catalog.Source = "http"
		c.Catalog.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// IsLocal reports whether the server runs in local development.
func (c *Config) IsLocal() bool { return c.AppEnv == "local" }

// duration parses s, falling back to def when empty or malformed.
func duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// GetBackendTimeout returns the backend client timeout, zero for none.
func (c *Config) GetBackendTimeout() time.Duration { return duration(c.Backend.Timeout, 0) }

// GetPostalTimeout returns the postal lookup timeout.
func (c *Config) GetPostalTimeout() time.Duration { return duration(c.Postal.Timeout, 5*time.Second) }

// GetShutdownTimeout returns the graceful shutdown budget.
func (c *Config) GetShutdownTimeout() time.Duration {
	return duration(c.Server.ShutdownTimeout, 10*time.Second)
}

// GetSessionMaxAge returns the absolute session lifetime.
func (c *Config) GetSessionMaxAge() time.Duration { return duration(c.Session.MaxAge, 24*time.Hour) }

// GetSessionIdleTimeout returns the idle session lifetime.
func (c *Config) GetSessionIdleTimeout() time.Duration {
	return duration(c.Session.IdleTimeout, 30*time.Minute)
}

// GetCleanupInterval returns how often expired sessions are swept.
func (c *Config) GetCleanupInterval() time.Duration {
	return duration(c.Session.CleanupInterval, 10*time.Minute)
}

var (
	validStorageDrivers  = []string{"memory", "sqlite", "badger"}
	validActivityDrivers = []string{"memory", "sqlite"}
	validCatalogSources  = []string{"embedded", "file", "http"}
	validLogFormats      = []string{"json", "console"}
)

func oneOf(v string, valid []string) bool {
	for _, s := range valid {
		if v == s {
			return true
		}
	}
	return false
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend base URL not configured (set API_BASE_URL)")
	}
	if !oneOf(c.Storage.Driver, validStorageDrivers) {
		return fmt.Errorf("invalid storage driver: %s (valid: %v)", c.Storage.Driver, validStorageDrivers)
	}
	if !oneOf(c.Activity.Driver, validActivityDrivers) {
		return fmt.Errorf("invalid activity driver: %s (valid: %v)", c.Activity.Driver, validActivityDrivers)
	}
	if !oneOf(c.Catalog.Source, validCatalogSources) {
		return fmt.Errorf("invalid catalog source: %s (valid: %v)", c.Catalog.Source, validCatalogSources)
	}
	if c.Catalog.Source == "file" && c.Catalog.Path == "" {
		return fmt.Errorf("catalog source file requires catalog.path")
	}
	if c.Catalog.Source == "http" && c.Catalog.URL == "" {
		return fmt.Errorf("catalog source http requires catalog.url")
	}
	if c.Catalog.Watch && c.Catalog.Source != "file" {
		return fmt.Errorf("catalog.watch needs a file source")
	}
	if !oneOf(c.Logging.Format, validLogFormats) {
		return fmt.Errorf("invalid log format: %s (valid: %v)", c.Logging.Format, validLogFormats)
	}
	for name, v := range map[string]string{
		"backend.timeout":          c.Backend.Timeout,
		"postal.timeout":           c.Postal.Timeout,
		"server.shutdown_timeout":  c.Server.ShutdownTimeout,
		"session.max_age":          c.Session.MaxAge,
		"session.idle_timeout":     c.Session.IdleTimeout,
		"session.cleanup_interval": c.Session.CleanupInterval,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}
