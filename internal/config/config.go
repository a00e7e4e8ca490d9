package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"eventcal/internal/recurrence"
)

// Store drivers understood by store.Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// StoreConfig selects and configures the event persistence backend.
type StoreConfig struct {
	// Driver is one of "sqlite" (default), "postgres" or "memory".
	Driver string `yaml:"driver" json:"driver"`
	// DSN is a file path for sqlite or a connection string for postgres.
	DSN string `yaml:"dsn" json:"dsn"`
}

// RecurrenceConfig controls occurrence generation for recurring events.
type RecurrenceConfig struct {
	// Limit is the occurrence cap per expansion. It is clamped to
	// recurrence.MaxLimit and can never be disabled.
	Limit int `yaml:"limit" json:"limit"`
}

// CacheConfig controls the in-memory response cache.
type CacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds" json:"ttl_seconds"`
	MaxEntries int `yaml:"max_entries" json:"max_entries"`
}

// TTL returns the configured TTL as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// ImportConfig describes a single external ICS feed whose events are
// imported under an organizer.
type ImportConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// OrganizerID owns the imported events.
	OrganizerID int64 `yaml:"organizer_id" json:"organizer_id"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for organizer routes.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used when a request gives no zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Store      StoreConfig      `yaml:"store" json:"store"`
	Recurrence RecurrenceConfig `yaml:"recurrence" json:"recurrence"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`

	// ImportCron is a cron-style schedule string (e.g. "*/30 * * * *")
	// used for periodic ICS imports.
	ImportCron string `yaml:"import_cron" json:"import_cron"`

	// Imports is the list of ICS feeds to import.
	Imports []ImportConfig `yaml:"imports" json:"imports"`

	// BasicAuth, if non-nil, protects organizer and admin endpoints. When
	// nil those endpoints trust the X-User-ID header of a fronting proxy.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   "127.0.0.1:8080",
		Timezone: "UTC",
		LogLevel: "info",
		Store: StoreConfig{
			Driver: DriverSQLite,
			DSN:    "./var/eventcal.db",
		},
		Recurrence: RecurrenceConfig{
			Limit: recurrence.DefaultLimit,
		},
		Cache: CacheConfig{
			TTLSeconds: 300,
			MaxEntries: 1000,
		},
		ImportCron: "*/30 * * * *",
		Imports:    []ImportConfig{},
		BasicAuth:  nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	switch c.Store.Driver {
	case DriverSQLite, DriverPostgres, DriverMemory:
		// ok
	default:
		c.Store.Driver = DriverSQLite
	}
	if c.Store.DSN == "" && c.Store.Driver == DriverSQLite {
		c.Store.DSN = "./var/eventcal.db"
	}

	c.Recurrence.Limit = recurrence.NormalizeLimit(c.Recurrence.Limit)

	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = 300
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = 1000
	}
	if c.ImportCron == "" {
		c.ImportCron = "*/30 * * * *"
	}
	if c.Imports == nil {
		c.Imports = []ImportConfig{}
	}
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load loads configuration from the given YAML path and then applies
// environment overrides (see ApplyEnv).
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	cfg.Normalize()

	return &cfg, nil
}

// ApplyEnv loads a .env file from the working directory when present and
// lets EVENTCAL_* variables override file values.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load()

	if v := os.Getenv("EVENTCAL_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("EVENTCAL_TIMEZONE"); v != "" {
		c.Timezone = v
	}
	if v := os.Getenv("EVENTCAL_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("EVENTCAL_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("EVENTCAL_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("EVENTCAL_RECURRENCE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Recurrence.Limit = n
		}
	}
	c.Normalize()
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".eventcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
