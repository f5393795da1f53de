// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - One flat Config shared by the server and the client agent; each side
// reads only the keys it needs.
// - Provide New() to build a Config with defaults.
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Storage drivers understood by the result store.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Local cache backends understood by the client agent.
const (
	CacheBackendFile    = "file"
	CacheBackendLevelDB = "leveldb"
	CacheBackendMemory  = "memory"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DBDriver selects the result store engine: sqlite or postgres.
	DBDriver string `koanf:"db_driver"`

	// DBDSN is the driver-specific data source (file path for sqlite).
	DBDSN string `koanf:"db_dsn"`

	// CORSOrigins is a comma-separated list of allowed browser origins.
	CORSOrigins string `koanf:"cors_origins"`

	// MaxBatchSize caps the number of records accepted by one POST /results.
	MaxBatchSize int `koanf:"max_batch_size"`

	// ServerURL is the base URL the client agent pushes to.
	ServerURL string `koanf:"server_url"`

	// CacheBackend selects the durable local cache: file, leveldb or memory.
	CacheBackend string `koanf:"cache_backend"`

	// CacheDir is where the file and leveldb backends keep their data.
	CacheDir string `koanf:"cache_dir"`

	// SyncInterval is the periodic sync trigger period.
	SyncInterval time.Duration `koanf:"sync_interval"`

	// ProbeInterval is how often connectivity is re-checked.
	ProbeInterval time.Duration `koanf:"probe_interval"`

	// PushTimeout bounds one push request; zero means no timeout.
	PushTimeout time.Duration `koanf:"push_timeout"`

	// PushRetryMax is the number of in-request transport retries.
	PushRetryMax int `koanf:"push_retry_max"`

	// MetricsAddr, when set, exposes the client agent's metrics.
	MetricsAddr string `koanf:"metrics_addr"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:      "info",
		LogFormat:     "text",
		Addr:          ":8080",
		DBDriver:      DriverSQLite,
		DBDSN:         "race_results.db",
		CORSOrigins:   "*",
		MaxBatchSize:  10_000,
		ServerURL:     "http://localhost:8080",
		CacheBackend:  CacheBackendFile,
		CacheDir:      ".speedsync",
		SyncInterval:  30 * time.Second,
		ProbeInterval: 5 * time.Second,
		PushTimeout:   0,
		PushRetryMax:  0,
	}
}

// AllowedOrigins splits CORSOrigins into a trimmed, non-empty list.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.DBDriver != DriverSQLite && c.DBDriver != DriverPostgres:
		return fmt.Errorf("%w: unknown db_driver %q", ErrInvalidConfig, c.DBDriver)
	case c.DBDSN == "":
		return fmt.Errorf("%w: db_dsn must not be empty", ErrInvalidConfig)
	case c.MaxBatchSize < 1:
		return fmt.Errorf("%w: max_batch_size must be positive", ErrInvalidConfig)
	case c.ServerURL == "":
		return fmt.Errorf("%w: server_url must not be empty", ErrInvalidConfig)
	case c.CacheBackend != CacheBackendFile && c.CacheBackend != CacheBackendLevelDB && c.CacheBackend != CacheBackendMemory:
		return fmt.Errorf("%w: unknown cache_backend %q", ErrInvalidConfig, c.CacheBackend)
	case c.CacheBackend != CacheBackendMemory && c.CacheDir == "":
		return fmt.Errorf("%w: cache_dir must not be empty", ErrInvalidConfig)
	case c.SyncInterval <= 0:
		return fmt.Errorf("%w: sync_interval must be positive", ErrInvalidConfig)
	case c.ProbeInterval <= 0:
		return fmt.Errorf("%w: probe_interval must be positive", ErrInvalidConfig)
	case c.PushTimeout < 0:
		return fmt.Errorf("%w: push_timeout must not be negative", ErrInvalidConfig)
	case c.PushRetryMax < 0:
		return fmt.Errorf("%w: push_retry_max must not be negative", ErrInvalidConfig)
	}
	return nil
}
