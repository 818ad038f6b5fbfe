package config

import (
	"time"
)

// Build modes.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// Session storage backends.
const (
	StorageMemory = "memory"
	StorageStore  = "store"
)

// Config represents the complete application configuration. Layers, lowest
// precedence first:
// Layer 1: Embedded defaults (defaults.yaml)
// Layer 2: User config file (~/.config/sitewire/config.yaml or --config)
// Layer 3: .env files, environment variables and runtime overrides
type Config struct {
	// Mode selects production or development behavior. Empty means the
	// build mode baked into the binary.
	Mode string `mapstructure:"mode"`

	API       APIConfig       `mapstructure:"api"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Session   SessionConfig   `mapstructure:"session"`
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
	Debug     DebugConfig     `mapstructure:"debug"`
}

// APIConfig configures the request client.
type APIConfig struct {
	// BaseURL overrides the mode default when set.
	BaseURL string `mapstructure:"base_url"`

	Timeout      time.Duration `mapstructure:"timeout"`
	RequestDelay time.Duration `mapstructure:"request_delay"`
	UserAgent    string        `mapstructure:"user_agent"`
}

// AnalyticsConfig configures the analytics sinks.
type AnalyticsConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	MeasurementID string        `mapstructure:"measurement_id"`
	PixelID       string        `mapstructure:"pixel_id"`
	PageViewDelay time.Duration `mapstructure:"page_view_delay"`

	// Debug logs the failing check when tracking is skipped.
	Debug bool `mapstructure:"debug"`
}

// SessionConfig selects where browser-scoped state lives between runs.
type SessionConfig struct {
	// Storage is "memory" (ephemeral) or "store" (libsql file).
	Storage string `mapstructure:"storage"`

	// InitialPath is the route a new session starts on.
	InitialPath string `mapstructure:"initial_path"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug configuration
type DebugConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
