// Package config provides centralized configuration management for sitewire.
// It implements a three-layer config pattern on top of viper:
// Layer 1: Embedded defaults (defaults.yaml)
// Layer 2: User config file discovered via gofulmen/config XDG paths
// Layer 3: .env files, environment variables and runtime overrides
package config

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Application identity used for paths and environment variables.
const (
	AppName   = "sitewire"
	EnvPrefix = "SITEWIRE_"
)

// Base URL defaults per build mode.
const (
	ProductionBaseURL  = "https://api.sitewire.io/api"
	DevelopmentBaseURL = "http://localhost:5000/api"
)

// BuildMode is the mode baked into the binary at link time
// (-ldflags "-X github.com/sitewire/sitewire/internal/config.BuildMode=production").
var BuildMode = ModeDevelopment

//go:embed defaults.yaml
var defaultsYAML []byte

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	// ConfigFile replaces XDG discovery. A missing explicit file is an error.
	ConfigFile string

	// EnvFiles are loaded into the process environment before overrides are
	// read. Missing files are skipped. Nil means ".env" in the working
	// directory.
	EnvFiles []string

	// Overrides have the highest precedence (typically CLI flags).
	Overrides []map[string]any
}

// Load loads configuration using the three-layer pattern.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultsYAML)); err != nil {
		return nil, fmt.Errorf("failed to read embedded defaults: %w", err)
	}

	configFile, explicit := strings.TrimSpace(opts.ConfigFile), true
	if configFile == "" {
		configFile, explicit = DefaultConfigPath(), false
	}
	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil || explicit {
			v.SetConfigFile(configFile)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
			}
		}
	}

	if err := loadEnvFiles(opts.EnvFiles); err != nil {
		return nil, err
	}

	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if len(envOverrides) > 0 {
		if err := v.MergeConfigMap(envOverrides); err != nil {
			return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
		}
	}

	for _, overrides := range opts.Overrides {
		if len(overrides) == 0 {
			continue
		}
		if err := v.MergeConfigMap(overrides); err != nil {
			return nil, fmt.Errorf("failed to apply runtime overrides: %w", err)
		}
	}

	cfg, err := decode(v.AllSettings())
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

func decode(settings map[string]any) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

func loadEnvFiles(files []string) error {
	if files == nil {
		files = []string{".env"}
	}
	for _, file := range files {
		file = strings.TrimSpace(file)
		if file == "" {
			continue
		}
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", file, err)
		}
	}
	return nil
}

// Validate checks values the rest of the application relies on.
func (c *Config) Validate() error {
	var errs []error

	switch c.Mode {
	case "", ModeDevelopment, ModeProduction:
	default:
		errs = append(errs, fmt.Errorf("mode must be %q or %q, got %q", ModeDevelopment, ModeProduction, c.Mode))
	}

	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("api.timeout must be positive"))
	}
	if c.API.RequestDelay <= 0 {
		errs = append(errs, errors.New("api.request_delay must be positive"))
	}
	if base := strings.TrimSpace(c.API.BaseURL); base != "" {
		parsed, err := url.Parse(base)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("api.base_url must be an absolute http(s) URL, got %q", base))
		}
	}

	if c.Analytics.PageViewDelay < 0 {
		errs = append(errs, errors.New("analytics.page_view_delay must not be negative"))
	}

	switch c.Session.Storage {
	case StorageMemory, StorageStore:
	default:
		errs = append(errs, fmt.Errorf("session.storage must be %q or %q, got %q", StorageMemory, StorageStore, c.Session.Storage))
	}

	return errors.Join(errs...)
}

// EffectiveMode returns the configured mode or the build mode.
func (c *Config) EffectiveMode() string {
	if c != nil && strings.TrimSpace(c.Mode) != "" {
		return c.Mode
	}
	return BuildMode
}

// DevMode reports whether development diagnostics are enabled.
func (c *Config) DevMode() bool {
	return c.EffectiveMode() != ModeProduction
}

// ResolveBaseURL picks the transport base URL: explicit override first,
// then the default for the effective mode.
func ResolveBaseURL(cfg *Config) string {
	if cfg != nil {
		if base := strings.TrimRight(strings.TrimSpace(cfg.API.BaseURL), "/"); base != "" {
			return base
		}
	}
	if cfg.EffectiveMode() == ModeProduction {
		return ProductionBaseURL
	}
	return DevelopmentBaseURL
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// getEnvSpecs returns environment variable specifications for config mapping
// Maps {PREFIX}{NAME} environment variables to config paths
func getEnvSpecs() []EnvVarSpec {
	prefix := EnvPrefix

	return []EnvVarSpec{
		{Name: prefix + "MODE", Path: []string{"mode"}, Type: EnvString},

		// Request client
		{Name: prefix + "API_URL", Path: []string{"api", "base_url"}, Type: EnvString},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "API_TIMEOUT", Path: []string{"api", "timeout"}, Type: EnvString},
		{Name: prefix + "REQUEST_DELAY", Path: []string{"api", "request_delay"}, Type: EnvString},
		{Name: prefix + "USER_AGENT", Path: []string{"api", "user_agent"}, Type: EnvString},

		// Analytics
		{Name: prefix + "ANALYTICS_ENABLED", Path: []string{"analytics", "enabled"}, Type: EnvBool},
		{Name: prefix + "MEASUREMENT_ID", Path: []string{"analytics", "measurement_id"}, Type: EnvString},
		{Name: prefix + "PIXEL_ID", Path: []string{"analytics", "pixel_id"}, Type: EnvString},
		{Name: prefix + "PAGE_VIEW_DELAY", Path: []string{"analytics", "page_view_delay"}, Type: EnvString},
		{Name: prefix + "ANALYTICS_DEBUG", Path: []string{"analytics", "debug"}, Type: EnvBool},

		// Session
		{Name: prefix + "SESSION_STORAGE", Path: []string{"session", "storage"}, Type: EnvString},

		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},

		// Logging config
		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Store config
		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},

		// Metrics config
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		// Health config
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},

		// Debug config
		{Name: prefix + "DEBUG_ENABLED", Path: []string{"debug", "enabled"}, Type: EnvBool},
	}
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(AppName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	return gfconfig.GetAppDataDir(AppName)
}

// DefaultStorePath returns the XDG-compliant path to the session database.
func DefaultStorePath() string {
	dataDir := DefaultDataDir()
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}
