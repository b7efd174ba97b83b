// Package config handles global configuration for bibfill.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the configuration stored in ~/.config/bibfill/config.yml, with
// BIBFILL_* environment variables taking precedence over the file.
type Config struct {
	// CachePath is the SQLite cache file. Empty selects the default under
	// the user cache directory.
	CachePath string `yaml:"cache_path,omitempty"`

	// RequestsPerSecond and Burst shape the outbound request rate.
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
	Burst             int     `yaml:"burst,omitempty"`

	// MaxInflightRequests bounds concurrent outbound requests;
	// MaxConcurrentEntries bounds entries moving through the pipeline.
	MaxInflightRequests  int `yaml:"max_inflight_requests,omitempty"`
	MaxConcurrentEntries int `yaml:"max_concurrent_entries,omitempty"`

	// MaxRetries and RequestTimeoutSeconds govern a single resolution.
	MaxRetries            int `yaml:"max_retries,omitempty"`
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds,omitempty"`

	// Mailto is included in the User-Agent so the resolver operators can
	// reach us about traffic.
	Mailto string `yaml:"mailto,omitempty"`

	// EmptyOverride is "ignore" (default) or "suppress": whether an
	// explicitly empty user field drops the fetched value.
	EmptyOverride string `yaml:"empty_override,omitempty"`
}

const (
	// ConfigDir is the directory name under XDG_CONFIG_HOME.
	ConfigDir = "bibfill"
	// ConfigFile is the config file name.
	ConfigFile = "config.yml"
	// CacheFile is the default SQLite cache file name.
	CacheFile = "cache.db"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		RequestsPerSecond:     2,
		Burst:                 4,
		MaxInflightRequests:   4,
		MaxConcurrentEntries:  8,
		MaxRetries:            3,
		RequestTimeoutSeconds: 30,
		EmptyOverride:         "ignore",
	}
}

// Path returns the path to the config file. Respects XDG_CONFIG_HOME,
// defaults to ~/.config/bibfill/config.yml.
func Path() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, ConfigDir, ConfigFile)
}

// DefaultCachePath returns the cache file location under the user cache
// directory. Falls back to the working directory when the platform has no
// cache directory.
func DefaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".", ConfigDir, CacheFile)
	}
	return filepath.Join(dir, ConfigDir, CacheFile)
}

// Load reads the config file, layers environment variables on top, and fills
// unset values with defaults. A missing file is not an error.
func Load() (*Config, error) {
	// A .env in the working directory supplies env vars during
	// development; missing is fine.
	_ = godotenv.Load()

	cfg := Default()

	if path := Path(); path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults apply.
		case err != nil:
			return nil, fmt.Errorf("reading config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}

	applyEnv(cfg)

	if cfg.CachePath == "" {
		cfg.CachePath = DefaultCachePath()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges. Zero values have already been defaulted.
func (c *Config) Validate() error {
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive, got %g", c.RequestsPerSecond)
	}
	if c.Burst < 1 {
		return fmt.Errorf("burst must be at least 1, got %d", c.Burst)
	}
	if c.MaxInflightRequests < 1 {
		return fmt.Errorf("max_inflight_requests must be at least 1, got %d", c.MaxInflightRequests)
	}
	if c.MaxConcurrentEntries < 1 {
		return fmt.Errorf("max_concurrent_entries must be at least 1, got %d", c.MaxConcurrentEntries)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", c.MaxRetries)
	}
	if c.RequestTimeoutSeconds < 1 {
		return fmt.Errorf("request_timeout_seconds must be at least 1, got %d", c.RequestTimeoutSeconds)
	}
	switch c.EmptyOverride {
	case "", "ignore", "suppress":
	default:
		return fmt.Errorf("empty_override must be %q or %q, got %q", "ignore", "suppress", c.EmptyOverride)
	}
	return nil
}

// applyEnv overrides config values from BIBFILL_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("BIBFILL_CACHE_PATH"); v != "" {
		cfg.CachePath = v
	}
	if v := os.Getenv("BIBFILL_MAILTO"); v != "" {
		cfg.Mailto = v
	}
	if v := os.Getenv("BIBFILL_EMPTY_OVERRIDE"); v != "" {
		cfg.EmptyOverride = v
	}
	if v := os.Getenv("BIBFILL_REQUESTS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RequestsPerSecond = f
		}
	}
	envInt("BIBFILL_BURST", &cfg.Burst)
	envInt("BIBFILL_MAX_INFLIGHT_REQUESTS", &cfg.MaxInflightRequests)
	envInt("BIBFILL_MAX_CONCURRENT_ENTRIES", &cfg.MaxConcurrentEntries)
	envInt("BIBFILL_MAX_RETRIES", &cfg.MaxRetries)
	envInt("BIBFILL_REQUEST_TIMEOUT_SECONDS", &cfg.RequestTimeoutSeconds)
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
