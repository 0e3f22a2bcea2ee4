package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/endpoint-selector/internal/endpoint"
)

const (
	defaultPort           = "8080"
	defaultRateLimitRPS   = 25.0
	defaultRateLimitBurst = 50
	defaultHostname       = "localhost"
	defaultStorageKey     = "endpointName"
	appDirName            = "endpoint-selector"
	storeFileName         = "endpoint.yaml"
)

// Store drivers.
const (
	StoreFile   = "file"
	StoreMemory = "memory"
)

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > YAML config > Environment variables > Defaults
type Config struct {
	Port                 string               `yaml:"port"`
	Environment          endpoint.Environment `yaml:"environment"`
	StoreDriver          string               `yaml:"store"`
	StorePath            string               `yaml:"store_path"`
	StorageKey           string               `yaml:"storage_key"`
	LoadTimeout          time.Duration        `yaml:"load_timeout"`
	PersistTimeout       time.Duration        `yaml:"persist_timeout"`
	ShutdownGracePeriod  time.Duration        `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    time.Duration        `yaml:"read_header_timeout"`
	WriteTimeout         time.Duration        `yaml:"write_timeout"`
	IdleTimeout          time.Duration        `yaml:"idle_timeout"`
	EnableRequestLogging bool                 `yaml:"enable_request_logging"`
	RateLimitRPS         float64              `yaml:"-"`
	RateLimitBurst       int                  `yaml:"-"`
}

// yamlConfig represents the YAML configuration file structure.
type yamlConfig struct {
	Port                 string        `yaml:"port"`
	Hostname             string        `yaml:"hostname"`
	PageURL              string        `yaml:"page_url"`
	Store                yamlStore     `yaml:"store"`
	LoadTimeout          string        `yaml:"load_timeout"`
	ShutdownGracePeriod  string        `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    string        `yaml:"read_header_timeout"`
	WriteTimeout         string        `yaml:"write_timeout"`
	IdleTimeout          string        `yaml:"idle_timeout"`
	EnableRequestLogging *bool         `yaml:"enable_request_logging"`
	RateLimit            yamlRateLimit `yaml:"rate_limit"`
}

// yamlStore represents the store section in YAML.
type yamlStore struct {
	Driver         string `yaml:"driver"`
	Path           string `yaml:"path"`
	Key            string `yaml:"key"`
	PersistTimeout string `yaml:"persist_timeout"`
}

// yamlRateLimit represents the rate limit section in YAML.
type yamlRateLimit struct {
	RPS   *float64 `yaml:"rps"`
	Burst *int     `yaml:"burst"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile     string
	Port           *string
	Hostname       *string
	PageURL        *string
	StoreDriver    *string
	StorePath      *string
	RateLimitRPS   *float64
	RateLimitBurst *int
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > YAML config > Environment variables > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	// Apply environment variables (lowest explicit source)
	applyEnvConfig(&cfg)

	// Load from YAML file if specified (overrides environment)
	if overrides != nil && overrides.ConfigFile != "" {
		yamlCfg, err := loadFromFile(overrides.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
		applyYAMLConfig(&cfg, yamlCfg)
	}

	// Apply CLI overrides (highest precedence)
	if overrides != nil {
		applyCLIOverrides(&cfg, overrides)
	}

	// Validate final configuration
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		Environment: endpoint.Environment{
			Hostname: defaultHostname,
		},
		StoreDriver:          StoreFile,
		StorePath:            DefaultStorePath(),
		StorageKey:           defaultStorageKey,
		LoadTimeout:          2 * time.Second,
		PersistTimeout:       5 * time.Second,
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		EnableRequestLogging: true,
		RateLimitRPS:         defaultRateLimitRPS,
		RateLimitBurst:       defaultRateLimitBurst,
	}
}

// DefaultStorePath returns <UserConfigDir>/endpoint-selector/endpoint.yaml,
// or a file in the working directory when no config dir is available.
func DefaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return storeFileName
	}
	return filepath.Join(dir, appDirName, storeFileName)
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &yamlCfg, nil
}

// applyYAMLConfig applies YAML configuration to the Config struct.
func applyYAMLConfig(cfg *Config, yamlCfg *yamlConfig) {
	if yamlCfg.Port != "" {
		cfg.Port = yamlCfg.Port
	}

	if yamlCfg.Hostname != "" {
		cfg.Environment.Hostname = yamlCfg.Hostname
	}

	if yamlCfg.PageURL != "" {
		cfg.Environment.PageURL = yamlCfg.PageURL
	}

	if yamlCfg.Store.Driver != "" {
		cfg.StoreDriver = strings.ToLower(yamlCfg.Store.Driver)
	}

	if yamlCfg.Store.Path != "" {
		cfg.StorePath = yamlCfg.Store.Path
	}

	if yamlCfg.Store.Key != "" {
		cfg.StorageKey = yamlCfg.Store.Key
	}

	applyDuration(&cfg.PersistTimeout, yamlCfg.Store.PersistTimeout)
	applyDuration(&cfg.LoadTimeout, yamlCfg.LoadTimeout)
	applyDuration(&cfg.ShutdownGracePeriod, yamlCfg.ShutdownGracePeriod)
	applyDuration(&cfg.ReadHeaderTimeout, yamlCfg.ReadHeaderTimeout)
	applyDuration(&cfg.WriteTimeout, yamlCfg.WriteTimeout)
	applyDuration(&cfg.IdleTimeout, yamlCfg.IdleTimeout)

	if yamlCfg.EnableRequestLogging != nil {
		cfg.EnableRequestLogging = *yamlCfg.EnableRequestLogging
	}

	if yamlCfg.RateLimit.RPS != nil && *yamlCfg.RateLimit.RPS >= 0 {
		cfg.RateLimitRPS = *yamlCfg.RateLimit.RPS
	}

	if yamlCfg.RateLimit.Burst != nil && *yamlCfg.RateLimit.Burst >= 0 {
		cfg.RateLimitBurst = *yamlCfg.RateLimit.Burst
	}
}

func applyDuration(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}

// applyEnvConfig applies environment variable configuration.
func applyEnvConfig(cfg *Config) {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		cfg.Port = port
	}

	if hostname := strings.TrimSpace(os.Getenv("PAGE_HOSTNAME")); hostname != "" {
		cfg.Environment.Hostname = hostname
	}

	if pageURL := strings.TrimSpace(os.Getenv("PAGE_URL")); pageURL != "" {
		cfg.Environment.PageURL = pageURL
	}

	if driver := strings.TrimSpace(os.Getenv("ENDPOINT_STORE")); driver != "" {
		cfg.StoreDriver = strings.ToLower(driver)
	}

	if path := strings.TrimSpace(os.Getenv("ENDPOINT_STORE_PATH")); path != "" {
		cfg.StorePath = path
	}

	if rps := strings.TrimSpace(os.Getenv("RATE_LIMIT_RPS")); rps != "" {
		if value, err := strconv.ParseFloat(rps, 64); err == nil && value >= 0 {
			cfg.RateLimitRPS = value
		}
	}

	if burst := strings.TrimSpace(os.Getenv("RATE_LIMIT_BURST")); burst != "" {
		if value, err := strconv.Atoi(burst); err == nil && value >= 0 {
			cfg.RateLimitBurst = value
		}
	}
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) {
	if overrides.Port != nil && *overrides.Port != "" {
		cfg.Port = *overrides.Port
	}

	if overrides.Hostname != nil && *overrides.Hostname != "" {
		cfg.Environment.Hostname = *overrides.Hostname
	}

	if overrides.PageURL != nil && *overrides.PageURL != "" {
		cfg.Environment.PageURL = *overrides.PageURL
	}

	if overrides.StoreDriver != nil && *overrides.StoreDriver != "" {
		cfg.StoreDriver = strings.ToLower(*overrides.StoreDriver)
	}

	if overrides.StorePath != nil && *overrides.StorePath != "" {
		cfg.StorePath = *overrides.StorePath
	}

	if overrides.RateLimitRPS != nil && *overrides.RateLimitRPS >= 0 {
		cfg.RateLimitRPS = *overrides.RateLimitRPS
	}

	if overrides.RateLimitBurst != nil && *overrides.RateLimitBurst >= 0 {
		cfg.RateLimitBurst = *overrides.RateLimitBurst
	}
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be >= 0")
	}
	switch cfg.StoreDriver {
	case StoreMemory:
	case StoreFile:
		if cfg.StorePath == "" {
			return fmt.Errorf("store path cannot be empty for the file store")
		}
	default:
		return fmt.Errorf("unknown store driver %q (allowed: %s, %s)", cfg.StoreDriver, StoreFile, StoreMemory)
	}
	if strings.TrimSpace(cfg.StorageKey) == "" {
		return fmt.Errorf("storage key cannot be empty")
	}
	if cfg.LoadTimeout <= 0 {
		return fmt.Errorf("load timeout must be positive")
	}
	if cfg.PersistTimeout <= 0 {
		return fmt.Errorf("persist timeout must be positive")
	}
	return nil
}
