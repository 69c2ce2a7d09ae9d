// ABOUTME: Configuration loading and parsing for sora-fleet
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete sora-fleet configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Fleet        FleetConfig        `yaml:"fleet"`
	Provisioning ProvisioningConfig `yaml:"provisioning"`
	Storage      StorageConfig      `yaml:"storage"`
	Output       OutputConfig       `yaml:"output"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds remote service endpoints
type ServerConfig struct {
	BaseURL      string `yaml:"base_url"`
	RegisterPath string `yaml:"register_path"`
}

// RegisterURL returns the full URL of the identity registration endpoint.
func (s ServerConfig) RegisterURL() string {
	return strings.TrimRight(s.BaseURL, "/") + s.RegisterPath
}

// FleetConfig holds per-agent scheduling and fleet orchestration settings
type FleetConfig struct {
	Count       int  `yaml:"count"`
	StopOnFirst bool `yaml:"stop_on_first"`
	Workers     int  `yaml:"workers"`

	BaseInterval   time.Duration `yaml:"-"`
	Tick           time.Duration `yaml:"-"`
	ConnectStagger time.Duration `yaml:"-"`
	SettleDelay    time.Duration `yaml:"-"`
	DrainTimeout   time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	BaseIntervalRaw   string `yaml:"base_interval"`
	TickRaw           string `yaml:"tick"`
	ConnectStaggerRaw string `yaml:"connect_stagger"`
	SettleDelayRaw    string `yaml:"settle_delay"`
	DrainTimeoutRaw   string `yaml:"drain_timeout"`
}

// ProvisioningConfig holds identity registration settings
type ProvisioningConfig struct {
	Workers int `yaml:"workers"`

	RetryInterval  time.Duration `yaml:"-"`
	RequestTimeout time.Duration `yaml:"-"`

	RetryIntervalRaw  string `yaml:"retry_interval"`
	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// StorageConfig holds the persisted file paths
type StorageConfig struct {
	IdentityCache string `yaml:"identity_cache"`
	DiscoveryLog  string `yaml:"discovery_log"`
}

// OutputConfig holds discovery output settings
type OutputConfig struct {
	Clipboard bool `yaml:"clipboard"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration. These values mirror the
// behavior of the service's reference client: a 1s base poll interval,
// 50ms scheduling tick, 10ms connect stagger, and pools of 50 workers.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:      "https://server.escaping.work",
			RegisterPath: "/register",
		},
		Fleet: FleetConfig{
			Count:          50,
			StopOnFirst:    true,
			Workers:        50,
			BaseInterval:   time.Second,
			Tick:           50 * time.Millisecond,
			ConnectStagger: 10 * time.Millisecond,
			SettleDelay:    time.Second,
			DrainTimeout:   5 * time.Second,
		},
		Provisioning: ProvisioningConfig{
			Workers:        50,
			RetryInterval:  time.Second,
			RequestTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			IdentityCache: "user_ids.json",
			DiscoveryLog:  "codes.txt",
		},
		Output: OutputConfig{
			Clipboard: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Fields absent from the file keep their defaults. Environment
// variables in the format ${VAR_NAME} are expanded. Duration strings are
// parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if _, err := url.Parse(c.Server.BaseURL); err != nil {
		return fmt.Errorf("server.base_url is not a valid URL: %w", err)
	}

	if c.Fleet.Count < 0 {
		return fmt.Errorf("fleet.count must not be negative")
	}
	if c.Fleet.Workers <= 0 {
		return fmt.Errorf("fleet.workers must be positive")
	}
	if c.Provisioning.Workers <= 0 {
		return fmt.Errorf("provisioning.workers must be positive")
	}

	if c.Fleet.BaseInterval <= 0 {
		return fmt.Errorf("fleet.base_interval must be positive")
	}
	if c.Fleet.Tick <= 0 {
		return fmt.Errorf("fleet.tick must be positive")
	}
	if c.Fleet.DrainTimeout <= 0 {
		return fmt.Errorf("fleet.drain_timeout must be positive")
	}
	if c.Provisioning.RetryInterval <= 0 {
		return fmt.Errorf("provisioning.retry_interval must be positive")
	}

	if c.Storage.IdentityCache == "" {
		return fmt.Errorf("storage.identity_cache is required")
	}
	if c.Storage.DiscoveryLog == "" {
		return fmt.Errorf("storage.discovery_log is required")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"fleet.base_interval", cfg.Fleet.BaseIntervalRaw, &cfg.Fleet.BaseInterval},
		{"fleet.tick", cfg.Fleet.TickRaw, &cfg.Fleet.Tick},
		{"fleet.connect_stagger", cfg.Fleet.ConnectStaggerRaw, &cfg.Fleet.ConnectStagger},
		{"fleet.settle_delay", cfg.Fleet.SettleDelayRaw, &cfg.Fleet.SettleDelay},
		{"fleet.drain_timeout", cfg.Fleet.DrainTimeoutRaw, &cfg.Fleet.DrainTimeout},
		{"provisioning.retry_interval", cfg.Provisioning.RetryIntervalRaw, &cfg.Provisioning.RetryInterval},
		{"provisioning.request_timeout", cfg.Provisioning.RequestTimeoutRaw, &cfg.Provisioning.RequestTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
