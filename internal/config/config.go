package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where chefq looks for its config when --config is not given.
const DefaultPath = "/etc/chefq/config.yaml"

// Config holds all chefq configuration.
type Config struct {
	// Location of the chef bootstrap file.
	FirstBootPath string `yaml:"first_boot_path" toml:"first_boot_path" env:"CHEFQ_FIRST_BOOT_PATH"`

	// Strict enables bracket validation of run list items.
	Strict bool `yaml:"strict" toml:"strict" env:"CHEFQ_STRICT"`

	Output  OutputConfig  `yaml:"output" toml:"output"`
	Store   StoreConfig   `yaml:"store" toml:"store"`
	Watch   WatchConfig   `yaml:"watch" toml:"watch"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

// OutputConfig configures rendering.
type OutputConfig struct {
	Format string `yaml:"format" toml:"format" env:"CHEFQ_OUTPUT_FORMAT"` // table, json, markdown, csv
}

// StoreConfig configures the snapshot history database.
type StoreConfig struct {
	Enabled      bool   `yaml:"enabled" toml:"enabled" env:"CHEFQ_STORE_ENABLED"`
	DatabasePath string `yaml:"database_path" toml:"database_path" env:"CHEFQ_DB_PATH"`
}

// WatchConfig configures the first-boot watcher.
type WatchConfig struct {
	Debounce string `yaml:"debounce" toml:"debounce" env:"CHEFQ_WATCH_DEBOUNCE"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level" toml:"level" env:"CHEFQ_LOG_LEVEL"`    // debug, info, warn, error
	Format     string          `yaml:"format" toml:"format" env:"CHEFQ_LOG_FORMAT"` // json, console
	File       string          `yaml:"file" toml:"file"`
	Categories map[string]bool `yaml:"categories" toml:"categories"`
}

// ValidFormats lists the supported output formats.
var ValidFormats = []string{"table", "json", "markdown", "csv"}

// ValidLogLevels lists the supported log levels.
var ValidLogLevels = []string{"debug", "info", "warn", "warning", "error"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		FirstBootPath: "/etc/chef/first-boot.json",
		Output: OutputConfig{
			Format: "table",
		},
		Store: StoreConfig{
			Enabled:      false,
			DatabasePath: "/var/lib/chefq/chefq.db",
		},
		Watch: WatchConfig{
			Debounce: "500ms",
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML (or, by extension, TOML) file, then
// applies environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves configuration to a YAML file, or TOML when path ends in .toml.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := encode(path, c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies CHEFQ_* environment variables on top of the
// file values. Unset variables leave fields untouched.
func (c *Config) applyEnvOverrides() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.FirstBootPath == "" {
		return fmt.Errorf("first_boot_path must not be empty")
	}
	if !contains(ValidFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (valid: %v)", c.Output.Format, ValidFormats)
	}
	if !contains(ValidLogLevels, c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (valid: %v)", c.Logging.Level, ValidLogLevels)
	}
	if c.Store.Enabled && c.Store.DatabasePath == "" {
		return fmt.Errorf("store.database_path required when store is enabled")
	}
	if _, err := c.DebounceDuration(); err != nil {
		return err
	}
	return nil
}

// DebounceDuration parses the watch debounce.
func (c *Config) DebounceDuration() (time.Duration, error) {
	if c.Watch.Debounce == "" {
		return 500 * time.Millisecond, nil
	}
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil {
		return 0, fmt.Errorf("invalid watch.debounce %q: %w", c.Watch.Debounce, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("watch.debounce must not be negative")
	}
	return d, nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func decode(path string, data []byte, c *Config) error {
	if isTOML(path) {
		return toml.Unmarshal(data, c)
	}
	return yaml.Unmarshal(data, c)
}

func encode(path string, c *Config) ([]byte, error) {
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return yaml.Marshal(c)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
