// ABOUTME: Configuration loading and parsing for qapictl
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Default values applied to fields left empty.
const (
	DefaultProtocol       = "qmp"
	DefaultNetwork        = "unix"
	DefaultDialTimeout    = 5 * time.Second
	DefaultCommandTimeout = 30 * time.Second
)

// ErrUnknownEndpoint is returned by Endpoint for names not in the file.
var ErrUnknownEndpoint = errors.New("unknown endpoint")

// Config represents the complete qapictl configuration
type Config struct {
	Endpoints map[string]*EndpointConfig `yaml:"endpoints" toml:"endpoints"`
	Logging   LoggingConfig              `yaml:"logging" toml:"logging"`
	Journal   JournalConfig              `yaml:"journal" toml:"journal"`
}

// EndpointConfig describes one QMP monitor or guest agent socket
type EndpointConfig struct {
	Protocol   string `yaml:"protocol" toml:"protocol"`
	Network    string `yaml:"network" toml:"network"`
	Address    string `yaml:"address" toml:"address"`
	DisableOOB bool   `yaml:"disable_oob" toml:"disable_oob"`

	DialTimeout    time.Duration `yaml:"-" toml:"-"`
	CommandTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	DialTimeoutRaw    string `yaml:"dial_timeout" toml:"dial_timeout"`
	CommandTimeoutRaw string `yaml:"command_timeout" toml:"command_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// JournalConfig holds the event and command journal configuration
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// DefaultPath resolves the config file location: $QAPI_CONFIG, then
// $XDG_CONFIG_HOME/qapi/config.yaml, then ~/.config/qapi/config.yaml.
func DefaultPath() string {
	if p := os.Getenv("QAPI_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "qapi", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "qapi", "config.yaml")
	}
	return filepath.Join(home, ".config", "qapi", "config.yaml")
}

// defaultJournalPath is $XDG_DATA_HOME/qapi/journal.db or its home fallback.
func defaultJournalPath() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "qapi", "journal.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "journal.db"
	}
	return filepath.Join(home, ".local", "share", "qapi", "journal.db")
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Endpoints == nil {
		c.Endpoints = make(map[string]*EndpointConfig)
	}
	for _, ep := range c.Endpoints {
		if ep == nil {
			continue
		}
		if ep.Protocol == "" {
			ep.Protocol = DefaultProtocol
		}
		if ep.Network == "" {
			ep.Network = DefaultNetwork
		}
		if ep.DialTimeout == 0 {
			ep.DialTimeout = DefaultDialTimeout
		}
		if ep.CommandTimeout == 0 {
			ep.CommandTimeout = DefaultCommandTimeout
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		c.Journal.Path = defaultJournalPath()
	}
}

// Validate checks that all configuration fields are valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	for _, name := range c.EndpointNames() {
		ep := c.Endpoints[name]
		if ep == nil {
			return fmt.Errorf("endpoints.%s is empty", name)
		}
		switch ep.Protocol {
		case "qmp", "qga":
		default:
			return fmt.Errorf("endpoints.%s.protocol must be qmp or qga, got %q", name, ep.Protocol)
		}
		switch ep.Network {
		case "unix", "tcp", "tcp4", "tcp6":
		default:
			return fmt.Errorf("endpoints.%s.network must be unix or tcp, got %q", name, ep.Network)
		}
		if ep.Address == "" {
			return fmt.Errorf("endpoints.%s.address is required", name)
		}
		if ep.DialTimeout < 0 || ep.CommandTimeout < 0 {
			return fmt.Errorf("endpoints.%s timeouts must not be negative", name)
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required when the journal is enabled")
	}

	return nil
}

// Endpoint returns the named endpoint.
func (c *Config) Endpoint(name string) (*EndpointConfig, error) {
	ep, ok := c.Endpoints[name]
	if !ok || ep == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEndpoint, name)
	}
	return ep, nil
}

// JournalPath returns the configured journal path, or the default location
// when none is set. Reading history does not require the journal to be enabled.
func (c *Config) JournalPath() string {
	if c.Journal.Path != "" {
		return c.Journal.Path
	}
	return defaultJournalPath()
}

// EndpointNames returns the endpoint names in sorted order.
func (c *Config) EndpointNames() []string {
	names := make([]string, 0, len(c.Endpoints))
	for name := range c.Endpoints {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	for name, ep := range cfg.Endpoints {
		if ep == nil {
			continue
		}
		if ep.DialTimeoutRaw != "" {
			ep.DialTimeout, err = time.ParseDuration(ep.DialTimeoutRaw)
			if err != nil {
				return fmt.Errorf("parsing endpoints.%s.dial_timeout %q: %w", name, ep.DialTimeoutRaw, err)
			}
		}
		if ep.CommandTimeoutRaw != "" {
			ep.CommandTimeout, err = time.ParseDuration(ep.CommandTimeoutRaw)
			if err != nil {
				return fmt.Errorf("parsing endpoints.%s.command_timeout %q: %w", name, ep.CommandTimeoutRaw, err)
			}
		}
	}

	return nil
}
