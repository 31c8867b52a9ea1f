// ABOUTME: Configuration loading and parsing for gadu-bridge
// ABOUTME: Supports YAML files with environment variable expansion

package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gadu-bridge configuration
type Config struct {
	Account   AccountConfig   `yaml:"account"`
	Server    ServerConfig    `yaml:"server"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Roster    RosterConfig    `yaml:"roster"`
	Frontends FrontendsConfig `yaml:"frontends"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AccountConfig holds the protocol account credentials
type AccountConfig struct {
	UIN            uint32 `yaml:"uin"`
	Password       string `yaml:"password"`
	ExportContacts bool   `yaml:"export_contacts"`
}

// ServerConfig holds the protocol server selection. When UseSpecifiedServer
// is set, Addr is used verbatim and endpoint discovery is skipped.
type ServerConfig struct {
	Addr               string `yaml:"addr"`
	UseTLS             bool   `yaml:"use_tls"`
	UseSpecifiedServer bool   `yaml:"use_specified_server"`
}

// DiscoveryConfig holds endpoint discovery configuration. An empty URL
// means the well-known production hub.
type DiscoveryConfig struct {
	URL string `yaml:"url"`
}

// RosterConfig holds contact-list persistence configuration
type RosterConfig struct {
	Path string `yaml:"path"`
}

// FrontendsConfig holds configuration for all frontend integrations
type FrontendsConfig struct {
	Matrix MatrixConfig `yaml:"matrix"`
}

// MatrixConfig holds Matrix relay configuration
type MatrixConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Homeserver    string `yaml:"homeserver"`
	UserID        string `yaml:"user_id"`
	AccessToken   string `yaml:"access_token"`
	RoomID        string `yaml:"room_id"`
	CommandPrefix string `yaml:"command_prefix"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Roster.Path == "" {
		c.Roster.Path = "gadu-bridge.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Frontends.Matrix.CommandPrefix == "" {
		c.Frontends.Matrix.CommandPrefix = "!gg"
	}
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
	if c.Account.UIN == 0 {
		return fmt.Errorf("account.uin is required")
	}
	if c.Account.Password == "" {
		return fmt.Errorf("account.password is required")
	}

	if c.Server.UseSpecifiedServer && c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required when use_specified_server is set")
	}

	if c.Frontends.Matrix.Enabled {
		if c.Frontends.Matrix.Homeserver == "" {
			return fmt.Errorf("frontends.matrix.homeserver is required when matrix is enabled")
		}
		if c.Frontends.Matrix.UserID == "" {
			return fmt.Errorf("frontends.matrix.user_id is required when matrix is enabled")
		}
		if c.Frontends.Matrix.AccessToken == "" {
			return fmt.Errorf("frontends.matrix.access_token is required when matrix is enabled")
		}
		if c.Frontends.Matrix.RoomID == "" {
			return fmt.Errorf("frontends.matrix.room_id is required when matrix is enabled")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}

	return nil
}
