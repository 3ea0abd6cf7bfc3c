package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete bridge configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (FUSIONMCP_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains TCP listener settings
	Server ServerConfig `mapstructure:"server"`

	// Dispatcher contains cross-thread call marshaling settings
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`

	// Snapshot specifies the snapshot store type and type-specific
	// configuration
	Snapshot SnapshotConfig `mapstructure:"snapshot"`

	// Document contains the initial document settings
	Document DocumentConfig `mapstructure:"document"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains TCP listener settings.
type ServerConfig struct {
	// Host is the interface to bind. Defaults to localhost; binding wider
	// than loopback exposes the scripting surface to the network.
	Host string `mapstructure:"host" validate:"required"`

	// Port is the TCP port to listen on. 0 asks the OS for an ephemeral
	// port.
	Port int `mapstructure:"port" validate:"gte=0,lte=65535"`

	// MaxConnections caps concurrent client connections. 0 means
	// unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"gte=0"`

	// RequestsPerSecond rate-limits each connection. 0 disables limiting.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`

	// RequestBurst is the per-connection burst allowance.
	RequestBurst int `mapstructure:"request_burst" validate:"gte=0"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// DispatcherConfig contains cross-thread call marshaling settings.
type DispatcherConfig struct {
	// CallTimeout is how long a connection worker waits for the main loop
	// to execute its call.
	CallTimeout time.Duration `mapstructure:"call_timeout" validate:"required,gt=0"`

	// SignalBuffer is the capacity of the dispatch signal channel.
	SignalBuffer int `mapstructure:"signal_buffer" validate:"gte=0"`

	// SweepInterval is how often abandoned call records are evicted.
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gte=0"`
}

// SnapshotConfig specifies snapshot store configuration.
//
// The Type field determines which store implementation is used. Only the
// corresponding type-specific section is read.
type SnapshotConfig struct {
	// Type specifies which snapshot store implementation to use
	// Valid values: memory, badger, s3
	Type string `mapstructure:"type" validate:"required,oneof=memory badger s3"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3"`
}

// DocumentConfig contains the initial document settings.
type DocumentConfig struct {
	// Name is the name of the design document the bridge serves.
	Name string `mapstructure:"name"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures environment variables and config file lookup.
func setupViper(v *viper.Viper, configPath string) {
	// Example: FUSIONMCP_SERVER_PORT=9000
	v.SetEnvPrefix("FUSIONMCP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. A missing file
// is fine; defaults cover everything.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "fusionmcp")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "fusionmcp")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
