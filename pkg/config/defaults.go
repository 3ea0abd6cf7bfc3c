package config

import (
	"strings"
	"time"

	"github.com/getmanbill/fusion360-mcp/internal/protocol/mcp"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields.
//
// Zero values (0, "", nil) are replaced with defaults; explicit values are
// preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyDispatcherDefaults(&cfg.Dispatcher)
	applySnapshotDefaults(&cfg.Snapshot)

	if cfg.Document.Name == "" {
		cfg.Document.Name = "Untitled"
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalized to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = mcp.DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = mcp.DefaultPort
	}
	if cfg.RequestBurst == 0 && cfg.RequestsPerSecond > 0 {
		cfg.RequestBurst = int(cfg.RequestsPerSecond * 2)
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyDispatcherDefaults(cfg *DispatcherConfig) {
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.SignalBuffer == 0 {
		cfg.SignalBuffer = 256
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 5 * time.Second
	}
}

func applySnapshotDefaults(cfg *SnapshotConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}
}
