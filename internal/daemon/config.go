// Package daemon manages the Lumen daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	Listen    ListenConfig    `toml:"listen"`
	Limits    LimitsConfig    `toml:"limits"`
	Trust     TrustConfig     `toml:"trust"`
	Journal   JournalConfig   `toml:"journal"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Logging   LoggingConfig   `toml:"logging"`
}

// NodeConfig identifies this rendezvous node.
type NodeConfig struct {
	ID      string `toml:"id"`
	Country string `toml:"country"`
}

// ListenConfig controls the HTTP/websocket listener.
type ListenConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// LimitsConfig controls abuse thresholds.
type LimitsConfig struct {
	MaxMessageSize   int64  `toml:"max_message_size"`
	MessageRate      int    `toml:"message_rate"`
	MessageWindow    string `toml:"message_window"`
	ConnectionRate   int    `toml:"connection_rate"`
	ConnectionWindow string `toml:"connection_window"`
	MaxPeers         int    `toml:"max_peers"`
}

// TrustConfig controls the challenge handshake.
type TrustConfig struct {
	ChallengeTTL string `toml:"challenge_ttl"`
}

// JournalConfig controls the on-disk event journal.
type JournalConfig struct {
	Enabled   bool   `toml:"enabled"`
	Retention string `toml:"retention"`
}

// TelemetryConfig controls the metrics endpoint.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Node: NodeConfig{
			Country: "",
		},
		Listen: ListenConfig{
			Host: "0.0.0.0",
			Port: 8765,
		},
		Limits: LimitsConfig{
			MaxMessageSize:   8192,
			MessageRate:      50,
			MessageWindow:    "60s",
			ConnectionRate:   10,
			ConnectionWindow: "60s",
			MaxPeers:         10000,
		},
		Trust: TrustConfig{
			ChallengeTTL: "5m",
		},
		Journal: JournalConfig{
			Enabled:   true,
			Retention: "168h", // one week
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(lumenHome(), "lumen.log"),
		},
	}
}

// LoadConfig reads config from ~/.lumen/config.toml, falling back to defaults.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(lumenHome(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // No config file yet — use defaults
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes the config to ~/.lumen/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(lumenHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// lumenHome returns the Lumen data directory.
func lumenHome() string {
	if env := os.Getenv("LUMEN_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".lumen")
}

// LumenHome is exported for use by other packages.
func LumenHome() string {
	return lumenHome()
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
