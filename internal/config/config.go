// Package config loads the YAML configuration for the broker binary and
// resolves the single environment-variable override for the broker's
// listen/connect address.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EnvServerAddress is the one environment variable this system recognizes.
// When set, it overrides BrokerConfig.Address for both the broker's bind
// address and every client-library connect call. Grounded in
// original_source/src/lib.rs's ENV_SERVER_ADDRESS/SERVER_ADDRESS constants.
const EnvServerAddress = "IPC_SERVER_ADDRESS"

// DefaultAddress is the broker's listen/connect address when neither a
// config file nor EnvServerAddress supplies one.
const DefaultAddress = "127.0.0.1:1986"

// Config is the top-level shape of the broker's YAML configuration file.
type Config struct {
	AppName string       `yaml:"app_name"`
	Debug   bool         `yaml:"debug"`
	Broker  BrokerConfig `yaml:"broker"`
}

// BrokerConfig configures the listener. The framing chunk size
// (internal/wire.ChunkSize) is not configurable here: it is fixed
// protocol-wide for the broker and every client, not a per-deployment
// tunable (see internal/wire/framing.go).
type BrokerConfig struct {
	Address string `yaml:"address"`
	Debug   bool   `yaml:"debug"`
}

// Load reads and parses a YAML config file, applies defaults for any unset
// field, then applies the EnvServerAddress override (which always wins
// over both the file and the defaults, matching the reference client and
// server's env::var(...).unwrap_or(SERVER_ADDRESS) precedence).
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", filename, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filename, err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the hardcoded configuration used when no config file is
// given, matching the teacher's getDefaultConfig() fallback shape.
func Default() *Config {
	cfg := &Config{AppName: "ipc-broker", Debug: false}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Broker.Address == "" {
		cfg.Broker.Address = DefaultAddress
	}
	if addr, ok := os.LookupEnv(EnvServerAddress); ok && addr != "" {
		cfg.Broker.Address = addr
	}
}

// ResolveAddress returns the address a client library should connect to:
// EnvServerAddress if set, else the given fallback, else DefaultAddress.
// Client façades that have no config file to load call this directly.
func ResolveAddress(fallback string) string {
	if addr, ok := os.LookupEnv(EnvServerAddress); ok && addr != "" {
		return addr
	}
	if fallback != "" {
		return fallback
	}
	return DefaultAddress
}
