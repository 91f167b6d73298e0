// Package config loads the application configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main application configuration.
type Config struct {
	Settings Settings       `yaml:"settings"`
	Identity IdentityConfig `yaml:"identity"`
	Store    StoreConfig    `yaml:"store"`
	Vehicle  VehicleConfig  `yaml:"vehicle"`
	Journal  JournalConfig  `yaml:"journal"`
}

// Settings represents global application settings.
type Settings struct {
	LogLevel   string `yaml:"logLevel"`
	SessionDir string `yaml:"sessionDir"`
}

// IdentityConfig points at the identity provider.
type IdentityConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"apiKey"`
}

// StoreConfig points at the shared document store.
type StoreConfig struct {
	ProjectID  string   `yaml:"projectId"`
	BaseURL    string   `yaml:"baseUrl"`
	PushPeriod Duration `yaml:"pushPeriod"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "3s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// VehicleConfig points at the onboard vehicle bridge.
type VehicleConfig struct {
	BridgeAddr string `yaml:"bridgeAddr"`
}

// JournalConfig configures the local capture journal.
type JournalConfig struct {
	Path    string `yaml:"path"`
	Enabled bool   `yaml:"enabled"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Settings: Settings{LogLevel: "info"},
		Store:    StoreConfig{PushPeriod: Duration(3 * time.Second)},
		Vehicle:  VehicleConfig{BridgeAddr: "http://127.0.0.1:8070"},
	}
}

// Load reads a YAML config file, layering it over the defaults. An empty path
// returns the defaults untouched.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Store.PushPeriod <= 0 {
		cfg.Store.PushPeriod = Duration(3 * time.Second)
	}
	return cfg, nil
}
