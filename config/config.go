package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// Config supplies defaults for the CLI flags. Every field is optional;
// flags always win over file values.
type Config struct {
	Volume  *int   `yaml:"volume"`
	Lang    string `yaml:"lang"`
	Timeout int    `yaml:"timeout"`
	Device  string `yaml:"device"`
}

// DefaultPath returns the per-user config file location, honoring
// XDG_CONFIG_HOME.
func DefaultPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "sonosay", "config.yaml")
}

// Load reads the config file at path. A missing file just yields an
// empty config; an unreadable or malformed one is an error.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config; %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config; %w", err)
	}
	return cfg, nil
}
