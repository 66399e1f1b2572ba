package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Load reads a configuration file, applies environment overrides and
// validates the result. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, err
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile parses TOML or YAML into cfg based on the file extension.
// Unknown extensions are tried as TOML first, then YAML.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse TOML config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse YAML config: %w", err)
		}
	default:
		if tomlErr := toml.Unmarshal(data, cfg); tomlErr != nil {
			if yamlErr := yaml.Unmarshal(data, cfg); yamlErr != nil {
				return fmt.Errorf("parse config %s: %w", path, tomlErr)
			}
		}
	}

	return nil
}

// ApplyEnvOverrides overlays PROOFWRITE_* environment variables on the
// configuration. Only the settings an operator plausibly overrides per
// deployment are exposed.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PROOFWRITE_POLL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Monitor.PollMs = n
		}
	}
	if v := os.Getenv("PROOFWRITE_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("PROOFWRITE_STORAGE_TYPE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv("PROOFWRITE_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("PROOFWRITE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PROOFWRITE_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(defaultDataDir(), "config.toml")
}
