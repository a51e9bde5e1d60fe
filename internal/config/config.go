// Package config provides configuration management for the index filesystem.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete mount configuration.
type Config struct {
	Repository RepositoryConfig `yaml:"repository"`
	Mount      MountConfig      `yaml:"mount"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// RepositoryConfig locates the repository whose index is mounted.
type RepositoryConfig struct {
	Root string `yaml:"root"`
}

// MountConfig holds FUSE mount configuration.
type MountConfig struct {
	MountPoint   string `yaml:"mount_point"`
	FsName       string `yaml:"fs_name"`
	AllowOther   bool   `yaml:"allow_other"`
	EntryTimeout string `yaml:"entry_timeout"`
	AttrTimeout  string `yaml:"attr_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	FuseDebug bool   `yaml:"fuse_debug"`
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Repository: RepositoryConfig{
			Root: ".",
		},
		Mount: MountConfig{
			FsName:       "gitindexfs",
			EntryTimeout: "1s",
			AttrTimeout:  "1s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadOrDefault loads configuration from a file, or returns default if file doesn't exist.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// GetEntryTimeout returns the kernel entry cache timeout.
func (c *MountConfig) GetEntryTimeout() time.Duration {
	d, err := time.ParseDuration(c.EntryTimeout)
	if err != nil {
		return time.Second
	}
	return d
}

// GetAttrTimeout returns the kernel attribute cache timeout.
func (c *MountConfig) GetAttrTimeout() time.Duration {
	d, err := time.ParseDuration(c.AttrTimeout)
	if err != nil {
		return time.Second
	}
	return d
}
