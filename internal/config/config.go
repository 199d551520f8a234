// Package config reads the repository configuration file.
package config

import (
	"errors"
	"io/fs"
	"os"

	"gopkg.in/yaml.v2"
)

// Config is the per-repository configuration. Every field has a
// usable default; a missing file is not an error.
type Config struct {
	AuthorName     string `yaml:"authorName"`
	AuthorFullName string `yaml:"authorFullName"`
	AuthorEmail    string `yaml:"authorEmail"`
	DefaultChannel string `yaml:"defaultChannel"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		AuthorName:     "anonymous",
		DefaultChannel: "main",
	}
}

// Load reads the YAML config at path, filling unset fields with
// defaults. A missing file yields Default().
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.AuthorName == "" {
		cfg.AuthorName = "anonymous"
	}
	if cfg.DefaultChannel == "" {
		cfg.DefaultChannel = "main"
	}
	return cfg, nil
}

// Save writes cfg as YAML to path.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
