// Package config loads and saves the dicomshelf YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete user configuration.
type Config struct {
	// DatabaseDirectory holds the index database.
	DatabaseDirectory string `yaml:"database_directory"`
	// TagsToPrecache are read during import and stored with every instance.
	TagsToPrecache []string `yaml:"tags_to_precache,omitempty"`
	// DisplayImportSummary prints a report after each import.
	DisplayImportSummary bool `yaml:"display_import_summary"`
	ThumbnailSize        int  `yaml:"thumbnail_size"`
	// AutoPlayInterval is a Go duration such as "200ms".
	AutoPlayInterval string `yaml:"auto_play_interval"`
	// Workers bounds concurrent file parsing. Zero means one per CPU.
	Workers int `yaml:"workers"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	dir := ".dicomshelf"
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".dicomshelf")
	}
	return Config{
		DatabaseDirectory:    dir,
		DisplayImportSummary: true,
		ThumbnailSize:        128,
		AutoPlayInterval:     "200ms",
	}
}

// Interval returns AutoPlayInterval as a duration.
func (c Config) Interval() (time.Duration, error) {
	if c.AutoPlayInterval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.AutoPlayInterval)
	if err != nil {
		return 0, fmt.Errorf("auto_play_interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("auto_play_interval: must be positive, got %s", d)
	}
	return d, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseDirectory == "" {
		errs = append(errs, errors.New("database_directory is required"))
	}
	if c.ThumbnailSize < 0 {
		errs = append(errs, fmt.Errorf("thumbnail_size must be >= 0, got %d", c.ThumbnailSize))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must be >= 0, got %d", c.Workers))
	}
	if _, err := c.Interval(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// LoadFromYAML reads path on top of Default. Keys missing from the file keep
// their default values.
func LoadFromYAML(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is LoadFromYAML, except that a missing file yields Default.
func LoadOrDefault(path string) (Config, error) {
	cfg, err := LoadFromYAML(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// YAML encodes c the way SaveToYAML writes it.
func (c Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}

// SaveToYAML writes cfg to path, creating parent directories.
func SaveToYAML(cfg Config, path string) error {
	data, err := cfg.YAML()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
