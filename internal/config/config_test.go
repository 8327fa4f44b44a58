package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadFromYAML_ValidConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "dicomshelf.yaml")
	content := `
database_directory: /var/lib/dicomshelf
tags_to_precache:
  - SliceThickness
  - "0018,0088"
display_import_summary: false
thumbnail_size: 96
auto_play_interval: 150ms
workers: 4
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadFromYAML(configPath)
	if err != nil {
		t.Fatalf("LoadFromYAML failed: %v", err)
	}

	want := Config{
		DatabaseDirectory:    "/var/lib/dicomshelf",
		TagsToPrecache:       []string{"SliceThickness", "0018,0088"},
		DisplayImportSummary: false,
		ThumbnailSize:        96,
		AutoPlayInterval:     "150ms",
		Workers:              4,
	}
	if !reflect.DeepEqual(cfg, want) {
		t.Errorf("LoadFromYAML() = %+v, want %+v", cfg, want)
	}
	if d, _ := cfg.Interval(); d != 150*time.Millisecond {
		t.Errorf("Interval() = %s, want 150ms", d)
	}
}

func TestLoadFromYAML_MinimalConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "min.yaml")
	if err := os.WriteFile(configPath, []byte("workers: 2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromYAML(configPath)
	if err != nil {
		t.Fatalf("LoadFromYAML failed: %v", err)
	}
	def := Default()
	if cfg.DatabaseDirectory != def.DatabaseDirectory || !cfg.DisplayImportSummary || cfg.ThumbnailSize != 128 {
		t.Errorf("defaults not kept: %+v", cfg)
	}
	if cfg.Workers != 2 {
		t.Errorf("Workers = %d, want 2", cfg.Workers)
	}
}

func TestLoadFromYAML_Errors(t *testing.T) {
	tests := map[string]string{
		"invalid yaml":       "workers: [invalid array in scalar field\n",
		"negative workers":   "workers: -1\n",
		"bad interval":       "auto_play_interval: soon\n",
		"zero interval":      "auto_play_interval: 0s\n",
		"empty database":     "database_directory: \"\"\n",
		"negative thumbnail": "thumbnail_size: -5\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "bad.yaml")
			if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadFromYAML(configPath); err == nil {
				t.Errorf("LoadFromYAML(%q) should fail", content)
			}
		})
	}
}

func TestLoadFromYAML_NonExistentFile(t *testing.T) {
	if _, err := LoadFromYAML("/non/existent/path/config.yaml"); err == nil {
		t.Error("Expected error for non-existent file, got nil")
	}

	cfg, err := LoadOrDefault("/non/existent/path/config.yaml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("LoadOrDefault() = %+v, want defaults", cfg)
	}
}

func TestSaveToYAML_AndLoadBack(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "output.yaml")
	cfg := Config{
		DatabaseDirectory:    "/tmp/db",
		TagsToPrecache:       []string{"Modality"},
		DisplayImportSummary: true,
		ThumbnailSize:        64,
		AutoPlayInterval:     "1s",
	}
	if err := SaveToYAML(cfg, configPath); err != nil {
		t.Fatalf("SaveToYAML failed: %v", err)
	}
	loaded, err := LoadFromYAML(configPath)
	if err != nil {
		t.Fatalf("LoadFromYAML failed: %v", err)
	}
	if !reflect.DeepEqual(loaded, cfg) {
		t.Errorf("round trip = %+v, want %+v", loaded, cfg)
	}
}
