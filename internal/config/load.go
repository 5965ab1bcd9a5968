// Package config loads dataset and live inference settings from JSON or
// YAML files. Every field is optional; the Get methods supply defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// maxFileSize bounds a config file.
const maxFileSize = 1 * 1024 * 1024

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// readFile decodes a .json, .yaml or .yml file into v.
func readFile(path string, v any) error {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("config file must have a .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if ext == ".json" {
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to parse config JSON: %w", err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return nil
}

// LoadDatasetConfig loads and validates a dataset config file.
func LoadDatasetConfig(path string) (*DatasetConfig, error) {
	cfg := &DatasetConfig{}
	if err := readFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadLiveConfig loads and validates a live inference config file.
func LoadLiveConfig(path string) (*LiveConfig, error) {
	cfg := &LiveConfig{}
	if err := readFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
