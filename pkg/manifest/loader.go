package manifest

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

const logPrefix = "manifest:loader"

// Default locations tried when no explicit path is given.
var defaultPaths = []string{"config/rainbowbridge.yaml", "rainbowbridge.yaml"}

// Load reads the manifest. An explicit path must exist and parse; without
// one the default locations are tried, then Default is returned.
func Load(path string) (*Manifest, error) {
	if path != "" {
		m, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		slog.Info(fmt.Sprintf("%s - Loaded manifest from %s", logPrefix, path))
		return m, nil
	}

	for _, p := range defaultPaths {
		m, err := LoadFile(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to load manifest %s: %v", logPrefix, p, err))
			continue
		}
		slog.Info(fmt.Sprintf("%s - Loaded manifest from %s", logPrefix, p))
		return m, nil
	}

	slog.Info(fmt.Sprintf("%s - Using default manifest", logPrefix))
	return Default(), nil
}

// LoadFile reads and parses one manifest file (YAML or JSON).
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s - read %s: %w", logPrefix, path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s - %s: %w", logPrefix, path, err)
	}
	return m, nil
}

// Parse decodes a manifest document. JSON is accepted as YAML.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}
