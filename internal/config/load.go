package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/imamik/fleetrun/internal/fault"
)

// LoadFile reads, defaults and validates the cluster file at path.
func LoadFile(path string) (*Config, error) {
	// #nosec G304
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrapf(fault.Configuration, err, "failed to read config file")
	}
	return Parse(data)
}

// Parse decodes a cluster file. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fault.Wrapf(fault.Configuration, err, "failed to unmarshal yaml")
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fault.Wrapf(fault.Configuration, err, "configuration validation failed")
	}
	cfg.Key.Path = ExpandPath(cfg.Key.Path)
	for i := range cfg.Nodes {
		cfg.Nodes[i].Key = ExpandPath(cfg.Nodes[i].Key)
	}
	return &cfg, nil
}

// ExpandPath replaces a leading "~" with the current user's home.
func ExpandPath(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
