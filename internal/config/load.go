// internal/config/load.go
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and decodes a config file. Unknown keys are rejected.
// The register table path is resolved against the config file directory.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	if cfg.Registers != "" && !filepath.IsAbs(cfg.Registers) {
		cfg.Registers = filepath.Join(filepath.Dir(path), cfg.Registers)
	}
	return &cfg, nil
}
