// Package config loads neurodb settings from defaults, a neurodb.yaml file,
// NEURODB_ environment variables and command-line flags.
package config

import (
	"fmt"

	"neurodb/internal/db"
	"neurodb/internal/graph"
)

// Config holds all CLI configuration options.
type Config struct {
	// Path selects the embedded store. It wins over Managed when both are set.
	Path     string               `koanf:"path"`
	Managed  db.ManagedConfig     `koanf:"managed"`
	Analyzer graph.AnalyzerConfig `koanf:"analyzer"`
	Verbose  bool                 `koanf:"verbose"`

	// File is the config file that was loaded, if any
	File string `koanf:"-"`
}

// Descriptor returns the backend selection for this config
func (c *Config) Descriptor() (db.Descriptor, error) {
	if c.Path != "" && !db.IsEmbeddedPath(c.Path) {
		return db.Descriptor{}, fmt.Errorf("embedded store %q must have a .db extension", c.Path)
	}
	desc := db.Descriptor{Path: c.Path}
	if c.Managed.Database != "" {
		managed := c.Managed
		desc.Managed = &managed
	}
	if _, err := desc.Kind(); err != nil {
		return db.Descriptor{}, err
	}
	return desc, nil
}
