// Package config loads engine configuration from chainspec.yaml files.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Defaults for the recognized options.
const (
	DefaultSuffix                  = "http"
	DefaultRefParentTraversalDepth = 3
	DefaultMaxComprehensionLength  = 50000
	DefaultOutput                  = "console"
)

// Config is the engine configuration. Scenario files are discovered as
// test_<name>.<suffix>.json.
type Config struct {
	Suffix                  string `yaml:"suffix,omitempty"`
	RefParentTraversalDepth int    `yaml:"ref_parent_traversal_depth,omitempty"`
	MaxComprehensionLength  int    `yaml:"max_comprehension_length,omitempty"`

	// RootPath constrains file references. When empty, body and schema
	// files are confined to the scenario's own directory, and $ref targets
	// are bounded only by the parent-traversal depth.
	RootPath string `yaml:"root_path,omitempty"`

	Output     string `yaml:"output,omitempty"`
	OutputFile string `yaml:"output_file,omitempty"`
	NoColor    *bool  `yaml:"no_color,omitempty"`

	// HistoryPath enables the run-history store when set.
	HistoryPath string `yaml:"history,omitempty"`

	// HARPath records request/response archives when set.
	HARPath string `yaml:"har,omitempty"`

	// Fixtures are the host-provided values scenarios may reference.
	Fixtures map[string]any `yaml:"fixtures,omitempty"`
}

// Default returns the configuration with every option at its default.
func Default() *Config {
	return &Config{
		Suffix:                  DefaultSuffix,
		RefParentTraversalDepth: DefaultRefParentTraversalDepth,
		MaxComprehensionLength:  DefaultMaxComprehensionLength,
		Output:                  DefaultOutput,
	}
}

// GetNoColor returns the no-color setting, defaulting to false.
func (c *Config) GetNoColor() bool {
	if c.NoColor == nil {
		return false
	}
	return *c.NoColor
}

// ConfigFilenames are the recognized config file names, in search order.
var ConfigFilenames = []string{
	".chainspec.yaml",
	"chainspec.yaml",
	".chainspec.yml",
	"chainspec.yml",
}

// Load reads configuration from path, or searches the current directory
// when path is empty.
func Load(path string) (*Config, error) {
	if path != "" {
		return loadFile(path)
	}
	return FindAndLoad(".")
}

// FindAndLoad searches dir for a config file, returning defaults when
// none exists.
func FindAndLoad(dir string) (*Config, error) {
	for _, name := range ConfigFilenames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return loadFile(path)
		}
	}
	return Default(), nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.RefParentTraversalDepth < 0 {
		return nil, fmt.Errorf("%s: ref_parent_traversal_depth must not be negative", path)
	}
	if cfg.MaxComprehensionLength < 1 {
		return nil, fmt.Errorf("%s: max_comprehension_length must be positive", path)
	}
	return cfg, nil
}

// Merge overlays other onto c, other taking precedence. Both inputs are
// left untouched.
func (c *Config) Merge(other *Config) *Config {
	result := *c
	if other == nil {
		return &result
	}

	if other.Suffix != "" {
		result.Suffix = other.Suffix
	}
	if other.RefParentTraversalDepth > 0 {
		result.RefParentTraversalDepth = other.RefParentTraversalDepth
	}
	if other.MaxComprehensionLength > 0 {
		result.MaxComprehensionLength = other.MaxComprehensionLength
	}
	if other.RootPath != "" {
		result.RootPath = other.RootPath
	}
	if other.Output != "" {
		result.Output = other.Output
	}
	if other.OutputFile != "" {
		result.OutputFile = other.OutputFile
	}
	if other.NoColor != nil {
		result.NoColor = other.NoColor
	}
	if other.HistoryPath != "" {
		result.HistoryPath = other.HistoryPath
	}
	if other.HARPath != "" {
		result.HARPath = other.HARPath
	}
	if len(other.Fixtures) > 0 {
		merged := make(map[string]any, len(c.Fixtures)+len(other.Fixtures))
		for k, v := range c.Fixtures {
			merged[k] = v
		}
		for k, v := range other.Fixtures {
			merged[k] = v
		}
		result.Fixtures = merged
	}
	return &result
}
