// Package hostconfig loads the YAML file cmd/sandboxctl reads to build
// a sandbox.Config, following the same load-from-disk-with-defaults
// shape as other CLI front-ends in this codebase's lineage.
package hostconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of a sandboxctl config file.
type File struct {
	OutputLimit      int    `yaml:"output_limit"`
	MemoryLimit      uint64 `yaml:"memory_limit"`
	InstructionLimit uint64 `yaml:"instruction_limit"`

	ModulesPath      string `yaml:"modules_path"`
	PreservationPath string `yaml:"preservation_path"`

	Verbose bool `yaml:"verbose"`
}

// Default returns the built-in limits used when no config file is
// given: a generous but finite ceiling on every metered resource, so a
// host that forgets to configure limits still gets a sandbox rather
// than an unbounded one by accident.
func Default() File {
	return File{
		OutputLimit:      1 << 20, // 1 MiB
		MemoryLimit:      64 << 20, // 64 MiB
		InstructionLimit: 10_000_000,
	}
}

// Load reads and parses a YAML config file, starting from Default()
// so a partially-specified file only overrides what it sets.
func Load(path string) (File, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return File{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
