// Package config loads executor settings from YAML.
package config

import (
	"fmt"
	"os"

	"github.com/ZenLiuCN/incremental/backend"
	"github.com/ZenLiuCN/incremental/unit"
	"gopkg.in/yaml.v3"
)

// Config of an executor and its backends.
type Config struct {
	OptLevel         int      `yaml:"opt_level"`
	Package          string   `yaml:"package"`
	WorkDir          string   `yaml:"work_dir"`
	Debug            bool     `yaml:"debug"`
	SkipHostLookup   bool     `yaml:"skip_host_lookup"`
	ForbiddenSymbols []string `yaml:"forbidden_symbols"`
	Libraries        []string `yaml:"libraries"`
	Executables      []string `yaml:"executables"`
	SaveDir          string   `yaml:"save_dir"`
	StrictUnload     bool     `yaml:"strict_unload"`
}

// Default settings: optimizing at level 2 in package main.
func Default() Config {
	return Config{OptLevel: 2, Package: unit.DefaultPackage}
}

// Parse YAML over the defaults.
func Parse(b []byte) (c Config, err error) {
	c = Default()
	if err = yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	return c, c.Validate()
}

// Load a YAML file, an empty path yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Default(), fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

func (c Config) Validate() error {
	if err := backend.CheckLevel(c.OptLevel); err != nil {
		return err
	}
	return nil
}
