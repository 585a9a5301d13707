// Package config provides configuration management for safetest.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (SAFETEST_*)
// 3. Project config (.safetest/config.yaml in cwd, or $SAFETEST_CONFIG)
// 4. Home config (~/.safetest/config.yaml)
// 5. Defaults
//
// Each file layer is decoded on top of the layers below it, so a key that
// is present in a file wins even when it holds a zero value (for example
// use_cache: false).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/boshu2/safetest/internal/gitchanges"
	"github.com/boshu2/safetest/internal/runner"
	"github.com/boshu2/safetest/internal/storage"
	"github.com/boshu2/safetest/internal/types"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SAFETEST_"

// Config holds all safetest configuration.
type Config struct {
	// Output controls the default output format (table, json, jsonl, yaml, markdown).
	Output string `yaml:"output" json:"output"`

	// Verbose enables verbose output.
	Verbose bool `yaml:"verbose" json:"verbose"`

	Selection SelectionConfig `yaml:"selection" json:"selection"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts" json:"timeouts"`
	Runner    RunnerConfig    `yaml:"runner" json:"runner"`
	History   HistoryConfig   `yaml:"history" json:"history"`
}

// SelectionConfig holds selection policy and file classification settings.
type SelectionConfig struct {
	types.SelectionOptions `yaml:",inline"`

	// SinceRef is the git revision changes are detected against.
	SinceRef string `yaml:"since_ref" json:"since_ref"`

	// ConfigPatterns replace the built-in configuration file globs when set.
	ConfigPatterns []string `yaml:"config_patterns,omitempty" json:"config_patterns,omitempty"`

	// InfrastructurePatterns replace the built-in infrastructure file globs when set.
	InfrastructurePatterns []string `yaml:"infrastructure_patterns,omitempty" json:"infrastructure_patterns,omitempty"`
}

// TimeoutsConfig holds the guard profile and its timeout configuration.
type TimeoutsConfig struct {
	// Profile is robust or aggressive.
	Profile string `yaml:"profile" json:"profile"`

	types.TimeoutConfiguration `yaml:",inline"`
}

// RunnerConfig holds test process settings.
type RunnerConfig struct {
	// Command is the test command template; {test} is replaced by the test id.
	Command string `yaml:"command" json:"command"`

	// Dir is the working directory of test processes. Empty means cwd.
	Dir string `yaml:"dir" json:"dir"`

	// Parallelism bounds concurrently running tests.
	Parallelism int `yaml:"parallelism" json:"parallelism"`

	// OutputTailLines is how many trailing output lines a failure keeps.
	OutputTailLines int `yaml:"output_tail_lines" json:"output_tail_lines"`
}

// HistoryConfig controls where run reports are kept.
type HistoryConfig struct {
	// Enabled saves every run report.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Dir is the history directory; relative paths are resolved against
	// the repository root.
	Dir string `yaml:"dir" json:"dir"`
}

// Default config values (used in resolution and validation).
const (
	defaultOutput          = "table"
	defaultOutputTailLines = 20
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Output: defaultOutput,
		Selection: SelectionConfig{
			SelectionOptions: types.DefaultSelectionOptions(),
			SinceRef:         gitchanges.DefaultSinceRef,
		},
		Timeouts: TimeoutsConfig{
			Profile:              string(types.ProfileRobust),
			TimeoutConfiguration: types.DefaultTimeoutConfiguration(),
		},
		Runner: RunnerConfig{
			Command:         runner.DefaultCommand,
			Parallelism:     runtime.NumCPU(),
			OutputTailLines: defaultOutputTailLines,
		},
		History: HistoryConfig{
			Enabled: true,
			Dir:     storage.DefaultBaseDir,
		},
	}
}

// Profile returns the validated guard profile.
func (c *Config) Profile() (types.Profile, error) {
	return types.ParseProfile(c.Timeouts.Profile)
}

// Validate checks values that cannot be clamped.
func (c *Config) Validate() error {
	if _, err := c.Profile(); err != nil {
		return err
	}
	if c.Runner.Parallelism < 0 {
		return fmt.Errorf("%w: runner.parallelism must not be negative", ErrInvalidValue)
	}
	if c.Runner.OutputTailLines < 0 {
		return fmt.Errorf("%w: runner.output_tail_lines must not be negative", ErrInvalidValue)
	}
	return nil
}

// Load loads configuration with proper precedence.
// Priority: flags > env > project > home > defaults.
// flags maps config keys (see Keys) to raw flag values; only flags the
// user actually set belong in it.
func Load(flags map[string]string) (*Config, error) {
	cfg, _, err := load(flags)
	return cfg, err
}

// Source represents where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceHome    Source = "~/.safetest/config.yaml"
	SourceProject Source = ".safetest/config.yaml"
	SourceEnv     Source = "environment"
	SourceFlag    Source = "flag"
)

// Resolved is one config value with its source.
type Resolved struct {
	Key    string `json:"key" yaml:"key"`
	Value  string `json:"value" yaml:"value"`
	Source Source `json:"source" yaml:"source"`
}

// Resolve returns every configuration value with source tracking, in
// Keys order.
func Resolve(flags map[string]string) ([]Resolved, error) {
	cfg, sources, err := load(flags)
	if err != nil {
		return nil, err
	}
	out := make([]Resolved, 0, len(fields))
	for _, f := range fields {
		src, ok := sources[f.key]
		if !ok {
			src = SourceDefault
		}
		out = append(out, Resolved{Key: f.key, Value: f.show(cfg), Source: src})
	}
	return out, nil
}

func load(flags map[string]string) (*Config, map[string]Source, error) {
	cfg := Default()
	sources := make(map[string]Source)

	layers := []struct {
		path   string
		source Source
	}{
		{homeConfigPath(), SourceHome},
		{projectConfigPath(), SourceProject},
	}
	for _, l := range layers {
		keys, err := loadFromPath(l.path, cfg)
		if err != nil {
			return nil, nil, err
		}
		for _, k := range keys {
			sources[k] = l.source
		}
	}

	for _, f := range fields {
		v, ok := os.LookupEnv(EnvVar(f.key))
		if !ok || v == "" {
			continue
		}
		if err := f.set(cfg, v); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", EnvVar(f.key), err)
		}
		sources[f.key] = SourceEnv
	}

	for key, v := range flags {
		f, ok := lookupField(key)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
		if err := f.set(cfg, v); err != nil {
			return nil, nil, fmt.Errorf("flag: %w", err)
		}
		sources[key] = SourceFlag
	}

	for key, dir := range map[string]*string{"runner.dir": &cfg.Runner.Dir, "history.dir": &cfg.History.Dir} {
		expanded, err := homedir.Expand(*dir)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", key, err)
		}
		*dir = expanded
	}
	return cfg, sources, cfg.Validate()
}

// homeConfigPath returns the home config path.
func homeConfigPath() string {
	home, err := homedir.Dir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".safetest", "config.yaml")
}

// projectConfigPath returns the project config path.
func projectConfigPath() string {
	if override := strings.TrimSpace(os.Getenv(EnvPrefix + "CONFIG")); override != "" {
		if expanded, err := homedir.Expand(override); err == nil {
			return expanded
		}
		return override
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".safetest", "config.yaml")
}

// loadFromPath decodes the YAML file at path on top of cfg and returns the
// known keys the file sets. A missing file is not an error.
func loadFromPath(path string, cfg *Config) ([]string, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	var keys []string
	for _, k := range flatten("", raw) {
		if _, ok := lookupField(k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// flatten returns the dotted paths of every leaf in m.
func flatten(prefix string, m map[string]any) []string {
	var out []string
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			out = append(out, flatten(key, nested)...)
			continue
		}
		out = append(out, key)
	}
	return out
}
