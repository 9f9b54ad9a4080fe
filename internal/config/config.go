// Package config loads harness configuration from lokitest.yaml or
// lokitest.cue.
//
// Every field is optional. Anything left unset falls back to the stock
// cargo + clang layout:
//
//	mode: two-step
//	compiler:
//	  command: cargo
//	  args: [run, -q]
//	  env:
//	    LOKI_RUNNING_TESTS: "yes"
//	    LOKI_FILE: "{source}"
//	    LOKI_OUTPUT_FILE: "{artifact}"
//	toolchain:
//	  command: clang
//	  args: ["{artifact}", -o, "{executable}"]
//	tests:
//	  dir: tests
//	  ext: .loki
//	target:
//	  dir: target/tests
//	  artifact_ext: .c
//	  executable_ext: .exe
//	jobs: 1
//
// A tool block replaces the default tool as a whole; it is not merged
// field by field.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/lokitest/internal/harness"
)

// DefaultFiles are probed in order when no config path is given.
var DefaultFiles = []string{"lokitest.yaml", "lokitest.yml", "lokitest.cue"}

// Tool configures one external program.
type Tool struct {
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// Tests locates the test sources.
type Tests struct {
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty"`
	Ext string `yaml:"ext,omitempty" json:"ext,omitempty"`
}

// Target locates build outputs.
type Target struct {
	Dir           string `yaml:"dir,omitempty" json:"dir,omitempty"`
	ArtifactExt   string `yaml:"artifact_ext,omitempty" json:"artifact_ext,omitempty"`
	ExecutableExt string `yaml:"executable_ext,omitempty" json:"executable_ext,omitempty"`
}

// Config is the on-disk harness configuration.
type Config struct {
	Mode      string `yaml:"mode,omitempty" json:"mode,omitempty"`
	Compiler  *Tool  `yaml:"compiler,omitempty" json:"compiler,omitempty"`
	Toolchain *Tool  `yaml:"toolchain,omitempty" json:"toolchain,omitempty"`
	Tests     Tests  `yaml:"tests,omitempty" json:"tests,omitempty"`
	Target    Target `yaml:"target,omitempty" json:"target,omitempty"`

	// Timeout bounds every tool and executable run, as a Go duration
	// string ("30s"). Empty means no limit.
	Timeout string `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	Jobs int `yaml:"jobs,omitempty" json:"jobs,omitempty"`

	// Path is the file the config came from. Empty for defaults.
	Path string `yaml:"-" json:"-"`
}

// Load reads path, choosing the decoder by extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg *Config
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		cfg, err = parseYAML(data)
	case ".cue":
		cfg, err = parseCUE(data, path)
	default:
		return nil, fmt.Errorf("unsupported config format %q (want .yaml, .yml or .cue)", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	cfg.Path = path
	if _, err := cfg.Pipeline(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Find loads explicit if set, otherwise the first DefaultFiles entry that
// exists in dir. With neither, it returns an empty config, which means all
// defaults.
func Find(explicit, dir string) (*Config, error) {
	if explicit != "" {
		return Load(explicit)
	}

	for _, name := range DefaultFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}

	return &Config{}, nil
}

func parseYAML(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		// An empty document is a valid, all-defaults config.
		if errors.Is(err, io.EOF) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// Pipeline overlays the config on harness.DefaultPipeline.
func (c *Config) Pipeline() (harness.Pipeline, error) {
	p := harness.DefaultPipeline()

	if c.Mode != "" {
		p.Mode = harness.Mode(c.Mode)
	}
	if c.Compiler != nil {
		p.Compiler = c.Compiler.tool()
	}
	if c.Toolchain != nil {
		p.Toolchain = c.Toolchain.tool()
	}
	if c.Tests.Dir != "" {
		p.TestsDir = c.Tests.Dir
	}
	if c.Tests.Ext != "" {
		p.SourceExt = c.Tests.Ext
	}
	if c.Target.Dir != "" {
		p.TargetDir = c.Target.Dir
	}
	if c.Target.ArtifactExt != "" {
		p.ArtifactExt = c.Target.ArtifactExt
	}
	if c.Target.ExecutableExt != "" {
		p.ExecutableExt = c.Target.ExecutableExt
	}
	if c.Timeout != "" {
		d, err := time.ParseDuration(c.Timeout)
		if err != nil {
			return harness.Pipeline{}, fmt.Errorf("timeout: %w", err)
		}
		p.Timeout = d
	}
	if c.Jobs < 0 {
		return harness.Pipeline{}, fmt.Errorf("jobs must not be negative")
	}

	if err := p.Validate(); err != nil {
		return harness.Pipeline{}, err
	}
	return p, nil
}

// JobsOrDefault returns the configured concurrency, at least 1.
func (c *Config) JobsOrDefault() int {
	if c.Jobs < 1 {
		return 1
	}
	return c.Jobs
}

func (t *Tool) tool() harness.Tool {
	return harness.Tool{Command: t.Command, Args: t.Args, Env: t.Env}
}
