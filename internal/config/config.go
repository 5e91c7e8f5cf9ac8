// Package config loads the layered runtime configuration: a YAML file
// provides defaults, environment variables override it. Grounded on the
// teacher's config.Manager
// (internal/config/config.go), which layers user/project JSON files with
// a getValue-if-empty merge; here layered as YAML-file-then-env instead of
// user-then-project, since the machine has no per-project settings tier.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/turingloop/machine/internal/machine"
)

// Config is every tunable the kernel, manifold, and oracle adapters need.
type Config struct {
	Workspace   string `yaml:"workspace"`
	PromptFile  string `yaml:"prompt_file"`
	OracleModel string `yaml:"oracle_model"`

	OracleTimeoutMS int `yaml:"oracle_timeout_ms"`
	OracleSeed      int `yaml:"oracle_seed"`
	HasOracleSeed   bool `yaml:"-"`

	ExecTimeoutMS int `yaml:"exec_timeout_ms"`
	MaxStdout     int `yaml:"max_stdout"`
	SliceLines    int `yaml:"slice_lines"`
}

// Default returns a Config with the machine's built-in defaults.
func Default() Config {
	return Config{
		Workspace:       ".",
		OracleTimeoutMS: machine.OracleTimeoutDefaultMS,
		ExecTimeoutMS:   machine.ExecTimeoutDefault * 1000,
		MaxStdout:       machine.MaxStdoutDefault,
		SliceLines:      machine.SliceLinesDefault,
	}
}

// Load builds a Config starting from defaults, applying yamlPath if it
// exists, then applying the process environment on top — env always wins.
func Load(yamlPath string) (Config, error) {
	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, err
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("WORKSPACE"); v != "" {
		cfg.Workspace = v
	}
	if v := os.Getenv("PROMPT_FILE"); v != "" {
		cfg.PromptFile = v
	}
	if v := os.Getenv("ORACLE_MODEL"); v != "" {
		cfg.OracleModel = v
	}
	if v := os.Getenv("ORACLE_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.OracleTimeoutMS = n
		}
	}
	if v := os.Getenv("ORACLE_SEED"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.OracleSeed = n
			cfg.HasOracleSeed = true
		}
	}
	if v := os.Getenv("EXEC_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ExecTimeoutMS = n
		}
	}
	if v := os.Getenv("MAX_STDOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxStdout = n
		}
	}
	if v := os.Getenv("SLICE_LINES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SliceLines = n
		}
	}
}

// OracleTimeout and ExecTimeout convert the millisecond config fields to
// time.Duration for the packages that want a Duration directly.
func (c Config) OracleTimeout() time.Duration { return time.Duration(c.OracleTimeoutMS) * time.Millisecond }
func (c Config) ExecTimeout() time.Duration   { return time.Duration(c.ExecTimeoutMS) * time.Millisecond }
