// Package config loads the daemon configuration file and resolves the data
// directory: explicit env override, then XDG data home, then the platform
// default.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config holds user-configurable defaults for the daemon and CLI.
type Config struct {
	// IntervalSec is the daemon tick interval.
	IntervalSec int `yaml:"interval_sec"`
	// BundlePath points at the policy bundle file; empty uses
	// <data_dir>/policy-bundle.json.
	BundlePath string `yaml:"bundle_path"`
	// PriorsPath points at the priors file; empty uses embedded defaults.
	PriorsPath string `yaml:"priors_path"`
	// MetricsAddr serves prometheus metrics when non-empty.
	MetricsAddr string `yaml:"metrics_addr"`
	// ScoreThreshold is the session-diff change threshold.
	ScoreThreshold float64 `yaml:"score_threshold"`
}

// Default returns a config with sensible defaults.
func Default() Config {
	return Config{
		IntervalSec:    30,
		ScoreThreshold: 5,
	}
}

// Interval returns the tick interval as a duration.
func (c Config) Interval() time.Duration {
	if c.IntervalSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.IntervalSec) * time.Second
}

// DataDir resolves the data directory:
// PTRIAGE_DATA_DIR env override, then XDG_DATA_HOME/ptriage, then the
// platform default. Returns empty when no home directory can be determined.
func DataDir() string {
	if dir := os.Getenv("PTRIAGE_DATA_DIR"); dir != "" {
		return dir
	}
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "ptriage")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "ptriage")
	}
	return filepath.Join(home, ".local", "share", "ptriage")
}

// Path returns the config file location under XDG_CONFIG_HOME.
// Returns empty when no home directory can be determined.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "ptriage", "config.yaml")
}

// Load reads the config from disk; returns defaults on any error with one
// warning.
func Load(log *zap.Logger) Config {
	cfg := Default()
	p := Path()
	if p == "" {
		return cfg
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return cfg
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		if log != nil {
			log.Warn("config parse error; using defaults",
				zap.String("path", p), zap.Error(err))
		}
		return Default()
	}
	return cfg
}

// Save writes the config to disk.
func Save(cfg Config) error {
	path := Path()
	if path == "" {
		return os.ErrNotExist
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
