// Package config loads cachefs settings from an optional YAML file and the
// command line.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"cachefs/internal/logging"
	"cachefs/internal/memfs"
)

var (
	logger = logging.GetLogger().WithPrefix("config")
)

// EnvConfigFile names the environment variable consulted when --config is
// not given.
const EnvConfigFile = "CACHEFS_CONFIG"

// Config holds everything needed to mount a cache session.
type Config struct {
	// Source is the backing directory the cache loads from and flushes to.
	Source string `yaml:"source"`

	// Mount is where the filesystem is attached.
	Mount string `yaml:"mount"`

	// LogLevel is a level name or its first letter (e, w, i, d, t).
	LogLevel string `yaml:"log_level"`

	// FlushInterval is the period between write-back cycles.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// AllowOther lets users other than the mounter access the filesystem.
	AllowOther bool `yaml:"allow_other"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		LogLevel:      "info",
		FlushInterval: memfs.DefaultFlushInterval,
	}
}

// LoadFile overlays the YAML document at path onto c. Keys absent from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	logger.Debug("Loading config file: %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Load builds a Config from defaults, then the config file (from --config
// or CACHEFS_CONFIG), then any flags set in args, and validates the result.
// pflag.ErrHelp is returned unwrapped when -h is given.
func Load(name string, args []string) (*Config, error) {
	cfg := Default()

	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configFile := flagSet.String("config", os.Getenv(EnvConfigFile), "YAML config file")
	source := flagSet.String("source", "", "Backing directory to cache")
	mount := flagSet.String("mount", "", "Mount point for the filesystem")
	logLevel := flagSet.String("log-level", "", "Log level (error, warn, info, debug, trace)")
	flushInterval := flagSet.Duration("flush-interval", 0, "Period between write-back cycles")
	allowOther := flagSet.Bool("allow-other", false, "Allow other users to access the mount")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}

	if *configFile != "" {
		if err := cfg.LoadFile(*configFile); err != nil {
			return nil, err
		}
	}

	if flagSet.Changed("source") {
		cfg.Source = *source
	}
	if flagSet.Changed("mount") {
		cfg.Mount = *mount
	}
	if flagSet.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if flagSet.Changed("flush-interval") {
		cfg.FlushInterval = *flushInterval
	}
	if flagSet.Changed("allow-other") {
		cfg.AllowOther = *allowOther
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings and cleans the paths in place.
func (c *Config) Validate() error {
	if c.Source == "" || c.Mount == "" {
		return errors.New("source and mount are required")
	}

	source, err := filepath.Abs(c.Source)
	if err != nil {
		return fmt.Errorf("failed to resolve source %s: %w", c.Source, err)
	}
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("source %s: %w", source, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source %s is not a directory", source)
	}
	c.Source = source
	c.Mount = filepath.Clean(c.Mount)

	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush_interval must be positive, got %v", c.FlushInterval)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Level returns the parsed log level. Validate must have succeeded.
func (c *Config) Level() logging.LogLevel {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return logging.LevelInfo
	}
	return level
}
