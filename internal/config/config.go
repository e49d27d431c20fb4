// Package config loads and validates the optional .tankbridge YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up from the working directory upward.
const FileName = ".tankbridge"

// Default values.
const (
	DefaultLogLevel   = logrus.InfoLevel
	DefaultStoreCache = 5
)

// Config holds the parsed .tankbridge configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version    int         `yaml:"version"`
	RawTimeout string      `yaml:"timeout"`   // e.g. "10m"; empty waits forever
	MaxAsync   int         `yaml:"max_async"` // 0 = unbounded
	Log        LogConfig   `yaml:"log"`
	Store      StoreConfig `yaml:"store"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // logrus level name
	Format string `yaml:"format"` // text or json
	File   string `yaml:"file"`   // empty logs to stderr
}

// StoreConfig controls where run records are kept.
type StoreConfig struct {
	Dir   string `yaml:"dir"`   // empty uses a temp directory
	Cache int    `yaml:"cache"` // in-memory LRU capacity
}

// Timeout returns the configured child timeout, or zero for none.
func (c *Config) Timeout() time.Duration {
	if c.RawTimeout != "" {
		d, err := time.ParseDuration(c.RawTimeout)
		if err == nil && d > 0 {
			return d
		}
	}
	return 0
}

// AsyncLimit returns the bound on concurrent background executions; 0 is unbounded.
func (c *Config) AsyncLimit() int {
	if c.MaxAsync > 0 {
		return c.MaxAsync
	}
	return 0
}

// LogLevel returns the configured log level or the default.
func (c *Config) LogLevel() logrus.Level {
	if c.Log.Level != "" {
		if lvl, err := logrus.ParseLevel(c.Log.Level); err == nil {
			return lvl
		}
	}
	return DefaultLogLevel
}

// StoreCacheSize returns the configured LRU capacity or the default.
func (c *Config) StoreCacheSize() int {
	if c.Store.Cache > 0 {
		return c.Store.Cache
	}
	return DefaultStoreCache
}

// Validate reports settings that are present but unusable.
func (c *Config) Validate() error {
	var errs []error
	if c.RawTimeout != "" {
		if d, err := time.ParseDuration(c.RawTimeout); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("timeout %q is not a positive duration", c.RawTimeout))
		}
	}
	if c.MaxAsync < 0 {
		errs = append(errs, fmt.Errorf("max_async must not be negative, got %d", c.MaxAsync))
	}
	if c.Log.Level != "" {
		if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
			errs = append(errs, fmt.Errorf("log.level: %w", err))
		}
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// LoadResult holds the parsed config and the file it came from.
type LoadResult struct {
	Config *Config
	Path   string // empty when no file was found
}

// Load looks for a .tankbridge file in dir and its parents. If none exists,
// a default Config is returned.
func Load(dir string) (*LoadResult, error) {
	path, err := findConfigFile(dir)
	if err != nil {
		return &LoadResult{Config: &Config{}}, nil
	}
	return LoadFile(path)
}

// LoadFile reads and validates the configuration at path.
func LoadFile(path string) (*LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return &LoadResult{Config: cfg, Path: path}, nil
}

// findConfigFile walks upward from dir looking for a regular .tankbridge file.
func findConfigFile(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		path := filepath.Join(dir, FileName)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%s not found", FileName)
		}
		dir = parent
	}
}
