// Package config loads pipeline definitions from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"epochalyst/internal/core"
	"epochalyst/internal/logging"
)

// ErrInvalidConfig is returned for configuration that fails validation.
var ErrInvalidConfig = errors.New("invalid config")

// Environment overrides.
const (
	EnvLogLevel = "EPOCHALYST_LOG_LEVEL"
	EnvCacheDir = "EPOCHALYST_CACHE_DIR"
	EnvCatalog  = "EPOCHALYST_CATALOG"
)

// Config is a model pipeline definition.
type Config struct {
	Name        string         `yaml:"name"`
	Logging     logging.Config `yaml:"logging"`
	CatalogPath string         `yaml:"catalog_path"`

	// Cache holds the default cache args. A step enables caching with its
	// own cache block; fields it leaves empty are taken from here. An empty
	// step cache block is dropped by Save, so written configs name at least
	// one field.
	Cache *core.CacheArgs `yaml:"cache,omitempty"`

	XSteps     []Step `yaml:"x_steps"`
	YSteps     []Step `yaml:"y_steps"`
	TrainSteps []Step `yaml:"train_steps"`
}

// Step is one block of a pipeline.
type Step struct {
	Block  string          `yaml:"block"`
	Name   string          `yaml:"name,omitempty"`
	Params map[string]any  `yaml:"params,omitempty"`
	Cache  *core.CacheArgs `yaml:"cache,omitempty"`
}

// StepName returns the name the step is keyed by: Name, or Block when unset.
func (s Step) StepName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Block
}

// Default returns a configuration with defaults and no steps.
func Default() *Config {
	return &Config{
		Name:        "epochalyst",
		Logging:     logging.Config{Level: "info"},
		CatalogPath: filepath.Join(".epochalyst", "catalog.db"),
		Cache: &core.CacheArgs{
			OutputDataType: core.NumpyArray,
			StorageType:    core.StorageNpy,
			StoragePath:    filepath.Join(".epochalyst", "cache"),
		},
	}
}

// Example returns a small runnable configuration, used by `epochalyst init`.
func Example() *Config {
	cfg := Default()
	cfg.Name = "example"
	cfg.XSteps = []Step{
		{Block: "fill_nan", Params: map[string]any{"value": 0}, Cache: &core.CacheArgs{OutputDataType: core.NumpyArray}},
	}
	// standardize fits on the training x, so it is a training step.
	cfg.TrainSteps = []Step{
		{Block: "standardize", Cache: &core.CacheArgs{OutputDataType: core.NumpyArray}},
		{Block: "linear_regression", Params: map[string]any{"fit_intercept": true}, Cache: &core.CacheArgs{OutputDataType: core.NumpyArray}},
	}
	return cfg
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load for in-memory YAML.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML, creating the parent directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) applyEnvOverrides() {
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.Logging.Level = level
	}
	if dir := os.Getenv(EnvCacheDir); dir != "" {
		if c.Cache == nil {
			c.Cache = Default().Cache
		}
		c.Cache.StoragePath = dir
	}
	if path := os.Getenv(EnvCatalog); path != "" {
		c.CatalogPath = path
	}
}

// StepCache returns the effective cache args of a step, or nil when the step
// does not cache.
func (c *Config) StepCache(s Step) *core.CacheArgs {
	if s.Cache == nil {
		return nil
	}
	out := *s.Cache
	if c.Cache != nil {
		if out.OutputDataType == "" {
			out.OutputDataType = c.Cache.OutputDataType
		}
		if out.StorageType == "" {
			out.StorageType = c.Cache.StorageType
		}
		if out.StoragePath == "" {
			out.StoragePath = c.Cache.StoragePath
		}
	}
	return &out
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if c.Logging.Level != "" {
		if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
			errs = append(errs, fmt.Errorf("logging.level: %w", err))
		}
	}
	if c.Cache != nil && !c.Cache.IsZero() {
		if err := c.Cache.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}
	errs = append(errs, c.validateSteps("x_steps", c.XSteps)...)
	errs = append(errs, c.validateSteps("y_steps", c.YSteps)...)
	errs = append(errs, c.validateSteps("train_steps", c.TrainSteps)...)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

func (c *Config) validateSteps(field string, steps []Step) []error {
	var errs []error
	seen := map[string]bool{}
	for i, s := range steps {
		if strings.TrimSpace(s.Block) == "" {
			errs = append(errs, fmt.Errorf("%s[%d].block is required", field, i))
			continue
		}
		name := s.StepName()
		if seen[name] {
			errs = append(errs, fmt.Errorf("%s[%d]: duplicate step name %q (set name)", field, i, name))
		}
		seen[name] = true
		if args := c.StepCache(s); args != nil {
			if err := args.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("%s[%d].cache: %w", field, i, err))
			}
		}
	}
	return errs
}
