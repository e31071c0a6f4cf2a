package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ErrUnknownVariant is returned when a variant name has no definition.
var ErrUnknownVariant = errors.New("unknown variant")

// LoadDotEnv loads .env files into the process environment. Missing files
// are ignored; existing variables are never overridden.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

// Load reads and parses configuration from a file. An empty path returns
// the defaults.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		cfg := Defaults()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}

	cfg = applyConfigDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", absPath, err)
	}
	return cfg, nil
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML %s: %w", path, err)
	}
	return &cfg, nil
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.Experiment.OutputDir == "" {
		cfg.Experiment.OutputDir = defaults.Experiment.OutputDir
	}
	if cfg.Experiment.Workdir == "" {
		cfg.Experiment.Workdir = defaults.Experiment.Workdir
	}
	if cfg.Experiment.Workers == 0 {
		cfg.Experiment.Workers = defaults.Experiment.Workers
	}
	if cfg.Experiment.StatePath == "" {
		cfg.Experiment.StatePath = defaults.Experiment.StatePath
	}
	if cfg.Experiment.Variant == "" {
		cfg.Experiment.Variant = defaults.Experiment.Variant
	}

	if cfg.Model.Provider == "" {
		cfg.Model.Provider = defaults.Model.Provider
	}
	if cfg.Model.ID == "" {
		cfg.Model.ID = defaults.Model.ID
	}
	if cfg.Model.RequestTimeout == 0 {
		cfg.Model.RequestTimeout = defaults.Model.RequestTimeout
	}
	if cfg.Model.MaxRetries == 0 {
		cfg.Model.MaxRetries = defaults.Model.MaxRetries
	}

	if cfg.Agent.MaxTurns == 0 {
		cfg.Agent.MaxTurns = defaults.Agent.MaxTurns
	}

	if len(cfg.Sandbox.AllowedPrefixes) == 0 {
		cfg.Sandbox.AllowedPrefixes = defaults.Sandbox.AllowedPrefixes
	}
	if cfg.Sandbox.Timeout == 0 {
		cfg.Sandbox.Timeout = defaults.Sandbox.Timeout
	}
	if cfg.Sandbox.MaxOutputBytes == 0 {
		cfg.Sandbox.MaxOutputBytes = defaults.Sandbox.MaxOutputBytes
	}

	if cfg.Workspace.BaseURL == "" {
		cfg.Workspace.BaseURL = defaults.Workspace.BaseURL
	}
	if cfg.Workspace.CloneTimeout == 0 {
		cfg.Workspace.CloneTimeout = defaults.Workspace.CloneTimeout
	}
	if cfg.Workspace.CloneRetries == 0 {
		cfg.Workspace.CloneRetries = defaults.Workspace.CloneRetries
	}

	if cfg.Evaluation.Timeout == 0 {
		cfg.Evaluation.Timeout = defaults.Evaluation.Timeout
	}

	// Built-in variants stay available; file entries override by name.
	variants := DefaultVariants()
	for name, v := range cfg.Variants {
		variants[name] = v
	}
	cfg.Variants = variants

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = defaults.Telemetry.ServiceName
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// Validate performs basic validation on the configuration.
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(c.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", c.Service.LogLevel)
	}
	if f := strings.ToLower(c.Service.LogFormat); f != "json" && f != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", c.Service.LogFormat)
	}

	if c.Experiment.Workers < 1 {
		return fmt.Errorf("experiment.workers must be >= 1 (got %d)", c.Experiment.Workers)
	}
	if c.Agent.MaxTurns < 1 {
		return fmt.Errorf("agent.max_turns must be >= 1 (got %d)", c.Agent.MaxTurns)
	}
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("sandbox.timeout must be positive")
	}
	if c.Sandbox.MaxOutputBytes < 0 {
		return fmt.Errorf("sandbox.max_output_bytes must not be negative")
	}
	if c.Workspace.CloneTimeout <= 0 {
		return fmt.Errorf("workspace.clone_timeout must be positive")
	}
	if c.Workspace.CloneRetries < 1 {
		return fmt.Errorf("workspace.clone_retries must be >= 1")
	}
	if c.Evaluation.Timeout <= 0 {
		return fmt.Errorf("evaluation.timeout must be positive")
	}
	if c.Model.RequestTimeout <= 0 {
		return fmt.Errorf("model.request_timeout must be positive")
	}
	if c.Model.Provider != "ollama" {
		return fmt.Errorf("model.provider %q is not supported", c.Model.Provider)
	}

	for _, name := range c.VariantNames() {
		v := c.Variants[name]
		if len(v.Capabilities) == 0 {
			return fmt.Errorf("variant %q: capabilities must be non-empty", name)
		}
		for _, capName := range v.Capabilities {
			if !KnownCapabilities[capName] {
				return fmt.Errorf("variant %q: unknown capability %q", name, capName)
			}
		}
	}
	if _, err := c.Variant(c.Experiment.Variant); err != nil {
		return fmt.Errorf("experiment.variant: %w", err)
	}

	return nil
}

// ValidateBatch adds the checks that only apply to batch runs.
func (c *Config) ValidateBatch() error {
	if strings.TrimSpace(c.Experiment.ID) == "" {
		return fmt.Errorf("experiment.id is required for batch runs")
	}
	if strings.ContainsAny(c.Experiment.ID, `/\`) || c.Experiment.ID == "." || c.Experiment.ID == ".." {
		return fmt.Errorf("experiment.id %q must be a single path segment", c.Experiment.ID)
	}
	return nil
}

// Variant returns the named variant.
func (c *Config) Variant(name string) (Variant, error) {
	v, ok := c.Variants[name]
	if !ok {
		return Variant{}, fmt.Errorf("%w: %q (known: %s)", ErrUnknownVariant, name, strings.Join(c.VariantNames(), ", "))
	}
	return v, nil
}

// VariantNames returns variant names sorted.
func (c *Config) VariantNames() []string {
	names := make([]string, 0, len(c.Variants))
	for name := range c.Variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
