package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the default location for the Argos configuration file,
// relative to the project root.
const DefaultConfigPath = "argos.yaml"

// ConfigPathEnvVar is the environment variable name for a custom config path.
const ConfigPathEnvVar = "ARGOS_CONFIG_PATH"

// DefaultDatabasePath is the default location of the history database,
// relative to the project root. Deleting the file is a valid reset.
const DefaultDatabasePath = ".anvil/history.db"

// DefaultRetentionDays is the default execution-history retention window.
const DefaultRetentionDays = 90

// Sentinel errors for project configuration validation.
var (
	// ErrProjectNameEmpty is returned when the project name is missing.
	ErrProjectNameEmpty = errors.New("project name cannot be empty")

	// ErrRuleNameEmpty is returned when a configured rule has no name.
	ErrRuleNameEmpty = errors.New("rule name cannot be empty")

	// ErrRuleNameDuplicate is returned when two configured rules share a name.
	ErrRuleNameDuplicate = errors.New("duplicate rule name")

	// ErrRuleWindowInvalid is returned when a rule window is below 1.
	ErrRuleWindowInvalid = errors.New("rule window must be >= 1")

	// ErrRuleThresholdInvalid is returned when a rule threshold is outside [0, 1].
	ErrRuleThresholdInvalid = errors.New("rule threshold must be between 0 and 1")

	// ErrUnknownCIProvider is returned for a CI provider other than github-actions.
	ErrUnknownCIProvider = errors.New("unknown CI provider")
)

type (
	// Project holds the Argos project configuration loaded from argos.yaml.
	//
	// All sections are optional; zero values are filled with defaults by
	// applyDefaults so callers never see an unconfigured field.
	Project struct {
		ProjectInfo Info       `yaml:"project"`
		Validators  Validators `yaml:"validators"`
		Test        TestConfig `yaml:"test"`
		History     History    `yaml:"history"`
		Rules       []Rule     `yaml:"rules"`
		CI          CIConfig   `yaml:"ci"`
	}

	// Info identifies the project under observation.
	Info struct {
		Name string `yaml:"name"`
	}

	// Validators lists the enabled code-quality validators.
	Validators struct {
		Enabled []string `yaml:"enabled"`
	}

	// TestConfig holds test discovery settings.
	TestConfig struct {
		Patterns []string `yaml:"patterns"`
	}

	// History holds execution-history store settings.
	History struct {
		Enabled       bool   `yaml:"enabled"`
		Database      string `yaml:"database"`
		RetentionDays int    `yaml:"retention_days"`
	}

	// Rule is the YAML shape of a declarative execution rule. It mirrors the
	// stored ExecutionRule record; the store is the source of truth once a
	// rule has been imported.
	Rule struct {
		Name      string   `yaml:"name"`
		Enabled   *bool    `yaml:"enabled"` // nil means true
		Criteria  string   `yaml:"criteria"`
		Threshold float64  `yaml:"threshold"`
		Window    int      `yaml:"window"`
		Groups    []string `yaml:"groups"`
	}

	// CIConfig holds CI provider settings. The token itself never appears in
	// the config file; TokenEnv names the environment variable carrying it.
	CIConfig struct {
		Provider string `yaml:"provider"`
		TokenEnv string `yaml:"token_env"`
	}
)

// IsEnabled reports whether the rule is enabled. Rules default to enabled
// when the YAML omits the field.
func (r *Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// LoadProject loads the project configuration from a YAML file at the given
// path and applies defaults.
//
// A missing file is not an error: Argos works with defaults alone, the same
// way the history database creates itself on first open. Invalid YAML is an
// error because a present-but-broken config is almost always a user mistake
// that should not be silently ignored.
func LoadProject(path string) (*Project, error) {
	cfg := &Project{}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.applyDefaults()

			return cfg, nil
		}

		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyDefaults()

	return cfg, nil
}

// LoadProjectFromEnv loads config from the path in ARGOS_CONFIG_PATH, falling
// back to "argos.yaml" in the current directory.
func LoadProjectFromEnv() (*Project, error) {
	path := GetEnvStr(ConfigPathEnvVar, DefaultConfigPath)

	return LoadProject(path)
}

// applyDefaults fills zero values with production defaults.
func (c *Project) applyDefaults() {
	if c.ProjectInfo.Name == "" {
		if wd, err := os.Getwd(); err == nil {
			c.ProjectInfo.Name = filepath.Base(wd)
		} else {
			c.ProjectInfo.Name = "argos"
		}
	}

	if len(c.Validators.Enabled) == 0 {
		c.Validators.Enabled = []string{"flake8", "black", "isort"}
	}

	if len(c.Test.Patterns) == 0 {
		c.Test.Patterns = []string{"tests/**"}
	}

	if c.History.Database == "" {
		c.History.Enabled = true
		c.History.Database = GetEnvStr("ARGOS_DATABASE", DefaultDatabasePath)
	}

	if c.History.RetentionDays <= 0 {
		c.History.RetentionDays = DefaultRetentionDays
	}

	for i := range c.Rules {
		if c.Rules[i].Window == 0 {
			c.Rules[i].Window = 1
		}
	}

	if c.CI.Provider == "" {
		c.CI.Provider = "github-actions"
	}

	if c.CI.TokenEnv == "" {
		c.CI.TokenEnv = "GITHUB_TOKEN"
	}
}

// Validate checks the configuration for internal consistency.
func (c *Project) Validate() error {
	if c.ProjectInfo.Name == "" {
		return ErrProjectNameEmpty
	}

	if c.CI.Provider != "github-actions" {
		return fmt.Errorf("%w: %q", ErrUnknownCIProvider, c.CI.Provider)
	}

	seen := make(map[string]bool, len(c.Rules))

	for i := range c.Rules {
		rule := &c.Rules[i]

		if rule.Name == "" {
			return ErrRuleNameEmpty
		}

		if seen[rule.Name] {
			return fmt.Errorf("%w: %q", ErrRuleNameDuplicate, rule.Name)
		}

		seen[rule.Name] = true

		if rule.Window < 1 {
			return fmt.Errorf("%w: rule %q has window %d", ErrRuleWindowInvalid, rule.Name, rule.Window)
		}

		if rule.Threshold < 0 || rule.Threshold > 1 {
			return fmt.Errorf("%w: rule %q has threshold %f", ErrRuleThresholdInvalid, rule.Name, rule.Threshold)
		}
	}

	return nil
}
