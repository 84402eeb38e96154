// Package pipeline loads, validates and compiles the sieve, chute and watchdog
// configuration into the runtime objects the dispatcher uses.
package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultMungerName is the munger used as fallback when the configuration does not name one.
const DefaultMungerName = "default"

// Config is the full pipeline configuration.
type Config struct {
	Sources    []SourceConfig    `yaml:"sources" json:"sources"`
	Sieves     []SieveConfig     `yaml:"sieves" json:"sieves"`
	Condensers []CondenserConfig `yaml:"condensers" json:"condensers"`
	Mungers    []MungerConfig    `yaml:"mungers" json:"mungers"`
	Chutes     []ChuteConfig     `yaml:"chutes" json:"chutes"`
	Watchdogs  []WatchdogConfig  `yaml:"watchdogs" json:"watchdogs"`
	Defaults   DefaultsConfig    `yaml:"defaults" json:"defaults"`
}

// SourceConfig assigns categories to a collection. DefaultMunger and
// DefaultEnabled override the global defaults for documents from it.
type SourceConfig struct {
	Name           string   `yaml:"name" json:"name"`
	Categories     []string `yaml:"categories,omitempty" json:"categories,omitempty"`
	DefaultMunger  string   `yaml:"default_munger,omitempty" json:"default_munger,omitempty"`
	DefaultEnabled *bool    `yaml:"default_enabled,omitempty" json:"default_enabled,omitempty"`
}

// HasDefaults reports whether the source overrides the global defaults.
func (s SourceConfig) HasDefaults() bool {
	return s.DefaultMunger != "" || s.DefaultEnabled != nil
}

// Defaults merges the source overrides onto global.
func (s SourceConfig) Defaults(global DefaultsConfig) DefaultsConfig {
	d := global
	if s.DefaultMunger != "" {
		d.Munger = s.DefaultMunger
	}
	if s.DefaultEnabled != nil {
		d.Enabled = s.DefaultEnabled
	}
	return d
}

// SieveConfig is a rule group. Top-level sieves are named; nested groups are not.
type SieveConfig struct {
	Name   string        `yaml:"name,omitempty" json:"name,omitempty"`
	Logic  string        `yaml:"logic,omitempty" json:"logic,omitempty"`
	Negate bool          `yaml:"negate,omitempty" json:"negate,omitempty"`
	Rules  []RuleConfig  `yaml:"rules,omitempty" json:"rules,omitempty"`
	Groups []SieveConfig `yaml:"groups,omitempty" json:"groups,omitempty"`
}

// RuleConfig is a single field comparison.
type RuleConfig struct {
	Field    string `yaml:"field" json:"field"`
	Operator string `yaml:"operator" json:"operator"`
	Value    any    `yaml:"value,omitempty" json:"value,omitempty"`
	Negate   bool   `yaml:"negate,omitempty" json:"negate,omitempty"`
}

// CondenserConfig names a list of fittings.
type CondenserConfig struct {
	Name     string          `yaml:"name" json:"name"`
	Fittings []FittingConfig `yaml:"fittings" json:"fittings"`
}

// FittingConfig maps one source field to one target field.
type FittingConfig struct {
	Target   string `yaml:"target" json:"target"`
	Source   string `yaml:"source" json:"source"`
	Type     string `yaml:"type,omitempty" json:"type,omitempty"`
	Pattern  string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Default  any    `yaml:"default,omitempty" json:"default,omitempty"`
	Required bool   `yaml:"required,omitempty" json:"required,omitempty"`
}

// MungerConfig binds a condenser to a distillery.
type MungerConfig struct {
	Name       string `yaml:"name" json:"name"`
	Condenser  string `yaml:"condenser" json:"condenser"`
	Distillery string `yaml:"distillery" json:"distillery"`
}

// ChuteConfig binds an optional sieve to a munger for the listed sources.
type ChuteConfig struct {
	Name     string   `yaml:"name" json:"name"`
	Sieve    string   `yaml:"sieve,omitempty" json:"sieve,omitempty"`
	Munger   string   `yaml:"munger" json:"munger"`
	Platform string   `yaml:"platform,omitempty" json:"platform,omitempty"`
	Sources  []string `yaml:"sources,omitempty" json:"sources,omitempty"` // empty means every source
	Enabled  *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"` // nil means true
}

// WatchdogConfig describes a watchdog and its triggers.
type WatchdogConfig struct {
	Name       string          `yaml:"name" json:"name"`
	Enabled    *bool           `yaml:"enabled,omitempty" json:"enabled,omitempty"` // nil means true
	Categories []string        `yaml:"categories,omitempty" json:"categories,omitempty"`
	Triggers   []TriggerConfig `yaml:"triggers" json:"triggers"`
	Muzzle     *MuzzleConfig   `yaml:"muzzle,omitempty" json:"muzzle,omitempty"`
}

// TriggerConfig raises Level when Sieve matches.
type TriggerConfig struct {
	Sieve string `yaml:"sieve" json:"sieve"`
	Level string `yaml:"level" json:"level"`
	Rank  int    `yaml:"rank" json:"rank"`
}

// MuzzleConfig configures duplicate suppression for a watchdog.
type MuzzleConfig struct {
	MatchingFields string `yaml:"matching_fields" json:"matching_fields"`
	TimeInterval   int    `yaml:"time_interval" json:"time_interval"`
	TimeUnit       string `yaml:"time_unit" json:"time_unit"`
	Enabled        *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"` // nil means true
}

// DefaultsConfig configures the fallback munger.
type DefaultsConfig struct {
	Munger  string `yaml:"munger,omitempty" json:"munger,omitempty"`
	Enabled *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"` // nil means true
}

// MungerName returns the configured default munger name, or DefaultMungerName.
func (d DefaultsConfig) MungerName() string {
	if d.Munger == "" {
		return DefaultMungerName
	}
	return d.Munger
}

// IsEnabled reports whether the default munger fallback is on.
func (d DefaultsConfig) IsEnabled() bool {
	return enabled(d.Enabled)
}

func enabled(b *bool) bool {
	return b == nil || *b
}

// Parse decodes a YAML (or JSON) configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline config: %w", err)
	}
	return &cfg, nil
}

// LoadFile reads and decodes a configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline config %s: %w", path, err)
	}
	return Parse(data)
}
