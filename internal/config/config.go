// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config provides configuration management for planwatch.
// It loads the optional YAML file, applies defaults for absent keys
// and clamps invalid values through the Sanitize methods.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/traylinx/planwatch/internal/provider"
	"github.com/traylinx/planwatch/internal/util"
	"gopkg.in/yaml.v3"
)

const (
	DefaultWatchInterval      = 60 * time.Second
	DefaultStallThreshold     = 180 * time.Second
	DefaultMaxInterventions   = 3
	DefaultPlanFile           = "@fix_plan.md"
	DefaultHintFile           = ".orchestrator_hints.md"
	DefaultStatusFile         = ".ralph_status.json"
	DefaultProviderTimeout    = 180 * time.Second
	DefaultRunner             = "node"
	DefaultSchedule           = "@every 30m"
	DefaultEventThreshold     = 10
	DefaultLogsMaxSizeMB      = 10
	minWatchInterval          = time.Second
	minProviderTimeout        = time.Second
	maxProviderTimeout        = 30 * time.Minute
	maxInterventionsCeiling   = 10
	defaultConfigFileBasename = "config.yaml"
)

// Config is the root of the YAML configuration.
type Config struct {
	// Debug enables debug level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile writes logs to a rotating file under the state directory.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogsMaxSizeMB is the size at which the log file rotates.
	LogsMaxSizeMB int `yaml:"logs-max-size-mb" json:"logs-max-size-mb"`

	// Watch configures the stall supervisor.
	Watch WatchConfig `yaml:"watch" json:"watch"`

	// Providers configures the provider table and the CLI invoker.
	Providers ProvidersConfig `yaml:"providers" json:"providers"`

	// Consolidation configures the consolidation trigger.
	Consolidation ConsolidationConfig `yaml:"consolidation" json:"consolidation"`
}

// WatchConfig holds the stall supervisor settings.
type WatchConfig struct {
	// Interval is the sleep between two fingerprint checks. Minimum "1s".
	Interval string `yaml:"interval" json:"interval"`

	// StallThreshold is how long the plan may stay unchanged before an intervention.
	// It is never shorter than Interval.
	StallThreshold string `yaml:"stall-threshold" json:"stall-threshold"`

	// MaxInterventions is the escalation ceiling (1..10).
	MaxInterventions int `yaml:"max-interventions" json:"max-interventions"`

	PlanFile   string `yaml:"plan-file" json:"plan-file"`
	HintFile   string `yaml:"hint-file" json:"hint-file"`
	StatusFile string `yaml:"status-file" json:"status-file"`
}

// ProvidersConfig holds provider routing settings.
type ProvidersConfig struct {
	// Tier selects the Gemini plan ("pro" or "free"). Empty defers to GEMINI_TIER.
	Tier string `yaml:"tier" json:"tier"`

	// Runner launches each provider CLI. Empty runs the CLI directly.
	Runner string `yaml:"runner" json:"runner"`

	// Timeout is the wall-clock budget of one provider call (1s..30m).
	Timeout string `yaml:"timeout" json:"timeout"`

	// CLIDir is where "<id>-cli" scripts are looked up.
	CLIDir string `yaml:"cli-dir" json:"cli-dir"`

	// Overrides adjusts built-in descriptors per provider id.
	Overrides map[string]ProviderOverride `yaml:"overrides,omitempty" json:"overrides,omitempty"`
}

// ProviderOverride replaces selected fields of a built-in descriptor.
type ProviderOverride struct {
	CLIPath    string `yaml:"cli-path,omitempty" json:"cli-path,omitempty"`
	Model      string `yaml:"model,omitempty" json:"model,omitempty"`
	DailyLimit int    `yaml:"daily-limit,omitempty" json:"daily-limit,omitempty"`
	Cooldown   string `yaml:"cooldown,omitempty" json:"cooldown,omitempty"`
	Priority   int    `yaml:"priority,omitempty" json:"priority,omitempty"`
}

// ConsolidationConfig holds the consolidation trigger settings.
type ConsolidationConfig struct {
	// Schedule is a robfig/cron spec for the consolidation daemon.
	Schedule string `yaml:"schedule" json:"schedule"`

	// EventThreshold is the number of new events that raises the consolidation flag.
	EventThreshold int `yaml:"event-threshold" json:"event-threshold"`
}

// DefaultConfigPath returns the config location inside the state directory.
func DefaultConfigPath(sb *util.StateBox) string {
	return sb.ResolvePath(defaultConfigFileBasename)
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	cfg.Sanitize()
	return cfg
}

func (cfg *Config) setDefaults() {
	cfg.LogsMaxSizeMB = DefaultLogsMaxSizeMB
	cfg.Watch.Interval = DefaultWatchInterval.String()
	cfg.Watch.StallThreshold = DefaultStallThreshold.String()
	cfg.Watch.MaxInterventions = DefaultMaxInterventions
	cfg.Watch.PlanFile = DefaultPlanFile
	cfg.Watch.HintFile = DefaultHintFile
	cfg.Watch.StatusFile = DefaultStatusFile
	cfg.Providers.Runner = DefaultRunner
	cfg.Providers.Timeout = DefaultProviderTimeout.String()
	cfg.Providers.CLIDir = provider.DefaultCLIDir
	cfg.Consolidation.Schedule = DefaultSchedule
	cfg.Consolidation.EventThreshold = DefaultEventThreshold
}

// LoadConfig reads YAML from configFile.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads YAML from configFile.
// If optional is true and the file is missing or empty, it returns the defaults.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && (os.IsNotExist(err) || errors.Is(err, syscall.EISDIR)) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	// Set defaults before unmarshal so that absent keys keep defaults.
	cfg.setDefaults()

	if len(strings.TrimSpace(string(data))) > 0 {
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Sanitize clamps every section to usable values.
func (cfg *Config) Sanitize() {
	if cfg == nil {
		return
	}
	if cfg.LogsMaxSizeMB <= 0 {
		cfg.LogsMaxSizeMB = DefaultLogsMaxSizeMB
	}
	cfg.SanitizeWatch()
	cfg.SanitizeProviders()
	cfg.SanitizeConsolidation()
}

// SanitizeWatch normalizes the supervisor settings.
func (cfg *Config) SanitizeWatch() {
	w := &cfg.Watch

	interval, err := time.ParseDuration(strings.TrimSpace(w.Interval))
	if err != nil || interval < minWatchInterval {
		interval = DefaultWatchInterval
	}
	w.Interval = interval.String()

	threshold, err := time.ParseDuration(strings.TrimSpace(w.StallThreshold))
	if err != nil || threshold <= 0 {
		threshold = DefaultStallThreshold
	}
	if threshold < interval {
		threshold = interval
	}
	w.StallThreshold = threshold.String()

	if w.MaxInterventions < 1 || w.MaxInterventions > maxInterventionsCeiling {
		w.MaxInterventions = DefaultMaxInterventions
	}

	w.PlanFile = defaultString(w.PlanFile, DefaultPlanFile)
	w.HintFile = defaultString(w.HintFile, DefaultHintFile)
	w.StatusFile = defaultString(w.StatusFile, DefaultStatusFile)
}

// SanitizeProviders normalizes provider settings and override keys.
// Override entries are lower-cased; invalid cooldowns are dropped.
func (cfg *Config) SanitizeProviders() {
	p := &cfg.Providers

	p.Tier = strings.ToLower(strings.TrimSpace(p.Tier))
	if p.Tier != "" && p.Tier != string(provider.TierPro) && p.Tier != string(provider.TierFree) {
		p.Tier = string(provider.TierPro)
	}
	p.Runner = strings.TrimSpace(p.Runner)

	timeout, err := time.ParseDuration(strings.TrimSpace(p.Timeout))
	if err != nil || timeout < minProviderTimeout || timeout > maxProviderTimeout {
		timeout = DefaultProviderTimeout
	}
	p.Timeout = timeout.String()

	p.CLIDir = defaultString(p.CLIDir, provider.DefaultCLIDir)

	if len(p.Overrides) == 0 {
		p.Overrides = nil
		return
	}
	normalized := make(map[string]ProviderOverride, len(p.Overrides))
	for id, o := range p.Overrides {
		key := strings.ToLower(strings.TrimSpace(id))
		if key == "" {
			continue
		}
		o.CLIPath = strings.TrimSpace(o.CLIPath)
		o.Model = strings.TrimSpace(o.Model)
		if o.DailyLimit < 0 {
			o.DailyLimit = 0
		}
		if o.Priority < 0 {
			o.Priority = 0
		}
		if o.Cooldown != "" {
			if d, err := time.ParseDuration(o.Cooldown); err != nil || d <= 0 {
				o.Cooldown = ""
			}
		}
		normalized[key] = o
	}
	p.Overrides = normalized
}

// SanitizeConsolidation normalizes the consolidation trigger settings.
func (cfg *Config) SanitizeConsolidation() {
	c := &cfg.Consolidation
	c.Schedule = defaultString(c.Schedule, DefaultSchedule)
	if c.EventThreshold < 1 {
		c.EventThreshold = DefaultEventThreshold
	}
}

// Validate reports settings that cannot be clamped, such as overrides for unknown providers.
func (cfg *Config) Validate() error {
	var unknown []string
	for id := range cfg.Providers.Overrides {
		if !provider.Known(id) {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown provider ids in overrides: %s", strings.Join(unknown, ", "))
	}
	return nil
}

// WatchInterval returns the supervisor interval.
func (cfg *Config) WatchInterval() time.Duration {
	return parseOr(cfg.Watch.Interval, DefaultWatchInterval)
}

// StallThreshold returns the stall threshold.
func (cfg *Config) StallThreshold() time.Duration {
	return parseOr(cfg.Watch.StallThreshold, DefaultStallThreshold)
}

// ProviderTimeout returns the per-call provider budget.
func (cfg *Config) ProviderTimeout() time.Duration {
	return parseOr(cfg.Providers.Timeout, DefaultProviderTimeout)
}

// Descriptors builds the provider table with tier, CLI directory and overrides applied.
func (cfg *Config) Descriptors() ([]provider.Descriptor, error) {
	cliDir, err := util.ExpandPath(cfg.Providers.CLIDir)
	if err != nil {
		return nil, fmt.Errorf("invalid cli-dir: %w", err)
	}
	table := provider.Table(provider.ResolveTier(cfg.Providers.Tier), cliDir)

	if len(cfg.Providers.Overrides) == 0 {
		return table, nil
	}
	overrides := make(map[provider.ID]provider.Override, len(cfg.Providers.Overrides))
	for id, o := range cfg.Providers.Overrides {
		cliPath := o.CLIPath
		if cliPath != "" && strings.HasPrefix(cliPath, "~") {
			if expanded, err := util.ExpandPath(cliPath); err == nil {
				cliPath = expanded
			}
		}
		overrides[provider.ID(id)] = provider.Override{
			CLIPath:    cliPath,
			Model:      o.Model,
			DailyLimit: o.DailyLimit,
			Cooldown:   parseOr(o.Cooldown, 0),
			Priority:   o.Priority,
		}
	}
	return provider.ApplyOverrides(table, overrides), nil
}

func parseOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func defaultString(s, fallback string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	return s
}
