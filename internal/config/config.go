package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds the full callsite configuration.
type Config struct {
	Engine    EngineConfig            `yaml:"engine"`
	Rules     map[string]RuleOverride `yaml:"rules,omitempty" validate:"dive"`
	Types     []TypeDecl              `yaml:"types,omitempty" validate:"dive"`
	Store     StoreConfig             `yaml:"store"`
	Cache     CacheConfig             `yaml:"cache"`
	Gate      GateConfig              `yaml:"gate"`
	Telemetry TelemetryConfig         `yaml:"telemetry"`
	Output    OutputConfig            `yaml:"output"`
	Watch     WatchConfig             `yaml:"watch"`
}

// EngineConfig tunes traversal scheduling.
type EngineConfig struct {
	Workers      int      `yaml:"workers" validate:"gte=0,lte=256"`
	FileTimeout  string   `yaml:"file_timeout,omitempty" validate:"omitempty,duration"`
	NameIndex    *bool    `yaml:"name_index,omitempty"`
	StrictSyntax *bool    `yaml:"strict_syntax,omitempty"`
	Exclude      []string `yaml:"exclude,omitempty"`
}

// RuleOverride toggles or re-levels a rule by ID.
type RuleOverride struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Level   string `yaml:"level,omitempty" validate:"omitempty,oneof=error warning note"`
}

// TypeDecl adds a library type to the oracle's catalog.
type TypeDecl struct {
	Name       string            `yaml:"name" validate:"required"`
	Supertypes []string          `yaml:"supertypes,omitempty" validate:"dive,required"`
	Methods    map[string]string `yaml:"methods,omitempty"`
	Fields     map[string]string `yaml:"fields,omitempty"`
}

// StoreConfig selects where analysis results are persisted.
type StoreConfig struct {
	Backend string `yaml:"backend" validate:"omitempty,oneof=file sqlite"`
	Dir     string `yaml:"dir,omitempty"`
	DSN     string `yaml:"dsn,omitempty"`
}

// CacheConfig controls the per-file result cache.
type CacheConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Dir     string `yaml:"dir,omitempty"`
	TTL     string `yaml:"ttl,omitempty" validate:"omitempty,duration"`
}

// GateConfig points the verdict evaluator at custom Rego policies.
type GateConfig struct {
	PolicyDir string `yaml:"policy_dir,omitempty"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Endpoint       string            `yaml:"endpoint,omitempty"`
	Protocol       string            `yaml:"protocol,omitempty" validate:"omitempty,oneof=grpc http stdout"`
	Insecure       bool              `yaml:"insecure,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty"`
	ServiceName    string            `yaml:"service_name,omitempty"`
	ServiceVersion string            `yaml:"service_version,omitempty"`
	SampleRate     float64           `yaml:"sample_rate" validate:"gte=0,lte=1"`
}

// OutputConfig picks the default report format.
type OutputConfig struct {
	Format      string `yaml:"format,omitempty" validate:"omitempty,oneof=auto json sarif markdown pretty"`
	MetricsFile string `yaml:"metrics_file,omitempty"`
}

// WatchConfig configures `callsite watch`.
type WatchConfig struct {
	Debounce       string   `yaml:"debounce,omitempty" validate:"omitempty,duration"`
	ParallelFiles  int      `yaml:"parallel_files,omitempty" validate:"gte=0"`
	WatchPatterns  []string `yaml:"watch_patterns,omitempty"`
	IgnorePatterns []string `yaml:"ignore_patterns,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d >= 0
	})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that the configuration is valid and ready to use.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q check (value %v)", fieldPath(fe), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Store.Backend == "sqlite" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required when store.backend is sqlite")
	}
	if c.Telemetry.Enabled && c.Telemetry.Protocol != "stdout" && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}
	seen := make(map[string]bool, len(c.Types))
	for _, t := range c.Types {
		if seen[t.Name] {
			return fmt.Errorf("types: %s declared twice", t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// FileTimeoutDuration returns the parsed per-file timeout, zero when unset.
func (e EngineConfig) FileTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(e.FileTimeout)
	return d
}

// RuleEnabled reports whether the rule with the given ID should run.
// Rules without an override are enabled.
func (c *Config) RuleEnabled(id string) bool {
	o, ok := c.Rules[id]
	if !ok || o.Enabled == nil {
		return true
	}
	return *o.Enabled
}

// MergeConfigs merges configs in order of increasing precedence.
// Later configs override earlier ones. Non-zero scalar fields override;
// pointer booleans override whenever the higher tier sets them; lists
// replace wholesale; types merge by name.
func MergeConfigs(configs ...*Config) *Config {
	result := &Config{
		Rules: make(map[string]RuleOverride),
	}

	for _, cfg := range configs {
		if cfg == nil {
			continue
		}

		mergeEngine(&result.Engine, cfg.Engine)

		for id, o := range cfg.Rules {
			existing := result.Rules[id]
			if o.Enabled != nil {
				existing.Enabled = o.Enabled
			}
			if o.Level != "" {
				existing.Level = o.Level
			}
			result.Rules[id] = existing
		}

		for _, t := range cfg.Types {
			replaced := false
			for i := range result.Types {
				if result.Types[i].Name == t.Name {
					result.Types[i] = t
					replaced = true
					break
				}
			}
			if !replaced {
				result.Types = append(result.Types, t)
			}
		}

		if cfg.Store.Backend != "" {
			result.Store.Backend = cfg.Store.Backend
		}
		if cfg.Store.Dir != "" {
			result.Store.Dir = cfg.Store.Dir
		}
		if cfg.Store.DSN != "" {
			result.Store.DSN = cfg.Store.DSN
		}

		if cfg.Cache.Enabled != nil {
			result.Cache.Enabled = cfg.Cache.Enabled
		}
		if cfg.Cache.Dir != "" {
			result.Cache.Dir = cfg.Cache.Dir
		}
		if cfg.Cache.TTL != "" {
			result.Cache.TTL = cfg.Cache.TTL
		}

		if cfg.Gate.PolicyDir != "" {
			result.Gate.PolicyDir = cfg.Gate.PolicyDir
		}

		mergeTelemetry(&result.Telemetry, cfg.Telemetry)

		if cfg.Output.Format != "" {
			result.Output.Format = cfg.Output.Format
		}
		if cfg.Output.MetricsFile != "" {
			result.Output.MetricsFile = cfg.Output.MetricsFile
		}

		if cfg.Watch.Debounce != "" {
			result.Watch.Debounce = cfg.Watch.Debounce
		}
		if cfg.Watch.ParallelFiles != 0 {
			result.Watch.ParallelFiles = cfg.Watch.ParallelFiles
		}
		if len(cfg.Watch.WatchPatterns) > 0 {
			result.Watch.WatchPatterns = cfg.Watch.WatchPatterns
		}
		if len(cfg.Watch.IgnorePatterns) > 0 {
			result.Watch.IgnorePatterns = cfg.Watch.IgnorePatterns
		}
	}

	return result
}

func mergeEngine(dst *EngineConfig, src EngineConfig) {
	if src.Workers != 0 {
		dst.Workers = src.Workers
	}
	if src.FileTimeout != "" {
		dst.FileTimeout = src.FileTimeout
	}
	if src.NameIndex != nil {
		dst.NameIndex = src.NameIndex
	}
	if src.StrictSyntax != nil {
		dst.StrictSyntax = src.StrictSyntax
	}
	if len(src.Exclude) > 0 {
		dst.Exclude = src.Exclude
	}
}

// mergeTelemetry never turns telemetry off; CALLSITE_TELEMETRY_ENABLED does.
func mergeTelemetry(dst *TelemetryConfig, src TelemetryConfig) {
	if src.Endpoint != "" {
		dst.Endpoint = src.Endpoint
	}
	if src.Protocol != "" {
		dst.Protocol = src.Protocol
	}
	if src.Insecure {
		dst.Insecure = true
	}
	if len(src.Headers) > 0 {
		dst.Headers = src.Headers
	}
	if src.ServiceName != "" {
		dst.ServiceName = src.ServiceName
	}
	if src.ServiceVersion != "" {
		dst.ServiceVersion = src.ServiceVersion
	}
	if src.SampleRate != 0 {
		dst.SampleRate = src.SampleRate
	}
	if src.Enabled {
		dst.Enabled = true
	}
}

// LoadFromFile reads a YAML config file. Returns nil, nil if the file doesn't exist.
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return &cfg, nil
}

// LoadTiered loads system defaults, then machine config, then project config,
// and merges them in order of increasing precedence.
func LoadTiered(machinePath, projectPath string) (*Config, error) {
	system := SystemDefaults()

	machine, err := LoadFromFile(machinePath)
	if err != nil {
		return nil, fmt.Errorf("loading machine config: %w", err)
	}

	project, err := LoadFromFile(projectPath)
	if err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	return MergeConfigs(system, machine, project), nil
}

// MachineConfigPath is ~/.config/callsite/config.yaml, or "" without a home.
func MachineConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "callsite", "config.yaml")
}

// ProjectConfigPath is <root>/.callsite/config.yaml.
func ProjectConfigPath(root string) string {
	return filepath.Join(root, ".callsite", "config.yaml")
}
