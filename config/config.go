package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mbellward/arbor/internal/util"
)

// CLI verbosity values mapped onto internal log levels by [NewConfig].
const (
	ErrorVerbose = iota + 1
	WarnVerbose
	InfoVerbose
	DebugVerbose
	TraceVerbose
)

// Default configuration constants. See [Config] for field descriptions.
const (
	// DefaultMaxTreeDepth is the recommended maximum node depth. Exceeding
	// it is not an error but triggers a performance warning, since very
	// deep trees cost memory and slow path resolution.
	DefaultMaxTreeDepth = 2048

	// DefaultMaxNodeAttrs is the recommended maximum number of attributes
	// per node before a performance warning is emitted.
	DefaultMaxNodeAttrs = 4096

	// DefaultMaxGroupWidth is the recommended maximum number of children
	// per group before a performance warning is emitted.
	DefaultMaxGroupWidth = 16384

	// DefaultDeadNodeCacheSize is the number of released-but-revivable
	// nodes kept by the path index before the oldest is fully closed.
	DefaultDeadNodeCacheSize = 64

	// DefaultLogLvl is the log level used when none is configured.
	DefaultLogLvl = util.InfoLevel
)

// Config contains runtime tunables for a container and its path index.
type Config struct {
	LogLvl            util.LogLevel // Internal log level (Default info)
	MaxTreeDepth      int           // Recommended maximum node depth before warning (Default 2048)
	MaxNodeAttrs      int           // Recommended maximum attributes per node before warning (Default 4096)
	MaxGroupWidth     int           // Recommended maximum children per group before warning (Default 16384)
	DeadNodeCacheSize int           // Capacity of the revivable dead-node cache (Default 64)
}

// ConfigOverride uses pointer fields to distinguish between unset and zero
// values when loading partial configuration. See [Config] for field
// descriptions. LogLvl here is the CLI verbosity (1 error .. 5 trace), not
// the internal level.
type ConfigOverride struct {
	LogLvl            *int `yaml:"verbose,omitempty" json:"verbose,omitempty"`
	MaxTreeDepth      *int `yaml:"max_tree_depth,omitempty" json:"max_tree_depth,omitempty"`
	MaxNodeAttrs      *int `yaml:"max_node_attrs,omitempty" json:"max_node_attrs,omitempty"`
	MaxGroupWidth     *int `yaml:"max_group_width,omitempty" json:"max_group_width,omitempty"`
	DeadNodeCacheSize *int `yaml:"dead_node_cache_size,omitempty" json:"dead_node_cache_size,omitempty"`
}

// NewDefaultConfig creates a new Config with all default values.
func NewDefaultConfig() *Config {
	return &Config{
		LogLvl:            DefaultLogLvl,
		MaxTreeDepth:      DefaultMaxTreeDepth,
		MaxNodeAttrs:      DefaultMaxNodeAttrs,
		MaxGroupWidth:     DefaultMaxGroupWidth,
		DeadNodeCacheSize: DefaultDeadNodeCacheSize,
	}
}

// NewConfig creates a Config from defaults with override applied on top.
// A nil override yields the defaults.
func NewConfig(override *ConfigOverride) *Config {
	cfg := NewDefaultConfig()
	if override != nil {
		cfg.Merge(override)
	}
	return cfg
}

// Merge applies non-nil values from override onto this Config.
// This allows partial configuration updates while preserving existing values.
func (c *Config) Merge(override *ConfigOverride) {
	if override.LogLvl != nil {
		c.LogLvl = verboseToLevel(*override.LogLvl)
	}
	if override.MaxTreeDepth != nil {
		c.MaxTreeDepth = *override.MaxTreeDepth
	}
	if override.MaxNodeAttrs != nil {
		c.MaxNodeAttrs = *override.MaxNodeAttrs
	}
	if override.MaxGroupWidth != nil {
		c.MaxGroupWidth = *override.MaxGroupWidth
	}
	if override.DeadNodeCacheSize != nil {
		c.DeadNodeCacheSize = *override.DeadNodeCacheSize
	}
}

// verboseToLevel maps CLI verbosity (clamped to 1..5) to an internal level.
func verboseToLevel(verbose int) util.LogLevel {
	if verbose < ErrorVerbose {
		verbose = ErrorVerbose
	}
	if verbose > TraceVerbose {
		verbose = TraceVerbose
	}
	levels := [...]util.LogLevel{
		util.ErrorLevel, util.WarnLevel, util.InfoLevel, util.DebugLevel, util.TraceLevel,
	}
	return levels[verbose-1]
}

// LoadConfigOverrideFile loads configuration overrides from a file without merging.
// Supports both YAML (.yaml, .yml) and JSON (.json) formats.
func LoadConfigOverrideFile(path string) (*ConfigOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var override ConfigOverride

	// Determine format by file extension
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config file extension: %s", path)
	}

	return &override, nil
}

// NewConfigFromFile creates a new Config by merging file overrides with defaults.
// This is a convenience function that combines NewDefaultConfig, LoadConfigOverrideFile, and Merge.
func NewConfigFromFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	override, err := LoadConfigOverrideFile(path)
	if err != nil {
		return nil, err
	}
	cfg.Merge(override)
	return cfg, nil
}
