// Package config loads the tab tree settings through viper: built-in
// defaults, an optional YAML file, and TABTREE_* environment overrides.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Meander-Cloud/go-tabtree/grouptab"
	"github.com/Meander-Cloud/go-tabtree/logging"
	"github.com/Meander-Cloud/go-tabtree/tabtree"
)

// EnvPrefix prefixes environment overrides, e.g. TABTREE_GROUP_RECLAIM_DELAY_MS.
const EnvPrefix = "TABTREE"

type Config struct {
	Group     GroupConfig     `mapstructure:"group"`
	Tree      TreeConfig      `mapstructure:"tree"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type GroupConfig struct {
	// BaseURI is the page group tabs are opened at.
	BaseURI string `mapstructure:"base_uri"`
	// LabelFormat titles new groups, "%s" is the first grouped tab's title.
	LabelFormat           string `mapstructure:"label_format"`
	DefaultTemporaryState string `mapstructure:"default_temporary_state"`
	ReclaimDelayMs        int    `mapstructure:"reclaim_delay_ms"`
}

type TreeConfig struct {
	CloseParentBehavior string `mapstructure:"close_parent_behavior"`
}

type SchedulerConfig struct {
	EventChannelLength int  `mapstructure:"event_channel_length"`
	LogDebug           bool `mapstructure:"log_debug"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Group: GroupConfig{
			BaseURI:               grouptab.DefaultBaseURI,
			LabelFormat:           "%s and more",
			DefaultTemporaryState: grouptab.StatePassive.String(),
			ReclaimDelayMs:        100,
		},
		Tree: TreeConfig{
			CloseParentBehavior: tabtree.PromoteAllChildren.String(),
		},
		Scheduler: SchedulerConfig{
			EventChannelLength: 1024,
			LogDebug:           false,
		},
		Logging: LoggingConfig{
			Level:      logging.LevelInfo,
			File:       "",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
	}
}

// SetDefaults registers default values with v
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("group.base_uri", defaults.Group.BaseURI)
	v.SetDefault("group.label_format", defaults.Group.LabelFormat)
	v.SetDefault("group.default_temporary_state", defaults.Group.DefaultTemporaryState)
	v.SetDefault("group.reclaim_delay_ms", defaults.Group.ReclaimDelayMs)

	v.SetDefault("tree.close_parent_behavior", defaults.Tree.CloseParentBehavior)

	v.SetDefault("scheduler.event_channel_length", defaults.Scheduler.EventChannelLength)
	v.SetDefault("scheduler.log_debug", defaults.Scheduler.LogDebug)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.file", defaults.Logging.File)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	v.SetDefault("logging.compress", defaults.Logging.Compress)
}

// New returns a viper instance with defaults registered and environment
// overrides enabled.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration from v into a Config and validates it
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// LoadFile loads path on top of the defaults. An empty path loads the
// defaults and the environment only.
func LoadFile(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	return Load(v)
}

func (c GroupConfig) ReclaimDelay() time.Duration {
	return time.Duration(c.ReclaimDelayMs) * time.Millisecond
}

// TemporaryState is the parsed DefaultTemporaryState. Call after Validate.
func (c GroupConfig) TemporaryState() grouptab.TemporaryState {
	state, _ := grouptab.ParseTemporaryState(c.DefaultTemporaryState)
	return state
}

// Behavior is the parsed CloseParentBehavior. Call after Validate.
func (c TreeConfig) Behavior() tabtree.CloseParentBehavior {
	behavior, _ := tabtree.ParseCloseParentBehavior(c.CloseParentBehavior)
	return behavior
}

func (c LoggingConfig) Logging() logging.Config {
	return logging.Config{
		Level:      c.Level,
		File:       c.File,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		Compress:   c.Compress,
	}
}
