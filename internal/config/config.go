// Package config loads the aligner configuration from a YAML file,
// ALIGNER_* environment variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/latent-aligner/internal/aligner"
	"github.com/danielpatrickdp/latent-aligner/internal/codec"
	"github.com/danielpatrickdp/latent-aligner/internal/logging"
	"github.com/danielpatrickdp/latent-aligner/internal/trigger"
)

// EnvPrefix is prepended to every environment override, e.g. ALIGNER_TRIGGER_POLICY.
const EnvPrefix = "ALIGNER"

// Config holds the complete application configuration.
type Config struct {
	Aligner    AlignerConfig    `mapstructure:"aligner" yaml:"aligner"`
	Trigger    TriggerConfig    `mapstructure:"trigger" yaml:"trigger"`
	Simulation SimulationConfig `mapstructure:"simulation" yaml:"simulation"`
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
	Scorer     ScorerConfig     `mapstructure:"scorer" yaml:"scorer"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

// AlignerConfig holds the subspace dimensions, learning rates and the seed.
type AlignerConfig struct {
	AmbientDim    int     `mapstructure:"ambient_dim" yaml:"ambient_dim"`
	InitDim       int     `mapstructure:"init_dim" yaml:"init_dim"`
	MaxDim        int     `mapstructure:"max_dim" yaml:"max_dim"`
	Ridge         float64 `mapstructure:"ridge" yaml:"ridge"`
	ExploreAlpha  float64 `mapstructure:"explore_alpha" yaml:"explore_alpha"`
	MinExpandNorm float64 `mapstructure:"min_expand_norm" yaml:"min_expand_norm"`
	Seed          uint64  `mapstructure:"seed" yaml:"seed"`
}

// TriggerConfig selects and tunes the expansion policy.
type TriggerConfig struct {
	Policy                string  `mapstructure:"policy" yaml:"policy"`
	Window                int     `mapstructure:"window" yaml:"window"`
	ErrorThreshold        float64 `mapstructure:"error_threshold" yaml:"error_threshold"`
	BadMeanThreshold      float64 `mapstructure:"bad_mean_threshold" yaml:"bad_mean_threshold"`
	ResidualNormThreshold float64 `mapstructure:"residual_norm_threshold" yaml:"residual_norm_threshold"`
	Cooldown              int     `mapstructure:"cooldown" yaml:"cooldown"`
	HistoryLimit          int     `mapstructure:"history_limit" yaml:"history_limit"`
}

// SimulationConfig drives the offline simulate command.
type SimulationConfig struct {
	Rounds   int     `mapstructure:"rounds" yaml:"rounds"`
	NoiseStd float64 `mapstructure:"noise_std" yaml:"noise_std"`
	LogEvery int     `mapstructure:"log_every" yaml:"log_every"`
}

// StoreConfig points at the SQLite database. An empty path disables persistence.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// ScorerConfig addresses the remote feedback scorer.
type ScorerConfig struct {
	Addr      string        `mapstructure:"addr" yaml:"addr"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RewardMin float64       `mapstructure:"reward_min" yaml:"reward_min"`
	RewardMax float64       `mapstructure:"reward_max" yaml:"reward_max"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
	File   string `mapstructure:"file" yaml:"file"`
}

// MetricsConfig sets the /metrics listen address. Empty disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Default returns the configuration the simulator ships with.
func Default() *Config {
	a := aligner.DefaultConfig()
	t := trigger.DefaultConfig()
	s := codec.DefaultScorerConfig()
	l := logging.DefaultConfig()
	return &Config{
		Aligner: AlignerConfig{
			AmbientDim:    a.AmbientDim,
			InitDim:       a.InitDim,
			MaxDim:        a.MaxDim,
			Ridge:         a.Ridge,
			ExploreAlpha:  a.ExploreAlpha,
			MinExpandNorm: a.MinExpandNorm,
			Seed:          42,
		},
		Trigger: TriggerConfig{
			Policy:                t.Policy,
			Window:                t.Window,
			ErrorThreshold:        t.ErrorThreshold,
			BadMeanThreshold:      t.BadMeanThreshold,
			ResidualNormThreshold: t.ResidualNormThreshold,
			Cooldown:              t.Cooldown,
			HistoryLimit:          t.HistoryLimit,
		},
		Simulation: SimulationConfig{Rounds: 400, NoiseStd: 0.15, LogEvery: 50},
		Store:      StoreConfig{Path: "latent_aligner.db"},
		Scorer: ScorerConfig{
			Addr:      s.Addr,
			Timeout:   s.Timeout,
			RewardMin: s.RewardMin,
			RewardMax: s.RewardMax,
		},
		Logging: LoggingConfig{Level: l.Level, Pretty: l.Pretty, File: l.File},
	}
}

// #region load

// Load reads configuration from path, then environment overrides. A missing
// file at path is created with the defaults. An empty path skips the file.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			if err := WriteDefault(path); err != nil {
				return nil, err
			}
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteDefault writes the default configuration as YAML to path.
func WriteDefault(path string) error {
	return Default().SaveToFile(path)
}

// SaveToFile writes c as YAML, creating parent directories.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("aligner.ambient_dim", d.Aligner.AmbientDim)
	v.SetDefault("aligner.init_dim", d.Aligner.InitDim)
	v.SetDefault("aligner.max_dim", d.Aligner.MaxDim)
	v.SetDefault("aligner.ridge", d.Aligner.Ridge)
	v.SetDefault("aligner.explore_alpha", d.Aligner.ExploreAlpha)
	v.SetDefault("aligner.min_expand_norm", d.Aligner.MinExpandNorm)
	v.SetDefault("aligner.seed", d.Aligner.Seed)
	v.SetDefault("trigger.policy", d.Trigger.Policy)
	v.SetDefault("trigger.window", d.Trigger.Window)
	v.SetDefault("trigger.error_threshold", d.Trigger.ErrorThreshold)
	v.SetDefault("trigger.bad_mean_threshold", d.Trigger.BadMeanThreshold)
	v.SetDefault("trigger.residual_norm_threshold", d.Trigger.ResidualNormThreshold)
	v.SetDefault("trigger.cooldown", d.Trigger.Cooldown)
	v.SetDefault("trigger.history_limit", d.Trigger.HistoryLimit)
	v.SetDefault("simulation.rounds", d.Simulation.Rounds)
	v.SetDefault("simulation.noise_std", d.Simulation.NoiseStd)
	v.SetDefault("simulation.log_every", d.Simulation.LogEvery)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("scorer.addr", d.Scorer.Addr)
	v.SetDefault("scorer.timeout", d.Scorer.Timeout)
	v.SetDefault("scorer.reward_min", d.Scorer.RewardMin)
	v.SetDefault("scorer.reward_max", d.Scorer.RewardMax)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.pretty", d.Logging.Pretty)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// #endregion load

// #region validate

// Validate checks every section that has constraints of its own.
func (c *Config) Validate() error {
	if err := c.AlignerConfig().Validate(); err != nil {
		return err
	}
	if _, err := trigger.New(c.TriggerConfig()); err != nil {
		return err
	}
	if c.Simulation.Rounds < 0 {
		return fmt.Errorf("invalid simulation rounds: %d", c.Simulation.Rounds)
	}
	if c.Simulation.NoiseStd < 0 {
		return fmt.Errorf("invalid simulation noise_std: %g", c.Simulation.NoiseStd)
	}
	if c.Scorer.RewardMin > c.Scorer.RewardMax {
		return fmt.Errorf("invalid scorer reward range [%g, %g]", c.Scorer.RewardMin, c.Scorer.RewardMax)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// #endregion validate

// #region convert

// AlignerConfig converts the aligner section.
func (c *Config) AlignerConfig() aligner.Config {
	return aligner.Config{
		AmbientDim:    c.Aligner.AmbientDim,
		InitDim:       c.Aligner.InitDim,
		MaxDim:        c.Aligner.MaxDim,
		Ridge:         c.Aligner.Ridge,
		ExploreAlpha:  c.Aligner.ExploreAlpha,
		MinExpandNorm: c.Aligner.MinExpandNorm,
	}
}

// TriggerConfig converts the trigger section. The windowed policy shares the
// aligner's acceptance threshold.
func (c *Config) TriggerConfig() trigger.Config {
	return trigger.Config{
		Policy:                c.Trigger.Policy,
		Window:                c.Trigger.Window,
		ErrorThreshold:        c.Trigger.ErrorThreshold,
		BadMeanThreshold:      c.Trigger.BadMeanThreshold,
		ResidualNormThreshold: c.Trigger.ResidualNormThreshold,
		Cooldown:              c.Trigger.Cooldown,
		HistoryLimit:          c.Trigger.HistoryLimit,
		MinExpandNorm:         c.Aligner.MinExpandNorm,
	}
}

// ScorerConfig converts the scorer section.
func (c *Config) ScorerConfig() codec.ScorerConfig {
	return codec.ScorerConfig{
		Addr:      c.Scorer.Addr,
		Timeout:   c.Scorer.Timeout,
		RewardMin: c.Scorer.RewardMin,
		RewardMax: c.Scorer.RewardMax,
	}
}

// LoggingConfig converts the logging section.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{Level: c.Logging.Level, Pretty: c.Logging.Pretty, File: c.Logging.File}
}

// #endregion convert
