package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/latent-aligner/internal/aligner"
	"github.com/danielpatrickdp/latent-aligner/internal/trigger"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description string                `json:"description"`
	Seed        uint64                `json:"seed"`
	Config      FixtureConfig         `json:"config"`
	Rounds      []FixtureRound        `json:"rounds"`
	Expected    FixtureExpectedResult `json:"expected"`
}

// FixtureRound is one recorded round. Signal, when present, is the value the
// aligner absorbed after filtering; otherwise the feedback itself is absorbed.
type FixtureRound struct {
	Feedback float64  `json:"feedback"`
	Signal   *float64 `json:"signal,omitempty"`
	Skipped  bool     `json:"skipped,omitempty"`
}

// FixtureExpectedResult captures the expected outcome of the whole run.
type FixtureExpectedResult struct {
	FinalDim       int   `json:"final_dim"`
	Expansions     int   `json:"expansions"`
	ExpansionSteps []int `json:"expansion_steps,omitempty"`
}

// FixtureConfig bundles the sub-configs for a replay run. It is also the
// config JSON stored with each run.
type FixtureConfig struct {
	Aligner FixtureAlignerConfig `json:"aligner"`
	Trigger FixtureTriggerConfig `json:"trigger"`
}

// FixtureAlignerConfig mirrors aligner.Config with JSON tags.
type FixtureAlignerConfig struct {
	AmbientDim    int     `json:"ambient_dim"`
	InitDim       int     `json:"init_dim"`
	MaxDim        int     `json:"max_dim"`
	Ridge         float64 `json:"ridge"`
	ExploreAlpha  float64 `json:"explore_alpha"`
	MinExpandNorm float64 `json:"min_expand_norm"`
}

// FixtureTriggerConfig mirrors trigger.Config with JSON tags.
type FixtureTriggerConfig struct {
	Policy                string  `json:"policy"`
	Window                int     `json:"window"`
	ErrorThreshold        float64 `json:"error_threshold"`
	BadMeanThreshold      float64 `json:"bad_mean_threshold"`
	ResidualNormThreshold float64 `json:"residual_norm_threshold"`
	Cooldown              int     `json:"cooldown"`
	HistoryLimit          int     `json:"history_limit"`
	MinExpandNorm         float64 `json:"min_expand_norm"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// WriteFixture writes f as indented JSON.
func WriteFixture(path string, f *Fixture) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// NewFixtureConfig converts domain configs to their JSON form.
func NewFixtureConfig(a aligner.Config, t trigger.Config) FixtureConfig {
	return FixtureConfig{
		Aligner: FixtureAlignerConfig{
			AmbientDim:    a.AmbientDim,
			InitDim:       a.InitDim,
			MaxDim:        a.MaxDim,
			Ridge:         a.Ridge,
			ExploreAlpha:  a.ExploreAlpha,
			MinExpandNorm: a.MinExpandNorm,
		},
		Trigger: FixtureTriggerConfig{
			Policy:                t.Policy,
			Window:                t.Window,
			ErrorThreshold:        t.ErrorThreshold,
			BadMeanThreshold:      t.BadMeanThreshold,
			ResidualNormThreshold: t.ResidualNormThreshold,
			Cooldown:              t.Cooldown,
			HistoryLimit:          t.HistoryLimit,
			MinExpandNorm:         t.MinExpandNorm,
		},
	}
}

// ToReplayConfig converts a fixture config and seed to a domain ReplayConfig.
func (fc *FixtureConfig) ToReplayConfig(seed uint64) ReplayConfig {
	return ReplayConfig{
		Seed: seed,
		Aligner: aligner.Config{
			AmbientDim:    fc.Aligner.AmbientDim,
			InitDim:       fc.Aligner.InitDim,
			MaxDim:        fc.Aligner.MaxDim,
			Ridge:         fc.Aligner.Ridge,
			ExploreAlpha:  fc.Aligner.ExploreAlpha,
			MinExpandNorm: fc.Aligner.MinExpandNorm,
		},
		Trigger: trigger.Config{
			Policy:                fc.Trigger.Policy,
			Window:                fc.Trigger.Window,
			ErrorThreshold:        fc.Trigger.ErrorThreshold,
			BadMeanThreshold:      fc.Trigger.BadMeanThreshold,
			ResidualNormThreshold: fc.Trigger.ResidualNormThreshold,
			Cooldown:              fc.Trigger.Cooldown,
			HistoryLimit:          fc.Trigger.HistoryLimit,
			MinExpandNorm:         fc.Trigger.MinExpandNorm,
		},
	}
}

// ToRound converts a FixtureRound to a domain Round.
func (fr *FixtureRound) ToRound() Round {
	return Round{Feedback: fr.Feedback, Signal: fr.Signal, Skipped: fr.Skipped}
}

// Replay runs the fixture's rounds through a fresh aligner.
func (f *Fixture) Replay() ([]ReplayResult, ReplaySummary, error) {
	rounds := make([]Round, len(f.Rounds))
	for i := range f.Rounds {
		rounds[i] = f.Rounds[i].ToRound()
	}
	return Replay(f.Config.ToReplayConfig(f.Seed), rounds)
}

// #endregion fixture-loader
