package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/latent-aligner/internal/aligner"
	"github.com/danielpatrickdp/latent-aligner/internal/trigger"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, aligner.DefaultConfig(), cfg.AlignerConfig())
	assert.Equal(t, trigger.DefaultConfig(), cfg.TriggerConfig())
	assert.Equal(t, 400, cfg.Simulation.Rounds)
	assert.Equal(t, uint64(42), cfg.Aligner.Seed)
}

func TestLoadWritesDefaultFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join("conf", "aligner.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = os.Stat(path)
	require.NoError(t, err, "default file should have been written")

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
	assert.Equal(t, 30*time.Second, again.Scorer.Timeout)
}

func TestLoadReadsFileValues(t *testing.T) {
	t.Chdir(t.TempDir())
	yml := `aligner:
  ambient_dim: 16
  max_dim: 5
trigger:
  policy: windowed_error
  window: 8
scorer:
  timeout: 2s
`
	require.NoError(t, os.WriteFile("aligner.yaml", []byte(yml), 0o644))

	cfg, err := Load("aligner.yaml")
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Aligner.AmbientDim)
	assert.Equal(t, 5, cfg.Aligner.MaxDim)
	assert.Equal(t, 2, cfg.Aligner.InitDim, "unset keys keep defaults")
	assert.Equal(t, trigger.PolicyWindowedError, cfg.Trigger.Policy)
	assert.Equal(t, 8, cfg.Trigger.Window)
	assert.Equal(t, 2*time.Second, cfg.Scorer.Timeout)
}

func TestEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ALIGNER_TRIGGER_POLICY", "windowed_error")
	t.Setenv("ALIGNER_ALIGNER_SEED", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, trigger.PolicyWindowedError, cfg.Trigger.Policy)
	assert.Equal(t, uint64(7), cfg.Aligner.Seed)
}

func TestDotEnvIsLoaded(t *testing.T) {
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile(".env", []byte("ALIGNER_SCORER_ADDR=scorer.internal:9000\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("ALIGNER_SCORER_ADDR") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "scorer.internal:9000", cfg.Scorer.Addr)
	assert.Equal(t, "scorer.internal:9000", cfg.ScorerConfig().Addr)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"init above max":  func(c *Config) { c.Aligner.InitDim = 11 },
		"max above D":     func(c *Config) { c.Aligner.MaxDim = 33 },
		"zero ridge":      func(c *Config) { c.Aligner.Ridge = 0 },
		"negative alpha":  func(c *Config) { c.Aligner.ExploreAlpha = -0.1 },
		"zero window":     func(c *Config) { c.Trigger.Window = 0 },
		"unknown policy":  func(c *Config) { c.Trigger.Policy = "eager" },
		"reward range":    func(c *Config) { c.Scorer.RewardMin = 2 },
		"bad level":       func(c *Config) { c.Logging.Level = "loud" },
		"negative noise":  func(c *Config) { c.Simulation.NoiseStd = -1 },
		"negative rounds": func(c *Config) { c.Simulation.Rounds = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	cfg.Aligner.InitDim = 0
	assert.True(t, errors.Is(cfg.Validate(), aligner.ErrInvalidConfig))
	cfg = Default()
	cfg.Trigger.Policy = "eager"
	assert.True(t, errors.Is(cfg.Validate(), trigger.ErrUnknownPolicy))
}

func TestConverters(t *testing.T) {
	cfg := Default()
	cfg.Aligner.MinExpandNorm = 1e-4
	cfg.Logging.File = "run.log"
	assert.Equal(t, 1e-4, cfg.TriggerConfig().MinExpandNorm)
	assert.Equal(t, "run.log", cfg.LoggingConfig().File)
	assert.Equal(t, cfg.Scorer.Timeout, cfg.ScorerConfig().Timeout)
}
