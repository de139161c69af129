package aligner

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned by New and Config.Validate for unusable settings.
var ErrInvalidConfig = errors.New("invalid aligner config")

// #region config
// Config holds the dimensions and learning parameters of an Aligner.
type Config struct {
	AmbientDim    int     // D, fixed for the lifetime of the aligner
	InitDim       int     // k at construction
	MaxDim        int     // upper bound on k
	Ridge         float64 // λ added on the diagonal for every dimension
	ExploreAlpha  float64 // weight of the out-of-subspace perturbation in SampleAction
	MinExpandNorm float64 // default acceptance threshold for ExpandSubspace
}

// DefaultConfig mirrors the reference simulation: D=32, k grows from 2 to at most 10.
func DefaultConfig() Config {
	return Config{
		AmbientDim:    32,
		InitDim:       2,
		MaxDim:        10,
		Ridge:         1.0,
		ExploreAlpha:  0.3,
		MinExpandNorm: 1e-6,
	}
}

// Validate checks the dimension ordering 1 <= InitDim <= MaxDim <= AmbientDim
// and that the ridge term keeps the regression system positive definite.
func (c Config) Validate() error {
	switch {
	case c.AmbientDim < 1:
		return fmt.Errorf("%w: ambient dim %d < 1", ErrInvalidConfig, c.AmbientDim)
	case c.InitDim < 1:
		return fmt.Errorf("%w: init dim %d < 1", ErrInvalidConfig, c.InitDim)
	case c.InitDim > c.MaxDim:
		return fmt.Errorf("%w: init dim %d exceeds max dim %d", ErrInvalidConfig, c.InitDim, c.MaxDim)
	case c.MaxDim > c.AmbientDim:
		return fmt.Errorf("%w: max dim %d exceeds ambient dim %d", ErrInvalidConfig, c.MaxDim, c.AmbientDim)
	case !(c.Ridge > 0):
		return fmt.Errorf("%w: ridge %g must be positive", ErrInvalidConfig, c.Ridge)
	case c.ExploreAlpha < 0:
		return fmt.Errorf("%w: explore alpha %g is negative", ErrInvalidConfig, c.ExploreAlpha)
	case c.MinExpandNorm < 0:
		return fmt.Errorf("%w: min expand norm %g is negative", ErrInvalidConfig, c.MinExpandNorm)
	}
	return nil
}

// #endregion config

// #region snapshot
// Snapshot is a deep copy of the aligner state at one point in time.
// Matrices are row-major: Basis is AmbientDim x Dim, Gram is Dim x Dim.
type Snapshot struct {
	AmbientDim int       `json:"ambient_dim"`
	Dim        int       `json:"dim"`
	MaxDim     int       `json:"max_dim"`
	Ridge      float64   `json:"ridge"`
	Basis      []float64 `json:"basis"`
	Gram       []float64 `json:"gram"`
	Moment     []float64 `json:"moment"`
	Theta      []float64 `json:"theta"`
	Residual   []float64 `json:"residual"`
}

// #endregion snapshot
