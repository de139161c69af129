// Package aligner discovers a hidden preference direction in R^D from scalar
// feedback on probe vectors. It models preference inside a small orthonormal
// subspace, fits coefficients there with online ridge regression, and grows the
// subspace by one direction when accumulated feedback points somewhere the
// current basis cannot represent.
//
// An Aligner is not safe for concurrent use. Absorption and expansion must be
// serialized by the caller; independent sessions need independent Aligners.
package aligner

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// normEps guards every normalization; a zero vector stays zero.
	normEps = 1e-9
	// orthFloor is the smallest orthogonal exploration component worth using.
	orthFloor = 1e-6
	// zeroResidualTol matches an all-close-to-zero test on the residual accumulator.
	zeroResidualTol = 1e-8
)

// Aligner owns the basis, the regression state and the residual accumulator.
type Aligner struct {
	cfg      Config
	basis    *Basis
	ridge    *Ridge
	residual []float64
	normal   distuv.Normal
}

// NewSource returns the deterministic randomness source used by New callers
// that only have a seed.
func NewSource(seed uint64) rand.Source {
	return rand.NewPCG(seed, seed^0x5851f42d4c957f2d)
}

// New builds an aligner with a random orthonormal initial basis drawn from src.
// Every stochastic operation of the aligner draws from src and nothing else.
func New(cfg Config, src rand.Source) (*Aligner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("%w: nil randomness source", ErrInvalidConfig)
	}

	a := &Aligner{
		cfg:      cfg,
		ridge:    newRidge(cfg.InitDim, cfg.Ridge),
		residual: make([]float64, cfg.AmbientDim),
		normal:   distuv.Normal{Mu: 0, Sigma: 1, Src: src},
	}
	sample := mat.NewDense(cfg.AmbientDim, cfg.InitDim, a.draw(cfg.AmbientDim*cfg.InitDim))
	a.basis = orthonormalBasis(sample, cfg.MaxDim)
	return a, nil
}

// #region operations

// SampleAction draws a unit-norm probe. The bulk of its energy lies inside
// the current subspace; a fraction set by ExploreAlpha points into the
// orthogonal complement so that later expansions have evidence to work with.
func (a *Aligner) SampleAction() []float64 {
	z := a.draw(a.basis.Dim())
	unitize(z)
	probe := a.basis.Lift(z)

	u := a.basis.Reject(a.draw(a.cfg.AmbientDim))
	if n := floats.Norm(u, 2); n > orthFloor {
		floats.AddScaled(probe, a.cfg.ExploreAlpha/n, u)
	}

	unitize(probe)
	return probe
}

// Predict returns θ·Bᵀp for the unit-normalized probe p, the same feature map
// UpdateWithSample trains on. It has no side effects.
func (a *Aligner) Predict(probe []float64) float64 {
	a.checkAmbient(probe)
	p := unitCopy(probe)
	return a.ridge.predict(a.basis.Project(p))
}

// UpdateWithSample absorbs one (probe, feedback) observation.
//
// The returned prediction uses the coefficients from before this sample.
// The returned signal is the raw feedback: it is both the regression target
// and the weight with which the normalized probe enters the residual accumulator.
func (a *Aligner) UpdateWithSample(probe []float64, feedback float64) (signal, prediction float64) {
	a.checkAmbient(probe)
	p := unitCopy(probe)
	x := a.basis.Project(p)

	prediction = a.ridge.predict(x)
	signal = feedback

	a.ridge.observe(x, feedback)
	floats.AddScaled(a.residual, signal, p)
	return signal, prediction
}

// ExpandSubspace tries to add one basis direction taken from the residual
// accumulator. It reports false, leaving every piece of state untouched, when
// the subspace is already at MaxDim, when the accumulator is zero, or when its
// component outside the subspace is shorter than minNorm.
func (a *Aligner) ExpandSubspace(minNorm float64) bool {
	if a.basis.Dim() >= a.cfg.MaxDim {
		return false
	}
	if isZero(a.residual) {
		return false
	}

	// Two projection passes keep the new column orthogonal to working
	// precision even when most of the residual already lies in the subspace.
	orth := a.basis.Reject(a.basis.Reject(a.residual))
	n := floats.Norm(orth, 2)
	if n < minNorm || n == 0 {
		return false
	}
	floats.Scale(1/n, orth)

	a.basis.appendColumn(orth)
	a.ridge.grow()
	for i := range a.residual {
		a.residual[i] = 0
	}
	return true
}

// CurrentApproxPref returns Bθ, the ambient-space estimate of the preference.
func (a *Aligner) CurrentApproxPref() []float64 {
	return a.basis.Lift(a.ridge.Theta())
}

// #endregion operations

// #region accessors

// Config returns the configuration the aligner was built with.
func (a *Aligner) Config() Config { return a.cfg }

// Dim returns the current subspace dimension k.
func (a *Aligner) Dim() int { return a.basis.Dim() }

// AmbientDim returns D.
func (a *Aligner) AmbientDim() int { return a.cfg.AmbientDim }

// MaxDim returns the configured upper bound on k.
func (a *Aligner) MaxDim() int { return a.cfg.MaxDim }

// AtCapacity reports whether k has reached MaxDim.
func (a *Aligner) AtCapacity() bool { return a.basis.Dim() >= a.cfg.MaxDim }

// Basis returns a copy of B as a D x k matrix.
func (a *Aligner) Basis() *mat.Dense { return a.basis.Dense() }

// Theta returns a copy of the coefficients solving Aθ = b.
func (a *Aligner) Theta() []float64 { return a.ridge.Theta() }

// Gram returns a row-major copy of A.
func (a *Aligner) Gram() []float64 { return a.ridge.Gram() }

// Moment returns a copy of b.
func (a *Aligner) Moment() []float64 { return a.ridge.Moment() }

// Residual returns a copy of the residual accumulator g.
func (a *Aligner) Residual() []float64 {
	out := make([]float64, len(a.residual))
	copy(out, a.residual)
	return out
}

// ResidualNorm returns ‖g‖₂.
func (a *Aligner) ResidualNorm() float64 { return floats.Norm(a.residual, 2) }

// Snapshot returns a deep copy of the full state.
func (a *Aligner) Snapshot() Snapshot {
	return Snapshot{
		AmbientDim: a.cfg.AmbientDim,
		Dim:        a.basis.Dim(),
		MaxDim:     a.cfg.MaxDim,
		Ridge:      a.cfg.Ridge,
		Basis:      a.Basis().RawMatrix().Data,
		Gram:       a.ridge.Gram(),
		Moment:     a.ridge.Moment(),
		Theta:      a.ridge.Theta(),
		Residual:   a.Residual(),
	}
}

// #endregion accessors

// #region helpers

func (a *Aligner) draw(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = a.normal.Rand()
	}
	return out
}

func (a *Aligner) checkAmbient(v []float64) {
	if len(v) != a.cfg.AmbientDim {
		panic(fmt.Sprintf("aligner: probe has length %d, ambient dim is %d", len(v), a.cfg.AmbientDim))
	}
}

// unitize scales v in place by 1/(‖v‖+normEps).
func unitize(v []float64) {
	floats.Scale(1/(floats.Norm(v, 2)+normEps), v)
}

func unitCopy(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	unitize(out)
	return out
}

func isZero(v []float64) bool {
	for _, x := range v {
		if math.Abs(x) > zeroResidualTol {
			return false
		}
	}
	return true
}

// #endregion helpers
