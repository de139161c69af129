// Package env provides the synthetic feedback source used for offline runs:
// a user with a hidden unit-norm preference vector who answers each probe
// with a noisy inner product.
package env

import (
	"context"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

const normEps = 1e-9

// LinearUser scores probes as ⟨w, p/‖p‖⟩ + N(0, σ²).
type LinearUser struct {
	pref  []float64
	noise distuv.Normal
}

// NewLinearUser wraps a known preference vector. The vector is normalized.
func NewLinearUser(pref []float64, noiseStd float64, src rand.Source) (*LinearUser, error) {
	if len(pref) == 0 {
		return nil, fmt.Errorf("new linear user: empty preference vector")
	}
	if noiseStd < 0 {
		return nil, fmt.Errorf("new linear user: negative noise std %g", noiseStd)
	}
	w := make([]float64, len(pref))
	copy(w, pref)
	floats.Scale(1/(floats.Norm(w, 2)+normEps), w)
	return &LinearUser{
		pref:  w,
		noise: distuv.Normal{Mu: 0, Sigma: noiseStd, Src: src},
	}, nil
}

// NewRandomUser draws the hidden preference from N(0, I) and normalizes it.
// The same source keeps feeding the observation noise.
func NewRandomUser(dim int, noiseStd float64, src rand.Source) (*LinearUser, error) {
	if dim < 1 {
		return nil, fmt.Errorf("new random user: dim %d < 1", dim)
	}
	std := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	w := make([]float64, dim)
	for i := range w {
		w[i] = std.Rand()
	}
	return NewLinearUser(w, noiseStd, src)
}

// Dim returns the ambient dimension of the hidden preference.
func (u *LinearUser) Dim() int { return len(u.pref) }

// Score returns the noisy feedback for probe.
func (u *LinearUser) Score(probe []float64) float64 {
	if len(probe) != len(u.pref) {
		panic(fmt.Sprintf("env: probe has length %d, want %d", len(probe), len(u.pref)))
	}
	n := floats.Norm(probe, 2) + normEps
	base := floats.Dot(u.pref, probe) / n
	if u.noise.Sigma == 0 {
		return base
	}
	return base + u.noise.Rand()
}

// Feedback satisfies the session feedback-source contract. The synthetic user never fails.
func (u *LinearUser) Feedback(_ context.Context, _ int, probe []float64) (float64, error) {
	return u.Score(probe), nil
}

// TruePref returns a copy of the hidden preference vector.
func (u *LinearUser) TruePref() []float64 {
	out := make([]float64, len(u.pref))
	copy(out, u.pref)
	return out
}
