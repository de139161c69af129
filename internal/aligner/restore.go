package aligner

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Restore rebuilds an aligner from a stored snapshot. The snapshot's shapes,
// max dim and ridge must agree with cfg and its Gram matrix must be positive
// definite; θ is recomputed from A and b rather than trusted. Further sampling
// draws from src.
func Restore(cfg Config, snap Snapshot, src rand.Source) (*Aligner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("%w: nil randomness source", ErrInvalidConfig)
	}
	d, k := snap.AmbientDim, snap.Dim
	switch {
	case d != cfg.AmbientDim:
		return nil, fmt.Errorf("restore: snapshot ambient dim %d, config wants %d", d, cfg.AmbientDim)
	case snap.MaxDim != cfg.MaxDim:
		return nil, fmt.Errorf("restore: snapshot max dim %d, config wants %d", snap.MaxDim, cfg.MaxDim)
	case snap.Ridge != cfg.Ridge:
		return nil, fmt.Errorf("restore: snapshot ridge %g, config wants %g", snap.Ridge, cfg.Ridge)
	case k < 1 || k > cfg.MaxDim:
		return nil, fmt.Errorf("restore: snapshot dim %d outside [1, %d]", k, cfg.MaxDim)
	case len(snap.Basis) != d*k, len(snap.Gram) != k*k, len(snap.Moment) != k:
		return nil, fmt.Errorf("restore: snapshot arrays do not match D=%d k=%d", d, k)
	case snap.Residual != nil && len(snap.Residual) != d:
		return nil, fmt.Errorf("restore: residual has length %d, want %d", len(snap.Residual), d)
	}

	basis := newBasis(d, cfg.MaxDim)
	col := make([]float64, d)
	for j := 0; j < k; j++ {
		for i := 0; i < d; i++ {
			col[i] = snap.Basis[i*k+j]
		}
		basis.appendColumn(col)
	}

	gram := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			gram.SetSym(i, j, snap.Gram[i*k+j])
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(gram) {
		return nil, fmt.Errorf("restore: gram matrix is not positive definite")
	}
	moment := make([]float64, k)
	copy(moment, snap.Moment)
	ridge := &Ridge{
		lambda: cfg.Ridge,
		gram:   gram,
		moment: mat.NewVecDense(k, moment),
		theta:  mat.NewVecDense(k, nil),
	}
	ridge.solve()

	residual := make([]float64, d)
	copy(residual, snap.Residual)

	return &Aligner{
		cfg:      cfg,
		basis:    basis,
		ridge:    ridge,
		residual: residual,
		normal:   distuv.Normal{Mu: 0, Sigma: 1, Src: src},
	}, nil
}
