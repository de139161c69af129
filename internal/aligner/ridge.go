package aligner

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Ridge is the online ridge-regression state inside the subspace.
//
// gram accumulates λI + Σ x xᵀ and moment accumulates Σ x·y. theta is never
// written by anything except solve, so it always equals gram⁻¹·moment.
type Ridge struct {
	lambda float64
	gram   *mat.SymDense
	moment *mat.VecDense
	theta  *mat.VecDense
}

func newRidge(k int, lambda float64) *Ridge {
	gram := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		gram.SetSym(i, i, lambda)
	}
	return &Ridge{
		lambda: lambda,
		gram:   gram,
		moment: mat.NewVecDense(k, nil),
		theta:  mat.NewVecDense(k, nil),
	}
}

// Dim returns the number of regression coefficients.
func (r *Ridge) Dim() int { return r.moment.Len() }

// Lambda returns the ridge coefficient.
func (r *Ridge) Lambda() float64 { return r.lambda }

func (r *Ridge) predict(x []float64) float64 {
	return mat.Dot(r.theta, mat.NewVecDense(len(x), x))
}

// observe folds one feature vector and its target into the state and re-solves.
func (r *Ridge) observe(x []float64, y float64) {
	xv := mat.NewVecDense(len(x), x)
	r.gram.SymRankOne(r.gram, 1, xv)
	r.moment.AddScaledVec(r.moment, y, xv)
	r.solve()
}

// grow adds one dimension: λ on the new diagonal entry, zero for the new
// moment entry, all existing entries kept as they were.
func (r *Ridge) grow() {
	old := r.Dim()
	k := old + 1

	gram := mat.NewSymDense(k, nil)
	for i := 0; i < old; i++ {
		for j := i; j < old; j++ {
			gram.SetSym(i, j, r.gram.At(i, j))
		}
	}
	gram.SetSym(old, old, r.lambda)

	moment := mat.NewVecDense(k, nil)
	for i := 0; i < old; i++ {
		moment.SetVec(i, r.moment.AtVec(i))
	}

	r.gram = gram
	r.moment = moment
	r.theta = mat.NewVecDense(k, nil)
	r.solve()
}

func (r *Ridge) solve() {
	var chol mat.Cholesky
	if chol.Factorize(r.gram) {
		err := chol.SolveVecTo(r.theta, r.moment)
		if err == nil || isCondition(err) {
			return
		}
	}
	// Cholesky only refuses a matrix that is not numerically positive definite.
	// λ > 0 rules that out, so reaching the LU path means the invariant broke.
	if err := r.theta.SolveVec(r.gram, r.moment); err != nil && !isCondition(err) {
		panic(fmt.Sprintf("aligner: ridge system of dim %d is singular: %v", r.Dim(), err))
	}
}

func isCondition(err error) bool {
	var cond mat.Condition
	return errors.As(err, &cond)
}

// Theta returns a copy of the current coefficients.
func (r *Ridge) Theta() []float64 {
	return copyVec(r.theta)
}

// Moment returns a copy of b.
func (r *Ridge) Moment() []float64 {
	return copyVec(r.moment)
}

// Gram returns a row-major copy of A.
func (r *Ridge) Gram() []float64 {
	k := r.Dim()
	out := make([]float64, k*k)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			out[i*k+j] = r.gram.At(i, j)
		}
	}
	return out
}

func copyVec(v *mat.VecDense) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}
