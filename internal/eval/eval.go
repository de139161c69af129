package eval

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/latent-aligner/internal/aligner"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// #region eval-harness
// EvalHarness checks the structural invariants of an aligner snapshot.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run validates snap: orthonormal basis, symmetric positive definite Gram
// matrix with every diagonal entry at least λ, k within bounds, and θ solving
// Aθ = b. Failures are reported, never fatal.
func (h *EvalHarness) Run(snap aligner.Snapshot) EvalResult {
	var metrics []EvalMetric
	var failReasons []string
	check := func(name string, value float64, pass bool, reason string) {
		metrics = append(metrics, EvalMetric{Name: name, Value: value, Pass: pass})
		if !pass {
			failReasons = append(failReasons, reason)
		}
	}

	d, k := snap.AmbientDim, snap.Dim
	if len(snap.Basis) != d*k || len(snap.Gram) != k*k || len(snap.Moment) != k || len(snap.Theta) != k {
		return EvalResult{Reason: fmt.Sprintf("eval failed: snapshot shapes inconsistent with D=%d k=%d", d, k)}
	}

	// 1. Dimension bounds
	check("dim", float64(k), k >= 1 && k <= snap.MaxDim && snap.MaxDim <= d,
		fmt.Sprintf("dim %d outside [1, %d]", k, snap.MaxDim))

	// 2. Orthonormality
	b := mat.NewDense(d, k, snap.Basis)
	var btb mat.Dense
	btb.Mul(b.T(), b)
	orthErr := 0.0
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			orthErr = math.Max(orthErr, math.Abs(btb.At(i, j)-want))
		}
	}
	check("orthonormality_error", orthErr, orthErr <= h.config.OrthTol,
		fmt.Sprintf("orthonormality error %.3g exceeds %.3g", orthErr, h.config.OrthTol))

	// 3. Gram symmetry and diagonal floor
	a := mat.NewDense(k, k, snap.Gram)
	symErr, minDiag := 0.0, math.Inf(1)
	for i := 0; i < k; i++ {
		minDiag = math.Min(minDiag, a.At(i, i))
		for j := i + 1; j < k; j++ {
			symErr = math.Max(symErr, math.Abs(a.At(i, j)-a.At(j, i)))
		}
	}
	check("gram_symmetry_error", symErr, symErr <= h.config.SymTol,
		fmt.Sprintf("gram asymmetry %.3g exceeds %.3g", symErr, h.config.SymTol))
	check("gram_min_diagonal", minDiag, minDiag >= snap.Ridge*(1-1e-12),
		fmt.Sprintf("gram diagonal %.4g below ridge %.4g", minDiag, snap.Ridge))

	// 4. Positive definiteness
	sym := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			sym.SetSym(i, j, a.At(i, j))
		}
	}
	var chol mat.Cholesky
	spd := chol.Factorize(sym)
	check("gram_positive_definite", boolValue(spd), spd, "gram matrix is not positive definite")

	// 5. θ solves the normal equations
	var atheta mat.VecDense
	atheta.MulVec(a, mat.NewVecDense(k, snap.Theta))
	solveErr := 0.0
	for i := 0; i < k; i++ {
		solveErr = math.Max(solveErr, math.Abs(atheta.AtVec(i)-snap.Moment[i]))
	}
	scale := 1 + floats.Norm(snap.Moment, math.Inf(1))
	check("solve_residual", solveErr, solveErr <= h.config.SolveTol*scale,
		fmt.Sprintf("|Aθ - b| %.3g exceeds %.3g", solveErr, h.config.SolveTol*scale))

	reason := "all checks passed"
	if len(failReasons) > 0 {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
		if len(failReasons) > 1 {
			reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
		}
	}
	return EvalResult{
		Passed:  len(failReasons) == 0,
		Metrics: metrics,
		Reason:  reason,
	}
}

// #endregion eval-harness

// #region alignment
// Cosine returns the cosine similarity of a and b with an epsilon guard, so a
// zero vector scores 0.
func Cosine(a, b []float64) float64 {
	return floats.Dot(a, b) / (floats.Norm(a, 2)*floats.Norm(b, 2) + 1e-9)
}

// #endregion alignment

// #region helpers
func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
