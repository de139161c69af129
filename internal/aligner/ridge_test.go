package aligner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestRidgeObserveMatchesClosedForm(t *testing.T) {
	r := newRidge(2, 0.5)
	xs := [][]float64{{1, 0}, {0.6, 0.8}, {-0.3, 0.9}}
	ys := []float64{0.2, -0.4, 1.1}
	for i := range xs {
		r.observe(xs[i], ys[i])
	}

	// A = 0.5 I + Σ x xᵀ, b = Σ x y
	a := mat.NewDense(2, 2, []float64{0.5, 0, 0, 0.5})
	b := mat.NewVecDense(2, nil)
	for i, x := range xs {
		xv := mat.NewVecDense(2, x)
		var outer mat.Dense
		outer.Outer(1, xv, xv)
		a.Add(a, &outer)
		b.AddScaledVec(b, ys[i], xv)
	}
	var want mat.VecDense
	require.NoError(t, want.SolveVec(a, b))

	assert.InDeltaSlice(t, want.RawVector().Data, r.Theta(), 1e-12)
	assert.InDeltaSlice(t, b.RawVector().Data, r.Moment(), 1e-12)
	assert.InDeltaSlice(t, a.RawMatrix().Data, r.Gram(), 1e-12)
}

func TestRidgeGrowKeepsSolution(t *testing.T) {
	r := newRidge(1, 1)
	r.observe([]float64{1}, 2)
	require.InDelta(t, 1.0, r.Theta()[0], 1e-12)

	r.grow()
	assert.Equal(t, 2, r.Dim())
	assert.Equal(t, []float64{2, 0, 0, 1}, r.Gram())
	assert.Equal(t, []float64{2, 0}, r.Moment())
	assert.InDeltaSlice(t, []float64{1, 0}, r.Theta(), 1e-12)

	// The new coordinate learns independently once it sees data.
	r.observe([]float64{0, 1}, 3)
	assert.InDeltaSlice(t, []float64{1, 1.5}, r.Theta(), 1e-12)
}

func TestBasisArenaGrowsInPlace(t *testing.T) {
	b := newBasis(3, 2)
	b.appendColumn([]float64{1, 0, 0})
	first := &b.arena[0]
	b.appendColumn([]float64{0, 1, 0})

	assert.Equal(t, 2, b.Dim())
	assert.Same(t, first, &b.arena[0])
	assert.Equal(t, []float64{0, 1, 0}, b.Column(1))
	assert.Equal(t, []float64{0.5, 2}, b.Project([]float64{0.5, 2, 7}))
	assert.Equal(t, []float64{0.5, 2, 0}, b.Lift([]float64{0.5, 2}))
	assert.Equal(t, []float64{0, 0, 7}, b.Reject([]float64{0.5, 2, 7}))
	assert.Panics(t, func() { b.appendColumn([]float64{1, 2}) })
}
