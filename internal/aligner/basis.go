package aligner

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Basis is an orthonormal column set in R^D that grows one column at a time.
//
// Columns are stored back to back in a single arena sized for the maximum
// dimension, so the arena read as a row-major k x D matrix is exactly Bᵀ.
// Appending a column never moves the existing ones.
type Basis struct {
	ambient int
	cols    int
	arena   []float64
}

func newBasis(ambient, maxCols int) *Basis {
	return &Basis{
		ambient: ambient,
		arena:   make([]float64, 0, ambient*maxCols),
	}
}

// orthonormalBasis builds the initial basis from a D x k Gaussian sample via QR.
func orthonormalBasis(sample *mat.Dense, maxCols int) *Basis {
	d, k := sample.Dims()
	var qr mat.QR
	qr.Factorize(sample)
	var q mat.Dense
	qr.QTo(&q)

	b := newBasis(d, maxCols)
	col := make([]float64, d)
	for j := 0; j < k; j++ {
		mat.Col(col, j, &q)
		b.appendColumn(col)
	}
	return b
}

// Dim returns k, the number of columns.
func (b *Basis) Dim() int { return b.cols }

// AmbientDim returns D.
func (b *Basis) AmbientDim() int { return b.ambient }

func (b *Basis) appendColumn(c []float64) {
	if len(c) != b.ambient {
		panic(fmt.Sprintf("aligner: basis column has length %d, want %d", len(c), b.ambient))
	}
	b.arena = append(b.arena, c...)
	b.cols++
}

// transposed is a k x D view over the arena (no copy).
func (b *Basis) transposed() *mat.Dense {
	return mat.NewDense(b.cols, b.ambient, b.arena[:b.cols*b.ambient])
}

// Column returns a copy of column j.
func (b *Basis) Column(j int) []float64 {
	out := make([]float64, b.ambient)
	copy(out, b.arena[j*b.ambient:(j+1)*b.ambient])
	return out
}

// Project returns the subspace coordinates Bᵀv.
func (b *Basis) Project(v []float64) []float64 {
	var x mat.VecDense
	x.MulVec(b.transposed(), mat.NewVecDense(len(v), v))
	return x.RawVector().Data
}

// Lift maps subspace coordinates back into the ambient space, B z.
func (b *Basis) Lift(z []float64) []float64 {
	var y mat.VecDense
	y.MulVec(b.transposed().T(), mat.NewVecDense(len(z), z))
	return y.RawVector().Data
}

// Reject returns the component of v orthogonal to the subspace, v - B(Bᵀv).
func (b *Basis) Reject(v []float64) []float64 {
	in := b.Lift(b.Project(v))
	out := make([]float64, len(v))
	for i := range v {
		out[i] = v[i] - in[i]
	}
	return out
}

// Dense returns B as a freshly allocated D x k matrix.
func (b *Basis) Dense() *mat.Dense {
	out := mat.NewDense(b.ambient, b.cols, nil)
	out.Copy(b.transposed().T())
	return out
}
