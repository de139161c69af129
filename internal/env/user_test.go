package env

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func TestRandomUserHasUnitPreference(t *testing.T) {
	u, err := NewRandomUser(32, 0.15, rand.NewPCG(1, 2))
	require.NoError(t, err)
	assert.Equal(t, 32, u.Dim())
	assert.InDelta(t, 1.0, floats.Norm(u.TruePref(), 2), 1e-8)
}

func TestTruePrefIsCopy(t *testing.T) {
	u, err := NewLinearUser([]float64{3, 4}, 0, rand.NewPCG(1, 1))
	require.NoError(t, err)
	p := u.TruePref()
	p[0] = 100
	assert.InDeltaSlice(t, []float64{0.6, 0.8}, u.TruePref(), 1e-8)
}

func TestNoiselessScoreIsCosine(t *testing.T) {
	u, err := NewLinearUser([]float64{1, 0, 0}, 0, rand.NewPCG(1, 1))
	require.NoError(t, err)
	assert.InDelta(t, 0.6, u.Score([]float64{3, 4, 0}), 1e-8)
	assert.InDelta(t, 0.0, u.Score([]float64{0, 0, 0}), 1e-12)

	fb, err := u.Feedback(context.Background(), 0, []float64{0, 0, 2})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, fb, 1e-12)
}

func TestScoreDeterministicUnderSeed(t *testing.T) {
	a, err := NewRandomUser(8, 0.2, rand.NewPCG(9, 9))
	require.NoError(t, err)
	b, err := NewRandomUser(8, 0.2, rand.NewPCG(9, 9))
	require.NoError(t, err)
	probe := []float64{1, -1, 0.5, 0, 0, 2, 0, 1}
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.Score(probe), b.Score(probe))
	}
}

func TestInvalidUsers(t *testing.T) {
	_, err := NewRandomUser(0, 0.1, rand.NewPCG(1, 1))
	assert.Error(t, err)
	_, err = NewLinearUser(nil, 0.1, rand.NewPCG(1, 1))
	assert.Error(t, err)
	_, err = NewLinearUser([]float64{1}, -1, rand.NewPCG(1, 1))
	assert.Error(t, err)

	u, err := NewLinearUser([]float64{1, 0}, 0, rand.NewPCG(1, 1))
	require.NoError(t, err)
	assert.Panics(t, func() { u.Score([]float64{1}) })
}
