package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewRecorder(reg)
	require.NoError(t, err)

	r.Observe(0.5, 0.2, 2, 1.25)
	r.Observe(-0.1, 0.1, 2, 1.5)
	r.Skip()
	r.Expansion(true, 3, 0)
	r.Expansion(false, 3, 0.4)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.observations))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.skipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.attempts.WithLabelValues(OutcomeExpanded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.attempts.WithLabelValues(OutcomeRejected)))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.dim))
	assert.Equal(t, 0.4, testutil.ToFloat64(r.residualNorm))
	assert.Equal(t, 1, testutil.CollectAndCount(r.absError))
}

func TestRecorderExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewRecorder(reg)
	require.NoError(t, err)
	r.Observe(1, 0, 4, 0)

	expected := `
# HELP latent_aligner_session_subspace_dim Current subspace dimension k.
# TYPE latent_aligner_session_subspace_dim gauge
latent_aligner_session_subspace_dim 4
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "latent_aligner_session_subspace_dim"))
}

func TestDuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewRecorder(reg)
	require.NoError(t, err)
	_, err = NewRecorder(reg)
	assert.Error(t, err)
}

func TestNilRecorderIsNoOp(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.Observe(1, 0, 2, 0)
		r.Skip()
		r.Expansion(true, 3, 0)
	})
}
