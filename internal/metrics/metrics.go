// Package metrics exposes the learning loop as Prometheus collectors.
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"fmt"
	"math"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "latent_aligner"
	subsystem = "session"
)

// Outcome label values for expansion attempts.
const (
	OutcomeExpanded = "expanded"
	OutcomeRejected = "rejected"
)

// Recorder holds the session collectors.
type Recorder struct {
	observations prometheus.Counter
	skipped      prometheus.Counter
	attempts     *prometheus.CounterVec
	dim          prometheus.Gauge
	residualNorm prometheus.Gauge
	absError     prometheus.Histogram
}

// NewRecorder creates the collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		observations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "observations_total",
			Help: "Feedback samples absorbed by the aligner.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "skipped_rounds_total",
			Help: "Rounds dropped because the feedback source failed.",
		}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "expansion_attempts_total",
			Help: "Subspace expansion attempts by outcome.",
		}, []string{"outcome"}),
		dim: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "subspace_dim",
			Help: "Current subspace dimension k.",
		}),
		residualNorm: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "residual_norm",
			Help: "Norm of the residual accumulator.",
		}),
		absError: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name:    "abs_prediction_error",
			Help:    "Absolute difference between feedback and the pre-update prediction.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.35, 0.5, 0.75, 1, 1.5, 2},
		}),
	}
	for _, c := range []prometheus.Collector{r.observations, r.skipped, r.attempts, r.dim, r.residualNorm, r.absError} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return r, nil
}

// Observe records one absorbed sample and the state it left behind.
func (r *Recorder) Observe(feedback, prediction float64, dim int, residualNorm float64) {
	if r == nil {
		return
	}
	r.observations.Inc()
	r.absError.Observe(math.Abs(feedback - prediction))
	r.dim.Set(float64(dim))
	r.residualNorm.Set(residualNorm)
}

// Skip records a round with no usable feedback.
func (r *Recorder) Skip() {
	if r == nil {
		return
	}
	r.skipped.Inc()
}

// Expansion records one attempt and the resulting state.
func (r *Recorder) Expansion(expanded bool, dim int, residualNorm float64) {
	if r == nil {
		return
	}
	outcome := OutcomeRejected
	if expanded {
		outcome = OutcomeExpanded
	}
	r.attempts.WithLabelValues(outcome).Inc()
	r.dim.Set(float64(dim))
	r.residualNorm.Set(residualNorm)
}
