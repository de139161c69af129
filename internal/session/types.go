package session

import (
	"context"

	"github.com/danielpatrickdp/latent-aligner/internal/eval"
	"github.com/danielpatrickdp/latent-aligner/internal/metrics"
	"github.com/danielpatrickdp/latent-aligner/internal/state"
	"github.com/danielpatrickdp/latent-aligner/internal/trigger"
	"github.com/rs/zerolog"
)

// #region feedback-source
// FeedbackSource scores a probe. step is the 1-based round index.
type FeedbackSource interface {
	Feedback(ctx context.Context, step int, probe []float64) (float64, error)
}

// FeedbackFunc adapts a plain function to FeedbackSource.
type FeedbackFunc func(ctx context.Context, step int, probe []float64) (float64, error)

func (f FeedbackFunc) Feedback(ctx context.Context, step int, probe []float64) (float64, error) {
	return f(ctx, step, probe)
}

// FeedbackFilter maps raw feedback to the value the aligner trains on. The
// trigger policy and the feedback history always see the raw value.
type FeedbackFilter func(step int, probe []float64, feedback float64) float64

// #endregion feedback-source

// #region options
// Options wires the optional collaborators of a Session. The zero value runs
// the bare loop without logging.
type Options struct {
	Store       *state.Store // nil disables persistence
	RunID       string       // run the observations and snapshots belong to
	Metrics     *metrics.Recorder
	Eval        *eval.EvalHarness // nil disables post-expansion checks
	Logger      *zerolog.Logger // nil disables logging
	Filter      FeedbackFilter
	LogEvery    int // progress line every N rounds; 0 disables
	StatsWindow int // signals in the Stats MSE window; 0 means the policy window
}

// #endregion options

// #region step-result
// StepResult describes one round.
type StepResult struct {
	Step       int // 1-based round index
	Probe      []float64
	Feedback   float64 // raw
	Signal     float64 // absorbed
	Prediction float64 // before the update
	Dim        int     // after any expansion
	Skipped    bool
	Decision   trigger.Decision
	Expansion  *trigger.Event // set when an expansion was attempted
}

// #endregion step-result

// #region summary
// Summary totals a Run call.
type Summary struct {
	Rounds     int
	Absorbed   int
	Skipped    int
	Attempts   int
	Expansions int
	FinalDim   int
}

// #endregion summary

// #region stats
// Stats is a point-in-time view of the session for reporting.
type Stats struct {
	Step           int             `json:"step"`
	Absorbed       int             `json:"absorbed"`
	Skipped        int             `json:"skipped"`
	Dim            int             `json:"k"`
	MaxDim         int             `json:"max_k"`
	Policy         string          `json:"policy"`
	RecentFeedback []float64       `json:"recent_feedback"`
	MeanFeedback   *float64        `json:"mean_feedback,omitempty"`
	RecentMSE      *float64        `json:"recent_mse,omitempty"`
	Events         []trigger.Event `json:"dim_events"`
	PrefPreview    []float64       `json:"w_hat_preview"`
	ResidualNorm   float64         `json:"residual_norm"`
	Attempts       int             `json:"expansion_attempts"`
	Expansions     int             `json:"expansions"`
}

// #endregion stats
