package trigger

import (
	"errors"
	"fmt"
)

// #region policy-names
const (
	PolicyRewardAware   = "reward_aware"
	PolicyWindowedError = "windowed_error"
)

// #endregion policy-names

// ErrUnknownPolicy is returned by New for a policy name it does not recognize.
var ErrUnknownPolicy = errors.New("unknown trigger policy")

// #region trigger-config
// Config holds the thresholds for both strategies. Each strategy reads only
// the fields it needs.
type Config struct {
	Policy                string  // "reward_aware" | "windowed_error"
	Window                int     // W, samples in the rolling window
	ErrorThreshold        float64 // windowed_error: mean squared signal bound
	BadMeanThreshold      float64 // reward_aware: mean feedback below this is a bad stretch
	ResidualNormThreshold float64 // reward_aware: minimum ‖g‖ and minimum accepted orthogonal norm
	Cooldown              int     // reward_aware: samples between attempts
	HistoryLimit          int     // events kept for reporting
	MinExpandNorm         float64 // windowed_error: minimum accepted orthogonal norm
}

// DefaultConfig returns the values the simulator and controller ship with.
func DefaultConfig() Config {
	return Config{
		Policy:                PolicyRewardAware,
		Window:                6,
		ErrorThreshold:        0.12,
		BadMeanThreshold:      -0.2,
		ResidualNormThreshold: 0.03,
		Cooldown:              6,
		HistoryLimit:          20,
		MinExpandNorm:         1e-6,
	}
}

// Validate rejects configurations no strategy can run with.
func (c Config) Validate() error {
	switch {
	case c.Window < 1:
		return fmt.Errorf("trigger config: window %d < 1", c.Window)
	case c.Cooldown < 0:
		return fmt.Errorf("trigger config: negative cooldown %d", c.Cooldown)
	case c.HistoryLimit < 1:
		return fmt.Errorf("trigger config: history limit %d < 1", c.HistoryLimit)
	case c.ResidualNormThreshold < 0 || c.MinExpandNorm < 0:
		return fmt.Errorf("trigger config: negative norm threshold")
	}
	return nil
}

// #endregion trigger-config

// #region status
// Status is the aligner state a policy needs to decide. Step counts absorbed
// samples, so the first absorbed sample is step 1.
type Status struct {
	Step         int
	Dim          int
	MaxDim       int
	ResidualNorm float64
}

// #endregion status

// #region decision
// Decision is the output of a policy evaluation. MinNorm is the orthogonal
// norm the aligner must see to accept the new direction.
type Decision struct {
	Attempt      bool
	MinNorm      float64
	Reason       string
	MeanFeedback float64
	WindowMSE    float64
	ResidualNorm float64
}

// #endregion decision

// #region event
// Event records one expansion attempt for reporting.
type Event struct {
	Step         int     `json:"step"`
	PreviousK    int     `json:"previous_k"`
	NewK         int     `json:"new_k"`
	MeanFeedback float64 `json:"mean_feedback"`
	WindowMSE    float64 `json:"window_mse"`
	ResidualNorm float64 `json:"residual_norm"`
	Expanded     bool    `json:"expanded"`
	Policy       string  `json:"policy"`
}

// #endregion event
