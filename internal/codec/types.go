package codec

import (
	"errors"
	"slices"
	"time"
)

// ScoreMethod is the full gRPC method name of the feedback scorer.
const ScoreMethod = "/latentaligner.v1.FeedbackScorer/Score"

// FlagForbidParentheses marks a reply that broke the user's explicit request
// not to use parentheses. A flagged round is absorbed with zero reward.
const FlagForbidParentheses = "forbid_parentheses"

// ErrMissingReward is returned when the scorer reply carries no numeric reward.
var ErrMissingReward = errors.New("scorer reply has no numeric reward")

// #region scorer-config
// ScorerConfig configures the remote feedback scorer client.
type ScorerConfig struct {
	Addr      string
	Timeout   time.Duration // per call; zero means the caller's context only
	RewardMin float64
	RewardMax float64
}

// DefaultScorerConfig returns the local development defaults.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		Addr:      "localhost:50051",
		Timeout:   30 * time.Second,
		RewardMin: -1,
		RewardMax: 1,
	}
}

// #endregion scorer-config

// #region score-result
// ScoreResult is one scored probe.
type ScoreResult struct {
	Reward    float64 // clamped into [RewardMin, RewardMax]
	RawReward float64 // as returned by the scorer
	StyleCode string
	HardFlags []string // optional "hard_flags" of the reply
}

// Flagged reports whether the reply carried flag.
func (r ScoreResult) Flagged(flag string) bool {
	return slices.Contains(r.HardFlags, flag)
}

// #endregion score-result
