// Package replay re-drives a fresh aligner with a recorded feedback sequence.
// Given the same seed and configuration the probe sequence is identical, so a
// replay reproduces every expansion of the recorded run.
package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielpatrickdp/latent-aligner/internal/aligner"
	"github.com/danielpatrickdp/latent-aligner/internal/session"
	"github.com/danielpatrickdp/latent-aligner/internal/trigger"
)

// errSkippedRound marks a round the recorded run could not score.
var errSkippedRound = errors.New("recorded round was skipped")

// #region types
// Round is a single recorded round.
type Round struct {
	Feedback float64
	Signal   *float64
	Skipped  bool
}

// ReplayConfig holds everything needed to rebuild the recorded session.
type ReplayConfig struct {
	Seed    uint64
	Aligner aligner.Config
	Trigger trigger.Config
}

// ReplayResult captures the outcome of one replayed round.
type ReplayResult struct {
	Step       int
	Skipped    bool
	Feedback   float64
	Signal     float64
	Prediction float64
	Dim        int
	Theta      []float64
	Decision   trigger.Decision
	Expansion  *trigger.Event
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalRounds    int
	Absorbed       int
	Skipped        int
	Attempts       int
	Expansions     int
	ExpansionSteps []int
	FinalDim       int
	Final          aligner.Snapshot
}

// #endregion types

// #region replay
// Replay runs rounds through a session built from config. Per-round results
// carry copies of θ so trajectories can be compared directly.
func Replay(config ReplayConfig, rounds []Round) ([]ReplayResult, ReplaySummary, error) {
	al, err := aligner.New(config.Aligner, aligner.NewSource(config.Seed))
	if err != nil {
		return nil, ReplaySummary{}, fmt.Errorf("replay aligner: %w", err)
	}
	pol, err := trigger.New(config.Trigger)
	if err != nil {
		return nil, ReplaySummary{}, fmt.Errorf("replay policy: %w", err)
	}

	source := session.FeedbackFunc(func(_ context.Context, step int, _ []float64) (float64, error) {
		r := rounds[step-1]
		if r.Skipped {
			return 0, errSkippedRound
		}
		return r.Feedback, nil
	})
	filter := func(step int, _ []float64, feedback float64) float64 {
		if s := rounds[step-1].Signal; s != nil {
			return *s
		}
		return feedback
	}
	sess, err := session.New(al, pol, source, session.Options{Filter: filter})
	if err != nil {
		return nil, ReplaySummary{}, fmt.Errorf("replay session: %w", err)
	}

	ctx := context.Background()
	results := make([]ReplayResult, 0, len(rounds))
	for range rounds {
		res, err := sess.Step(ctx)
		if err != nil && !errors.Is(err, errSkippedRound) {
			return results, ReplaySummary{}, err
		}
		results = append(results, ReplayResult{
			Step:       res.Step,
			Skipped:    res.Skipped,
			Feedback:   res.Feedback,
			Signal:     res.Signal,
			Prediction: res.Prediction,
			Dim:        res.Dim,
			Theta:      al.Theta(),
			Decision:   res.Decision,
			Expansion:  res.Expansion,
		})
	}
	return results, Summarize(results, al.Snapshot()), nil
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult, final aligner.Snapshot) ReplaySummary {
	s := ReplaySummary{
		TotalRounds: len(results),
		FinalDim:    final.Dim,
		Final:       final,
	}
	for _, r := range results {
		if r.Skipped {
			s.Skipped++
			continue
		}
		s.Absorbed++
		if r.Expansion != nil {
			s.Attempts++
			if r.Expansion.Expanded {
				s.Expansions++
				s.ExpansionSteps = append(s.ExpansionSteps, r.Step)
			}
		}
	}
	return s
}

// #endregion replay
