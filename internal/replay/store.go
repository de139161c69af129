package replay

import (
	"encoding/json"
	"fmt"

	"github.com/danielpatrickdp/latent-aligner/internal/logging"
	"github.com/danielpatrickdp/latent-aligner/internal/state"
)

// #region from-store
// LoadRun rebuilds the replay inputs of a stored run: its seed, the config
// JSON written by CreateRun, and every recorded round.
func LoadRun(store *state.Store, runID string) (ReplayConfig, []Round, error) {
	cfg, err := RunConfig(store, runID)
	if err != nil {
		return ReplayConfig{}, nil, err
	}

	obs, err := store.LoadObservations(runID)
	if err != nil {
		return ReplayConfig{}, nil, err
	}
	rounds := make([]Round, len(obs))
	for i, o := range obs {
		if o.Step != i+1 {
			return ReplayConfig{}, nil, fmt.Errorf("run %s: observation %d has step %d, rounds must be contiguous", runID, i, o.Step)
		}
		signal := o.Signal
		rounds[i] = Round{Feedback: o.Feedback, Signal: &signal, Skipped: o.Skipped}
	}
	return cfg, rounds, nil
}

// RunConfig parses the seed and settings a run was started with.
func RunConfig(store *state.Store, runID string) (ReplayConfig, error) {
	run, err := store.GetRun(runID)
	if err != nil {
		return ReplayConfig{}, err
	}
	var fc FixtureConfig
	if err := json.Unmarshal([]byte(run.ConfigJSON), &fc); err != nil {
		return ReplayConfig{}, fmt.Errorf("parse run config %s: %w", runID, err)
	}
	return fc.ToReplayConfig(run.Seed), nil
}

// #endregion from-store

// #region export
// ExportFixture converts a stored run into a fixture. The expected block is
// filled from the run's expansion log and its latest snapshot.
func ExportFixture(store *state.Store, runID, description string) (*Fixture, error) {
	run, err := store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	var fc FixtureConfig
	if err := json.Unmarshal([]byte(run.ConfigJSON), &fc); err != nil {
		return nil, fmt.Errorf("parse run config %s: %w", runID, err)
	}
	obs, err := store.LoadObservations(runID)
	if err != nil {
		return nil, err
	}

	f := &Fixture{
		Description: description,
		Seed:        run.Seed,
		Config:      fc,
		Rounds:      make([]FixtureRound, len(obs)),
	}
	for i, o := range obs {
		fr := FixtureRound{Feedback: o.Feedback, Skipped: o.Skipped}
		if !o.Skipped && o.Signal != o.Feedback {
			signal := o.Signal
			fr.Signal = &signal
		}
		f.Rounds[i] = fr
	}

	entries, err := logging.ListExpansions(store.DB(), runID)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Decision == logging.DecisionExpanded {
			f.Expected.Expansions++
			f.Expected.ExpansionSteps = append(f.Expected.ExpansionSteps, e.Step)
		}
	}

	snaps, err := store.ListSnapshots(runID, 1)
	if err != nil {
		return nil, err
	}
	if len(snaps) > 0 {
		f.Expected.FinalDim = snaps[0].State.Dim
	} else {
		f.Expected.FinalDim = fc.Aligner.InitDim + f.Expected.Expansions
	}
	return f, nil
}

// #endregion export
