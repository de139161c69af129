package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/latent-aligner/internal/replay"
	"github.com/danielpatrickdp/latent-aligner/internal/state"
)

// errDiverged is returned when a replay does not reproduce the recording.
var errDiverged = errors.New("replay diverged from the recording")

type replayOptions struct {
	fixture string
	db      string
	run     string
	json    bool
}

func newReplayCmd() *cobra.Command {
	o := &replayOptions{}
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a fixture or a stored run and compare the expansions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.runReplay(cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&o.fixture, "fixture", "", "path to fixture JSON (fixture mode)")
	cmd.Flags().StringVar(&o.db, "db", "", "path to the run database (DB mode)")
	cmd.Flags().StringVar(&o.run, "run", "", "run id (DB mode; default latest run)")
	cmd.Flags().BoolVar(&o.json, "json", false, "print the summary as JSON")
	cmd.MarkFlagsMutuallyExclusive("fixture", "db")
	cmd.MarkFlagsOneRequired("fixture", "db")
	return cmd
}

// #region replay
func (o *replayOptions) runReplay(out io.Writer) error {
	f, err := o.load()
	if err != nil {
		return err
	}
	_, summary, err := f.Replay()
	if err != nil {
		return err
	}

	if o.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return err
		}
	} else {
		printComparison(out, summary, f.Expected)
	}
	if !matches(summary, f.Expected) {
		return errDiverged
	}
	return nil
}

// load reads the fixture, or exports one from the database. An export carries
// the recorded expansion steps and final k as its expected block.
func (o *replayOptions) load() (*replay.Fixture, error) {
	if o.fixture != "" {
		return replay.LoadFixture(o.fixture)
	}
	store, err := state.NewStore(o.db)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	defer store.Close()
	runID, err := resolveRun(store, o.run)
	if err != nil {
		return nil, err
	}
	return replay.ExportFixture(store, runID, "")
}

func matches(s replay.ReplaySummary, e replay.FixtureExpectedResult) bool {
	return s.FinalDim == e.FinalDim &&
		s.Expansions == e.Expansions &&
		(len(e.ExpansionSteps) == 0 || slices.Equal(s.ExpansionSteps, e.ExpansionSteps))
}

// printComparison outputs a comparison table of recorded and replayed values.
func printComparison(out io.Writer, s replay.ReplaySummary, e replay.FixtureExpectedResult) {
	row := func(name string, exp, got any) {
		match := "DIFF"
		if fmt.Sprint(exp) == fmt.Sprint(got) {
			match = "OK"
		}
		fmt.Fprintf(out, "%-16s| %-20v| %-20v| %s\n", name, exp, got, match)
	}
	fmt.Fprintf(out, "%-16s| %-20s| %-20s| %s\n", "Field", "Expected", "Replayed", "Match")
	fmt.Fprintf(out, "%-16s+%-21s+%-21s+%s\n", "----------------", "---------------------", "---------------------", "------")
	row("final_dim", e.FinalDim, s.FinalDim)
	row("expansions", e.Expansions, s.Expansions)
	if len(e.ExpansionSteps) > 0 {
		row("expansion_steps", e.ExpansionSteps, s.ExpansionSteps)
	}
	fmt.Fprintf(out, "\nSummary: %d rounds, %d absorbed, %d skipped, %d attempts\n",
		s.TotalRounds, s.Absorbed, s.Skipped, s.Attempts)
}

// #endregion replay

// #region export
type exportOptions struct {
	db          string
	run         string
	out         string
	description string
}

func newExportCmd() *cobra.Command {
	o := &exportOptions{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a stored run as a replay fixture",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.runExport(cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&o.db, "db", "", "path to the run database")
	cmd.Flags().StringVar(&o.run, "run", "", "run id (default latest run)")
	cmd.Flags().StringVar(&o.out, "out", "", "fixture output path")
	cmd.Flags().StringVar(&o.description, "description", "", "fixture description")
	cmd.MarkFlagRequired("db")
	cmd.MarkFlagRequired("out")
	return cmd
}

func (o *exportOptions) runExport(out io.Writer) error {
	store, err := state.NewStore(o.db)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()
	runID, err := resolveRun(store, o.run)
	if err != nil {
		return err
	}
	desc := o.description
	if desc == "" {
		desc = "exported from run " + runID
	}
	f, err := replay.ExportFixture(store, runID, desc)
	if err != nil {
		return err
	}
	if err := replay.WriteFixture(o.out, f); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s: %d rounds, %d expansions, final k %d\n",
		o.out, len(f.Rounds), f.Expected.Expansions, f.Expected.FinalDim)
	return nil
}

// resolveRun returns id, or the most recent run when id is empty.
func resolveRun(store *state.Store, id string) (string, error) {
	if id != "" {
		return id, nil
	}
	runs, err := store.ListRuns(1)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", fmt.Errorf("no runs recorded: %w", state.ErrNotFound)
	}
	return runs[0].RunID, nil
}

// #endregion export
