package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"

	"github.com/danielpatrickdp/latent-aligner/internal/aligner"
	"github.com/danielpatrickdp/latent-aligner/internal/eval"
	"github.com/danielpatrickdp/latent-aligner/internal/logging"
	"github.com/danielpatrickdp/latent-aligner/internal/replay"
	"github.com/danielpatrickdp/latent-aligner/internal/state"
)

type inspectOptions struct {
	db       string
	run      string
	last     int
	json     bool
	rollback string
	verify   string
	out      io.Writer
}

func newInspectCmd() *cobra.Command {
	o := &inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List runs, snapshots and expansion provenance in a run database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			o.out = cmd.OutOrStdout()
			return o.runInspect()
		},
	}
	cmd.Flags().StringVar(&o.db, "db", "", "path to the run database")
	cmd.Flags().StringVar(&o.run, "run", "", "show snapshots and expansions of one run")
	cmd.Flags().IntVar(&o.last, "last", 20, "show N most recent rows")
	cmd.Flags().BoolVar(&o.json, "json", false, "output as JSON instead of table")
	cmd.Flags().StringVar(&o.rollback, "rollback", "", "make this snapshot version the active one")
	cmd.Flags().StringVar(&o.verify, "verify", "", "restore this snapshot version and run the health checks on it")
	cmd.MarkFlagsMutuallyExclusive("rollback", "verify")
	cmd.MarkFlagRequired("db")
	return cmd
}

// #region inspect
func (o *inspectOptions) runInspect() error {
	store, err := state.NewStore(o.db)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	if o.rollback != "" {
		if err := store.Rollback(o.rollback); err != nil {
			return err
		}
		fmt.Fprintf(o.out, "active snapshot is now %s\n", o.rollback)
		return nil
	}
	if o.verify != "" {
		return o.runVerify(store)
	}
	if o.run != "" {
		return o.runDetailMode(store)
	}
	return o.runListMode(store)
}

// #endregion inspect

// #region list-mode
type runRow struct {
	RunID     string `json:"run_id"`
	Seed      uint64 `json:"seed"`
	Policy    string `json:"policy"`
	CreatedAt string `json:"created_at"`
}

func (o *inspectOptions) runListMode(store *state.Store) error {
	runs, err := store.ListRuns(o.last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(o.out, "no runs found")
		return nil
	}
	rows := make([]runRow, len(runs))
	for i, r := range runs {
		rows[i] = runRow{RunID: r.RunID, Seed: r.Seed, Policy: r.Policy, CreatedAt: r.CreatedAt.Format("2006-01-02 15:04:05")}
	}
	if o.json {
		return printJSON(o.out, rows)
	}

	active := ""
	if cur, err := store.GetCurrent(); err == nil {
		active = cur.RunID
	}
	fmt.Fprintf(o.out, "%-38s| %-8s| %-16s| %-20s|\n", "Run", "Seed", "Policy", "Created")
	for _, r := range rows {
		mark := ""
		if r.RunID == active {
			mark = " *"
		}
		fmt.Fprintf(o.out, "%-38s| %-8d| %-16s| %-20s|%s\n", r.RunID, r.Seed, r.Policy, r.CreatedAt, mark)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode
type snapshotRow struct {
	VersionID string  `json:"version_id"`
	ParentID  string  `json:"parent_id,omitempty"`
	Label     string  `json:"label"`
	Step      int     `json:"step"`
	Dim       int     `json:"k"`
	Residual  float64 `json:"residual_norm"`
	CreatedAt string  `json:"created_at"`
}

type detail struct {
	Run        runRow                   `json:"run"`
	Snapshots  []snapshotRow            `json:"snapshots"`
	Expansions []logging.ExpansionEntry `json:"expansions"`
}

func (o *inspectOptions) runDetailMode(store *state.Store) error {
	runID := o.run
	run, err := store.GetRun(runID)
	if err != nil {
		return err
	}
	snaps, err := store.ListSnapshots(runID, o.last)
	if err != nil {
		return err
	}
	entries, err := logging.ListExpansions(store.DB(), runID)
	if err != nil {
		return err
	}

	d := detail{
		Run:        runRow{RunID: run.RunID, Seed: run.Seed, Policy: run.Policy, CreatedAt: run.CreatedAt.Format("2006-01-02 15:04:05")},
		Snapshots:  make([]snapshotRow, len(snaps)),
		Expansions: entries,
	}
	for i, s := range snaps {
		d.Snapshots[i] = snapshotRow{
			VersionID: s.VersionID,
			ParentID:  s.ParentID,
			Label:     s.Label,
			Step:      s.Step,
			Dim:       s.State.Dim,
			Residual:  norm(s.State.Residual),
			CreatedAt: s.CreatedAt.Format("2006-01-02 15:04:05"),
		}
	}
	if o.json {
		return printJSON(o.out, d)
	}

	fmt.Fprintf(o.out, "run %s  seed %d  policy %s\n\n", run.RunID, run.Seed, run.Policy)
	fmt.Fprintf(o.out, "%-38s| %-10s| %-6s| %-4s| %-10s\n", "Snapshot", "Label", "Step", "k", "Residual")
	for _, s := range d.Snapshots {
		fmt.Fprintf(o.out, "%-38s| %-10s| %-6d| %-4d| %-10.4f\n", s.VersionID, s.Label, s.Step, s.Dim, s.Residual)
	}
	fmt.Fprintf(o.out, "\n%-6s| %-10s| %-8s| %-10s| %-10s| %s\n", "Step", "Decision", "k", "MeanFB", "Residual", "Reason")
	for _, e := range entries {
		fmt.Fprintf(o.out, "%-6d| %-10s| %d -> %-3d| %+-10.3f| %-10.4f| %s\n",
			e.Step, e.Decision, e.PreviousK, e.NewK, e.MeanFeedback, e.ResidualNorm, e.Reason)
	}
	return nil
}

// #endregion detail-mode

// #region verify
// runVerify rebuilds an aligner from a stored snapshot with the settings of
// its run, then checks the rebuilt state.
func (o *inspectOptions) runVerify(store *state.Store) error {
	rec, err := store.GetSnapshot(o.verify)
	if err != nil {
		return err
	}
	if rec.RunID == "" {
		return fmt.Errorf("snapshot %s is not attached to a run", rec.VersionID)
	}
	cfg, err := replay.RunConfig(store, rec.RunID)
	if err != nil {
		return err
	}
	al, err := aligner.Restore(cfg.Aligner, rec.State, aligner.NewSource(cfg.Seed))
	if err != nil {
		return fmt.Errorf("restore snapshot %s: %w", rec.VersionID, err)
	}
	res := eval.NewEvalHarness(eval.DefaultEvalConfig()).Run(al.Snapshot())
	if o.json {
		if err := printJSON(o.out, res); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(o.out, "snapshot %s  run %s  step %d  k %d\n\n", rec.VersionID, rec.RunID, rec.Step, al.Dim())
		for _, m := range res.Metrics {
			status := "FAIL"
			if m.Pass {
				status = "ok"
			}
			fmt.Fprintf(o.out, "%-24s %-14.6g %s\n", m.Name, m.Value, status)
		}
	}
	if !res.Passed {
		return fmt.Errorf("snapshot %s failed checks: %s", rec.VersionID, res.Reason)
	}
	return nil
}

// #endregion verify

// #region output
func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func norm(v []float64) float64 {
	return floats.Norm(v, 2)
}

// #endregion output
