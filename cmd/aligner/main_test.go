package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danielpatrickdp/latent-aligner/internal/replay"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestReplayFixtureCommand(t *testing.T) {
	fixture := filepath.Join("..", "..", "internal", "replay", "testdata", "constant_feedback.json")
	out, err := execute(t, "replay", "--fixture", fixture)
	if err != nil {
		t.Fatalf("replay: %v\n%s", err, out)
	}
	if strings.Contains(out, "DIFF") || !strings.Contains(out, "expansion_steps") {
		t.Fatalf("unexpected comparison output:\n%s", out)
	}
}

func TestReplayRequiresASource(t *testing.T) {
	if _, err := execute(t, "replay"); err == nil {
		t.Fatal("expected error without --fixture or --db")
	}
	if _, err := execute(t, "replay", "--fixture", "a.json", "--db", "b.db"); err == nil {
		t.Fatal("expected error with both --fixture and --db")
	}
}

// TestRecordedRunLifecycle simulates into a fresh database, then replays,
// exports and inspects the stored run.
func TestRecordedRunLifecycle(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	out, err := execute(t, "simulate", "--rounds", "80", "--policy", "windowed_error", "--seed", "5")
	if err != nil {
		t.Fatalf("simulate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "cosine(w_hat, w_true)") {
		t.Fatalf("simulate output missing cosine line:\n%s", out)
	}

	if out, err := execute(t, "replay", "--db", "latent_aligner.db"); err != nil {
		t.Fatalf("replay --db: %v\n%s", err, out)
	}

	if out, err := execute(t, "export", "--db", "latent_aligner.db", "--out", "run.json"); err != nil {
		t.Fatalf("export: %v\n%s", err, out)
	}
	if out, err := execute(t, "replay", "--fixture", "run.json"); err != nil {
		t.Fatalf("replay exported fixture: %v\n%s", err, out)
	}

	out, err = execute(t, "inspect", "--db", "latent_aligner.db", "--json")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	var rows []runRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("inspect json: %v\n%s", err, out)
	}
	if len(rows) != 1 || rows[0].Seed != 5 || rows[0].Policy != "windowed_error" {
		t.Fatalf("unexpected runs: %+v", rows)
	}

	out, err = execute(t, "inspect", "--db", "latent_aligner.db", "--run", rows[0].RunID, "--json")
	if err != nil {
		t.Fatalf("inspect --run: %v", err)
	}
	var d detail
	if err := json.Unmarshal([]byte(out), &d); err != nil {
		t.Fatalf("detail json: %v\n%s", err, out)
	}
	if len(d.Snapshots) < 2 {
		t.Fatalf("expected start and end snapshots, got %d", len(d.Snapshots))
	}
	if d.Snapshots[0].Label != "end" {
		t.Fatalf("newest snapshot label = %q, want end", d.Snapshots[0].Label)
	}

	out, err = execute(t, "inspect", "--db", "latent_aligner.db", "--verify", d.Snapshots[0].VersionID)
	if err != nil {
		t.Fatalf("inspect --verify: %v\n%s", err, out)
	}
	if strings.Contains(out, "FAIL") || !strings.Contains(out, "orthonormality_error") {
		t.Fatalf("unexpected verify output:\n%s", out)
	}
}

func TestMatches(t *testing.T) {
	s := replay.ReplaySummary{FinalDim: 4, Expansions: 2, ExpansionSteps: []int{7, 13}}
	if !matches(s, replay.FixtureExpectedResult{FinalDim: 4, Expansions: 2}) {
		t.Fatal("steps are optional in the expected block")
	}
	if !matches(s, replay.FixtureExpectedResult{FinalDim: 4, Expansions: 2, ExpansionSteps: []int{7, 13}}) {
		t.Fatal("identical results should match")
	}
	if matches(s, replay.FixtureExpectedResult{FinalDim: 4, Expansions: 2, ExpansionSteps: []int{7, 14}}) {
		t.Fatal("different steps should not match")
	}
	if matches(s, replay.FixtureExpectedResult{FinalDim: 3, Expansions: 2}) {
		t.Fatal("different final dim should not match")
	}
}
