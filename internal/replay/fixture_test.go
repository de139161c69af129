package replay

import (
	"path/filepath"
	"testing"
)

// #region fixture-tests

// TestFixture_ConstantFeedback replays the checked-in fixture and compares the
// summary against its expected block.
func TestFixture_ConstantFeedback(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "constant_feedback.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}

	results, summary, err := f.Replay()
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(results) != len(f.Rounds) {
		t.Fatalf("expected %d results, got %d", len(f.Rounds), len(results))
	}
	if summary.Skipped != 1 || !results[2].Skipped {
		t.Fatalf("expected round 3 to be skipped, summary %+v", summary)
	}
	if summary.FinalDim != f.Expected.FinalDim {
		t.Errorf("final dim = %d, want %d", summary.FinalDim, f.Expected.FinalDim)
	}
	if summary.Expansions != f.Expected.Expansions {
		t.Errorf("expansions = %d, want %d", summary.Expansions, f.Expected.Expansions)
	}
	if len(summary.ExpansionSteps) != len(f.Expected.ExpansionSteps) {
		t.Fatalf("expansion steps = %v, want %v", summary.ExpansionSteps, f.Expected.ExpansionSteps)
	}
	for i, step := range f.Expected.ExpansionSteps {
		if summary.ExpansionSteps[i] != step {
			t.Errorf("expansion %d at step %d, want %d", i, summary.ExpansionSteps[i], step)
		}
	}
}

func TestLoadFixture_Missing(t *testing.T) {
	if _, err := LoadFixture(filepath.Join("testdata", "does_not_exist.json")); err == nil {
		t.Fatal("expected error for missing fixture")
	}
}

func TestWriteAndLoadFixture(t *testing.T) {
	signal := 0.25
	in := &Fixture{
		Description: "round trip",
		Seed:        7,
		Rounds:      []FixtureRound{{Feedback: 0.5, Signal: &signal}, {Skipped: true}},
		Expected:    FixtureExpectedResult{FinalDim: 2},
	}
	path := filepath.Join(t.TempDir(), "fixture.json")
	if err := WriteFixture(path, in); err != nil {
		t.Fatalf("WriteFixture: %v", err)
	}
	out, err := LoadFixture(path)
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	if out.Seed != 7 || len(out.Rounds) != 2 || out.Rounds[0].Signal == nil || *out.Rounds[0].Signal != 0.25 || !out.Rounds[1].Skipped {
		t.Fatalf("fixture did not round-trip: %+v", out)
	}
}

// #endregion fixture-tests
