package replay

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/latent-aligner/internal/aligner"
	"github.com/danielpatrickdp/latent-aligner/internal/env"
	"github.com/danielpatrickdp/latent-aligner/internal/session"
	"github.com/danielpatrickdp/latent-aligner/internal/state"
	"github.com/danielpatrickdp/latent-aligner/internal/trigger"
)

// helper: config with a small ambient space and an eager windowed policy.
func smallConfig() ReplayConfig {
	a := aligner.DefaultConfig()
	a.AmbientDim, a.MaxDim = 12, 6
	tr := trigger.DefaultConfig()
	tr.Policy = trigger.PolicyWindowedError
	tr.ErrorThreshold = 0.05
	return ReplayConfig{Seed: 9, Aligner: a, Trigger: tr}
}

func sameFloats(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// 1. Replaying the same rounds twice yields identical trajectories.
func TestReplay_Deterministic(t *testing.T) {
	rounds := make([]Round, 60)
	for i := range rounds {
		rounds[i] = Round{Feedback: float64(i%7)/7 - 0.4}
	}
	cfg := smallConfig()

	r1, s1, err := Replay(cfg, rounds)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	r2, s2, err := Replay(cfg, rounds)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	for i := range r1 {
		if r1[i].Dim != r2[i].Dim || !sameFloats(r1[i].Theta, r2[i].Theta) {
			t.Fatalf("round %d diverged", i+1)
		}
	}
	if !sameFloats(s1.Final.Basis, s2.Final.Basis) || s1.Expansions != s2.Expansions {
		t.Fatal("summaries diverged")
	}
}

// 2. A different seed draws a different initial basis.
func TestReplay_SeedMatters(t *testing.T) {
	rounds := []Round{{Feedback: 0.1}}
	a := smallConfig()
	b := smallConfig()
	b.Seed++
	_, sa, _ := Replay(a, rounds)
	_, sb, _ := Replay(b, rounds)
	if sameFloats(sa.Final.Basis, sb.Final.Basis) {
		t.Fatal("expected different bases for different seeds")
	}
}

// 3. Invalid configs are reported, not panicked on.
func TestReplay_InvalidConfig(t *testing.T) {
	cfg := smallConfig()
	cfg.Aligner.InitDim = 0
	if _, _, err := Replay(cfg, nil); err == nil {
		t.Fatal("expected aligner config error")
	}
	cfg = smallConfig()
	cfg.Trigger.Policy = "sometimes"
	if _, _, err := Replay(cfg, nil); err == nil {
		t.Fatal("expected policy error")
	}
}

// 4. Recorded signals override feedback for absorption only.
func TestReplay_SignalOverride(t *testing.T) {
	zero := 0.0
	rounds := []Round{{Feedback: 0.9, Signal: &zero}, {Feedback: 0.9, Signal: &zero}}
	results, summary, err := Replay(smallConfig(), rounds)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if results[1].Signal != 0 || results[1].Feedback != 0.9 {
		t.Fatalf("unexpected result: %+v", results[1])
	}
	for _, b := range summary.Final.Moment {
		if b != 0 {
			t.Fatal("zero signals should leave the moment vector at zero")
		}
	}
}

// 5. A stored run replays bit for bit and exports to an equivalent fixture.
func TestReplay_StoredRunRoundTrip(t *testing.T) {
	store, err := state.NewStore(filepath.Join(t.TempDir(), "replay.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	cfg := smallConfig()
	run, err := store.CreateRun(cfg.Seed, cfg.Trigger.Policy, NewFixtureConfig(cfg.Aligner, cfg.Trigger))
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	al, err := aligner.New(cfg.Aligner, aligner.NewSource(cfg.Seed))
	if err != nil {
		t.Fatalf("aligner.New: %v", err)
	}
	pol, err := trigger.New(cfg.Trigger)
	if err != nil {
		t.Fatalf("trigger.New: %v", err)
	}
	user, err := env.NewRandomUser(cfg.Aligner.AmbientDim, 0.15, aligner.NewSource(cfg.Seed+1))
	if err != nil {
		t.Fatalf("NewRandomUser: %v", err)
	}
	flaky := session.FeedbackFunc(func(ctx context.Context, step int, probe []float64) (float64, error) {
		if step%17 == 0 {
			return 0, errors.New("scorer timeout")
		}
		return user.Feedback(ctx, step, probe)
	})
	halve := func(_ int, _ []float64, fb float64) float64 { return fb / 2 }
	sess, err := session.New(al, pol, flaky, session.Options{Store: store, RunID: run.RunID, Filter: halve})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	if _, err := sess.Run(context.Background(), 120); err != nil {
		t.Fatalf("Run: %v", err)
	}
	recorded := al.Snapshot()

	rcfg, rounds, err := LoadRun(store, run.RunID)
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if len(rounds) != 120 || !rounds[16].Skipped {
		t.Fatalf("expected 120 rounds with round 17 skipped, got %d", len(rounds))
	}
	_, summary, err := Replay(rcfg, rounds)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if summary.FinalDim != recorded.Dim {
		t.Fatalf("replayed dim %d, recorded %d", summary.FinalDim, recorded.Dim)
	}
	if !sameFloats(summary.Final.Theta, recorded.Theta) || !sameFloats(summary.Final.Basis, recorded.Basis) {
		t.Fatal("replayed state differs from the recorded run")
	}
	if summary.Skipped != 7 {
		t.Fatalf("expected 7 skipped rounds, got %d", summary.Skipped)
	}

	f, err := ExportFixture(store, run.RunID, "exported")
	if err != nil {
		t.Fatalf("ExportFixture: %v", err)
	}
	if f.Expected.FinalDim != recorded.Dim || f.Expected.Expansions != summary.Expansions {
		t.Fatalf("expected block %+v does not match replay %+v", f.Expected, summary)
	}
	path := filepath.Join(t.TempDir(), "exported.json")
	if err := WriteFixture(path, f); err != nil {
		t.Fatalf("WriteFixture: %v", err)
	}
	loaded, err := LoadFixture(path)
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	_, again, err := loaded.Replay()
	if err != nil {
		t.Fatalf("fixture Replay: %v", err)
	}
	if !sameFloats(again.Final.Theta, recorded.Theta) {
		t.Fatal("fixture replay differs from the recorded run")
	}
}

// 6. Unknown runs are reported.
func TestLoadRun_Unknown(t *testing.T) {
	store, err := state.NewStore(filepath.Join(t.TempDir(), "empty.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()
	if _, _, err := LoadRun(store, "missing"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
