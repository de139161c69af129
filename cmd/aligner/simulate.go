package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/latent-aligner/internal/aligner"
	"github.com/danielpatrickdp/latent-aligner/internal/env"
	"github.com/danielpatrickdp/latent-aligner/internal/eval"
	"github.com/danielpatrickdp/latent-aligner/internal/replay"
	"github.com/danielpatrickdp/latent-aligner/internal/session"
	"github.com/danielpatrickdp/latent-aligner/internal/trigger"
)

type simulateOptions struct {
	configPath *string
	rounds     int
	seed       uint64
	policy     string
	noStore    bool
	json       bool
}

func newSimulateCmd(configPath *string) *cobra.Command {
	o := &simulateOptions{configPath: configPath}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the aligner against a synthetic noisy linear user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.runSimulate(cmd.Context(), cmd.OutOrStdout(), cmd.Flags().Changed("seed"))
		},
	}
	cmd.Flags().IntVar(&o.rounds, "rounds", 0, "rounds to run (default from config)")
	cmd.Flags().Uint64Var(&o.seed, "seed", 0, "seed override (default from config)")
	cmd.Flags().StringVar(&o.policy, "policy", "", "trigger policy override: reward_aware | windowed_error")
	cmd.Flags().BoolVar(&o.noStore, "no-store", false, "do not persist the run")
	cmd.Flags().BoolVar(&o.json, "json", false, "print final stats as JSON")
	return cmd
}

// #region simulate
func (o *simulateOptions) runSimulate(ctx context.Context, out io.Writer, seedSet bool) error {
	rt, err := newRuntime(*o.configPath, !o.noStore)
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg := rt.cfg
	seed := cfg.Aligner.Seed
	if seedSet {
		seed = o.seed
	}
	if o.policy != "" {
		cfg.Trigger.Policy = o.policy
	}
	rounds := cfg.Simulation.Rounds
	if o.rounds > 0 {
		rounds = o.rounds
	}
	acfg, tcfg := cfg.AlignerConfig(), cfg.TriggerConfig()

	al, err := aligner.New(acfg, aligner.NewSource(seed))
	if err != nil {
		return err
	}
	policy, err := trigger.New(tcfg)
	if err != nil {
		return err
	}
	user, err := env.NewRandomUser(acfg.AmbientDim, cfg.Simulation.NoiseStd, aligner.NewSource(seed+1))
	if err != nil {
		return err
	}

	opts := session.Options{
		Eval:     eval.NewEvalHarness(eval.DefaultEvalConfig()),
		Logger:   &rt.log,
		LogEvery: cfg.Simulation.LogEvery,
	}
	if rt.store != nil {
		run, err := rt.store.CreateRun(seed, policy.Name(), replay.NewFixtureConfig(acfg, tcfg))
		if err != nil {
			return err
		}
		opts.Store, opts.RunID = rt.store, run.RunID
		rt.log.Info().Str("run_id", run.RunID).Str("db", cfg.Store.Path).Msg("recording run")
	}
	sess, err := session.New(al, policy, user, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	sum, err := sess.Run(ctx, rounds)
	if err != nil && ctx.Err() == nil {
		return err
	}

	st := sess.Stats()
	if o.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	truth := user.TruePref()
	fmt.Fprintf(out, "rounds: %d (absorbed %d, skipped %d)\n", sum.Rounds, sum.Absorbed, sum.Skipped)
	fmt.Fprintf(out, "k: %d / %d   expansions: %d of %d attempts\n", sum.FinalDim, acfg.MaxDim, sum.Expansions, sum.Attempts)
	fmt.Fprintf(out, "w_true[:8]: %s\n", preview(truth))
	fmt.Fprintf(out, "w_hat[:8]:  %s\n", preview(st.PrefPreview))
	for _, ev := range st.Events {
		fmt.Fprintf(out, "  step %4d  k %d -> %d  mean_fb %+.3f  resid %.3f  expanded=%v\n",
			ev.Step, ev.PreviousK, ev.NewK, ev.MeanFeedback, ev.ResidualNorm, ev.Expanded)
	}
	fmt.Fprintf(out, "cosine(w_hat, w_true): %.4f\n", eval.Cosine(al.CurrentApproxPref(), truth))
	return nil
}

func preview(v []float64) string {
	n := min(8, len(v))
	parts := make([]string, n)
	for i := range n {
		parts[i] = fmt.Sprintf("%+.3f", v[i])
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// #endregion simulate
