package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/latent-aligner/internal/aligner"
	"github.com/danielpatrickdp/latent-aligner/internal/codec"
	"github.com/danielpatrickdp/latent-aligner/internal/eval"
	"github.com/danielpatrickdp/latent-aligner/internal/metrics"
	"github.com/danielpatrickdp/latent-aligner/internal/replay"
	"github.com/danielpatrickdp/latent-aligner/internal/session"
	"github.com/danielpatrickdp/latent-aligner/internal/trigger"
)

func newControllerCmd(configPath *string) *cobra.Command {
	var rounds int
	cmd := &cobra.Command{
		Use:   "controller",
		Short: "Drive the remote feedback scorer until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runController(cmd.Context(), cmd.OutOrStdout(), *configPath, rounds)
		},
	}
	cmd.Flags().IntVar(&rounds, "rounds", 0, "stop after N rounds (0 runs until interrupted)")
	return cmd
}

// #region controller
func runController(ctx context.Context, out io.Writer, configPath string, rounds int) error {
	rt, err := newRuntime(configPath, true)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg := rt.cfg
	acfg, tcfg := cfg.AlignerConfig(), cfg.TriggerConfig()

	al, err := aligner.New(acfg, aligner.NewSource(cfg.Aligner.Seed))
	if err != nil {
		return err
	}
	policy, err := trigger.New(tcfg)
	if err != nil {
		return err
	}
	scorer, err := codec.NewScorerClient(cfg.ScorerConfig())
	if err != nil {
		return err
	}
	defer scorer.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec, err := metrics.NewRecorder(reg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				rt.log.Error().Err(err).Msg("metrics listener")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		rt.log.Info().Str("addr", cfg.Metrics.Addr).Msg("serving /metrics")
	}

	opts := session.Options{
		Filter:   scorer.SoftReward,
		Metrics:  rec,
		Eval:     eval.NewEvalHarness(eval.DefaultEvalConfig()),
		Logger:   &rt.log,
		LogEvery: cfg.Simulation.LogEvery,
	}
	if rt.store != nil {
		run, err := rt.store.CreateRun(cfg.Aligner.Seed, policy.Name(), replay.NewFixtureConfig(acfg, tcfg))
		if err != nil {
			return err
		}
		opts.Store, opts.RunID = rt.store, run.RunID
	}
	sess, err := session.New(al, policy, scorer, opts)
	if err != nil {
		return err
	}

	rt.log.Info().
		Str("scorer", cfg.Scorer.Addr).
		Str("run_id", opts.RunID).
		Int("k", al.Dim()).
		Msg("controller ready")

	sum, err := sess.Run(ctx, rounds)
	if err != nil && ctx.Err() == nil {
		return err
	}
	rt.log.Info().
		Int("rounds", sum.Rounds).
		Int("skipped", sum.Skipped).
		Int("expansions", sum.Expansions).
		Int("k", sum.FinalDim).
		Msg("controller stopped")

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(sess.Stats())
}

// #endregion controller
