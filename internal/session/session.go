// Package session runs the learning loop: draw a probe, collect feedback,
// absorb it, and let the trigger policy decide whether the subspace grows.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/danielpatrickdp/latent-aligner/internal/aligner"
	"github.com/danielpatrickdp/latent-aligner/internal/logging"
	"github.com/danielpatrickdp/latent-aligner/internal/state"
	"github.com/danielpatrickdp/latent-aligner/internal/trigger"
	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog"
)

const (
	feedbackHistory = 100
	prefPreviewLen  = 8
)

// ErrNonFiniteFeedback is returned when a source reports NaN or ±Inf.
var ErrNonFiniteFeedback = errors.New("feedback is not finite")

// #region session-struct
// Session owns one aligner and drives it. Like the aligner it wraps, a
// Session is not safe for concurrent use.
type Session struct {
	al     *aligner.Aligner
	policy trigger.Policy
	source FeedbackSource
	opts   Options
	log    zerolog.Logger

	round      int
	absorbed   int
	skipped    int
	attempts   int
	expansions int

	feedback []float64 // raw, last feedbackHistory values
	signals  []float64 // absorbed, last StatsWindow values
}

// #endregion session-struct

// #region constructor
// New wires a session. al, policy and source are required.
func New(al *aligner.Aligner, policy trigger.Policy, source FeedbackSource, opts Options) (*Session, error) {
	switch {
	case al == nil:
		return nil, fmt.Errorf("new session: nil aligner")
	case policy == nil:
		return nil, fmt.Errorf("new session: nil policy")
	case source == nil:
		return nil, fmt.Errorf("new session: nil feedback source")
	}
	if opts.StatsWindow <= 0 {
		opts.StatsWindow = policy.Window()
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Session{al: al, policy: policy, source: source, opts: opts, log: log}, nil
}

// #endregion constructor

// #region accessors
// Aligner returns the aligner the session drives.
func (s *Session) Aligner() *aligner.Aligner { return s.al }

// Policy returns the trigger policy.
func (s *Session) Policy() trigger.Policy { return s.policy }

// Round returns the number of rounds run so far.
func (s *Session) Round() int { return s.round }

// #endregion accessors

// #region step
// Step runs one round. A feedback failure is returned with Skipped set and
// leaves the aligner and the policy untouched; the probe has still been drawn.
func (s *Session) Step(ctx context.Context) (StepResult, error) {
	s.round++
	step := s.round
	dimBefore := s.al.Dim()
	probe := s.al.SampleAction()
	res := StepResult{Step: step, Probe: probe, Dim: dimBefore}

	fb, err := s.source.Feedback(ctx, step, probe)
	if err == nil && (math.IsNaN(fb) || math.IsInf(fb, 0)) {
		err = fmt.Errorf("%w: %v", ErrNonFiniteFeedback, fb)
	}
	if err != nil {
		s.skipped++
		s.opts.Metrics.Skip()
		s.persistObservation(state.Observation{Step: step, Dim: dimBefore, Skipped: true})
		s.log.Warn().Err(err).Int("step", step).Msg("feedback failed, round skipped")
		res.Skipped = true
		return res, fmt.Errorf("step %d feedback: %w", step, err)
	}

	value := fb
	if s.opts.Filter != nil {
		value = s.opts.Filter(step, probe, fb)
	}
	signal, prediction := s.al.UpdateWithSample(probe, value)
	s.absorbed++
	s.policy.Observe(signal, fb)
	s.feedback = pushBounded(s.feedback, fb, feedbackHistory)
	s.signals = pushBounded(s.signals, signal, s.opts.StatsWindow)

	res.Feedback, res.Signal, res.Prediction = fb, signal, prediction
	s.opts.Metrics.Observe(fb, prediction, s.al.Dim(), s.al.ResidualNorm())
	s.persistObservation(state.Observation{
		Step: step, Feedback: fb, Signal: signal, Prediction: prediction, Dim: dimBefore,
	})

	res.Decision = s.policy.Evaluate(trigger.Status{
		Step:         s.absorbed,
		Dim:          s.al.Dim(),
		MaxDim:       s.al.MaxDim(),
		ResidualNorm: s.al.ResidualNorm(),
	})
	if res.Decision.Attempt {
		ev := s.expand(step, res.Decision)
		res.Expansion = &ev
	}
	res.Dim = s.al.Dim()

	if s.opts.LogEvery > 0 && step%s.opts.LogEvery == 0 {
		ev := s.log.Info().
			Int("step", step).
			Int("k", res.Dim).
			Float64("feedback", fb).
			Float64("prediction", prediction).
			Float64("signal", signal)
		if mse, ok := s.recentMSE(); ok {
			ev = ev.Float64("mse_window", mse)
		}
		ev.Msg("progress")
	}
	return res, nil
}

// #endregion step

// #region expand
func (s *Session) expand(step int, d trigger.Decision) trigger.Event {
	prevK := s.al.Dim()
	expanded := s.al.ExpandSubspace(d.MinNorm)
	s.attempts++
	ev := trigger.Event{
		Step:         step,
		PreviousK:    prevK,
		NewK:         s.al.Dim(),
		MeanFeedback: d.MeanFeedback,
		WindowMSE:    d.WindowMSE,
		ResidualNorm: d.ResidualNorm,
		Expanded:     expanded,
		Policy:       s.policy.Name(),
	}
	s.policy.Record(ev)
	s.opts.Metrics.Expansion(expanded, s.al.Dim(), s.al.ResidualNorm())

	entry := logging.ExpansionEntry{
		RunID:        s.opts.RunID,
		Step:         step,
		Policy:       ev.Policy,
		PreviousK:    prevK,
		NewK:         ev.NewK,
		MeanFeedback: d.MeanFeedback,
		WindowMSE:    d.WindowMSE,
		ResidualNorm: d.ResidualNorm,
		Decision:     logging.DecisionRejected,
		Reason:       d.Reason,
	}

	if !expanded {
		s.log.Debug().
			Int("step", step).
			Int("k", prevK).
			Float64("residual_norm", d.ResidualNorm).
			Str("policy", ev.Policy).
			Msg("expansion rejected: insufficient orthogonal evidence")
		s.logExpansion(entry)
		return ev
	}

	s.expansions++
	entry.Decision = logging.DecisionExpanded
	if s.opts.Eval != nil {
		result := s.opts.Eval.Run(s.al.Snapshot())
		if !result.Passed {
			s.log.Warn().Int("step", step).Str("reason", result.Reason).Msg("post-expansion eval failed")
		}
		if b, err := json.Marshal(result); err == nil {
			entry.EvalJSON = string(b)
		}
	}
	entry.VersionID = s.commit("expansion", step)
	s.logExpansion(entry)

	s.log.Info().
		Int("step", step).
		Int("previous_k", prevK).
		Int("new_k", ev.NewK).
		Float64("mean_feedback", d.MeanFeedback).
		Float64("window_mse", d.WindowMSE).
		Float64("residual_norm", d.ResidualNorm).
		Str("policy", ev.Policy).
		Msg("subspace expanded")
	return ev
}

// #endregion expand

// #region run
// Run executes rounds steps, or runs until ctx is done when rounds <= 0.
// Feedback failures are counted and skipped. A "start" snapshot is committed
// before the first round of the session and an "end" snapshot on return.
func (s *Session) Run(ctx context.Context, rounds int) (sum Summary, err error) {
	if s.round == 0 {
		s.commit("start", 0)
	}
	defer func() {
		sum.FinalDim = s.al.Dim()
		s.commit("end", s.round)
	}()

	for i := 0; rounds <= 0 || i < rounds; i++ {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		res, err := s.Step(ctx)
		sum.Rounds++
		if res.Expansion != nil {
			sum.Attempts++
			if res.Expansion.Expanded {
				sum.Expansions++
			}
		}
		if err != nil {
			sum.Skipped++
			if ctxErr := ctx.Err(); ctxErr != nil {
				return sum, ctxErr
			}
			continue
		}
		sum.Absorbed++
	}
	return sum, nil
}

// #endregion run

// #region stats
// Stats returns a snapshot of the session for reporting.
func (s *Session) Stats() Stats {
	st := Stats{
		Step:           s.round,
		Absorbed:       s.absorbed,
		Skipped:        s.skipped,
		Dim:            s.al.Dim(),
		MaxDim:         s.al.MaxDim(),
		Policy:         s.policy.Name(),
		RecentFeedback: append([]float64(nil), s.feedback...),
		Events:         s.policy.Events(),
		ResidualNorm:   s.al.ResidualNorm(),
		Attempts:       s.attempts,
		Expansions:     s.expansions,
	}
	if m, err := stats.Mean(s.feedback); err == nil {
		st.MeanFeedback = &m
	}
	if mse, ok := s.recentMSE(); ok {
		st.RecentMSE = &mse
	}
	pref := s.al.CurrentApproxPref()
	n := min(prefPreviewLen, len(pref))
	st.PrefPreview = pref[:n:n]
	return st
}

func (s *Session) recentMSE() (float64, bool) {
	if len(s.signals) < s.opts.StatsWindow {
		return 0, false
	}
	sq := make([]float64, len(s.signals))
	for i, v := range s.signals {
		sq[i] = v * v
	}
	m, err := stats.Mean(sq)
	return m, err == nil
}

// #endregion stats

// #region persistence
func (s *Session) persistObservation(obs state.Observation) {
	if s.opts.Store == nil || s.opts.RunID == "" {
		return
	}
	obs.RunID = s.opts.RunID
	if err := s.opts.Store.RecordObservation(obs); err != nil {
		s.log.Error().Err(err).Int("step", obs.Step).Msg("record observation")
	}
}

// commit writes a snapshot and returns its version id, or "" when
// persistence is disabled or the write failed.
func (s *Session) commit(label string, step int) string {
	if s.opts.Store == nil {
		return ""
	}
	rec, err := s.opts.Store.CommitSnapshot(state.SnapshotRecord{
		RunID: s.opts.RunID,
		Step:  step,
		Label: label,
		State: s.al.Snapshot(),
	})
	if err != nil {
		s.log.Error().Err(err).Str("label", label).Int("step", step).Msg("commit snapshot")
		return ""
	}
	return rec.VersionID
}

func (s *Session) logExpansion(entry logging.ExpansionEntry) {
	if s.opts.Store == nil {
		return
	}
	if err := logging.LogExpansion(s.opts.Store.DB(), entry); err != nil {
		s.log.Error().Err(err).Int("step", entry.Step).Msg("log expansion")
	}
}

// #endregion persistence

// #region helpers
func pushBounded(buf []float64, v float64, limit int) []float64 {
	buf = append(buf, v)
	if over := len(buf) - limit; over > 0 {
		buf = append(buf[:0], buf[over:]...)
	}
	return buf
}

// #endregion helpers
