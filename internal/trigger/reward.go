package trigger

import "fmt"

// #region reward-aware
// RewardAware attempts an expansion only during a bad stretch: the mean of
// the last Window feedback values is below BadMeanThreshold, the residual
// accumulator norm exceeds ResidualNormThreshold, and at least Cooldown
// samples have passed since the previous attempt.
type RewardAware struct {
	cfg         Config
	feedback    *window
	history     *History
	lastAttempt int // step of the previous attempt, 0 when none
}

// NewRewardAware creates the reward-aware strategy.
func NewRewardAware(cfg Config) *RewardAware {
	return &RewardAware{
		cfg:      cfg,
		feedback: newWindow(cfg.Window),
		history:  NewHistory(cfg.HistoryLimit),
	}
}

func (p *RewardAware) Name() string { return PolicyRewardAware }

func (p *RewardAware) Window() int { return p.cfg.Window }

func (p *RewardAware) Observe(_, feedback float64) { p.feedback.push(feedback) }

func (p *RewardAware) Evaluate(s Status) Decision {
	d := Decision{ResidualNorm: s.ResidualNorm, MinNorm: p.cfg.ResidualNormThreshold}
	if s.Dim >= s.MaxDim {
		d.Reason = "at capacity"
		return d
	}
	if !p.feedback.full() {
		d.Reason = "window not full"
		return d
	}
	d.MeanFeedback = p.feedback.mean()
	if d.MeanFeedback >= p.cfg.BadMeanThreshold {
		d.Reason = fmt.Sprintf("mean feedback %.4f not below %.4f", d.MeanFeedback, p.cfg.BadMeanThreshold)
		return d
	}
	if s.ResidualNorm <= p.cfg.ResidualNormThreshold {
		d.Reason = fmt.Sprintf("residual norm %.4f not above %.4f", s.ResidualNorm, p.cfg.ResidualNormThreshold)
		return d
	}
	if p.lastAttempt > 0 && s.Step-p.lastAttempt < p.cfg.Cooldown {
		d.Reason = fmt.Sprintf("cooldown: %d of %d samples since last attempt", s.Step-p.lastAttempt, p.cfg.Cooldown)
		return d
	}
	p.lastAttempt = s.Step
	d.Attempt = true
	d.Reason = fmt.Sprintf("mean feedback %.4f below %.4f with residual norm %.4f", d.MeanFeedback, p.cfg.BadMeanThreshold, s.ResidualNorm)
	return d
}

func (p *RewardAware) Record(ev Event) { p.history.Add(ev) }

func (p *RewardAware) Events() []Event { return p.history.Events() }

// #endregion reward-aware
