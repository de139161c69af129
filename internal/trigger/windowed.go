package trigger

import "fmt"

// #region windowed-error
// WindowedError attempts an expansion every Window samples when the mean
// squared signal over the last Window samples exceeds ErrorThreshold.
type WindowedError struct {
	cfg     Config
	signals *window
	history *History
}

// NewWindowedError creates the windowed-error strategy.
func NewWindowedError(cfg Config) *WindowedError {
	return &WindowedError{
		cfg:     cfg,
		signals: newWindow(cfg.Window),
		history: NewHistory(cfg.HistoryLimit),
	}
}

func (p *WindowedError) Name() string { return PolicyWindowedError }

func (p *WindowedError) Window() int { return p.cfg.Window }

func (p *WindowedError) Observe(signal, _ float64) { p.signals.push(signal) }

func (p *WindowedError) Evaluate(s Status) Decision {
	d := Decision{ResidualNorm: s.ResidualNorm, MinNorm: p.cfg.MinExpandNorm}
	if s.Step <= 0 || s.Step%p.cfg.Window != 0 {
		d.Reason = "off window boundary"
		return d
	}
	if s.Dim >= s.MaxDim {
		d.Reason = "at capacity"
		return d
	}
	if !p.signals.full() {
		d.Reason = "window not full"
		return d
	}
	d.WindowMSE = p.signals.meanSquare()
	if d.WindowMSE <= p.cfg.ErrorThreshold {
		d.Reason = fmt.Sprintf("window mse %.4f within threshold %.4f", d.WindowMSE, p.cfg.ErrorThreshold)
		return d
	}
	d.Attempt = true
	d.Reason = fmt.Sprintf("window mse %.4f exceeds threshold %.4f", d.WindowMSE, p.cfg.ErrorThreshold)
	return d
}

func (p *WindowedError) Record(ev Event) { p.history.Add(ev) }

func (p *WindowedError) Events() []Event { return p.history.Events() }

// #endregion windowed-error
