// Package trigger decides when the session should ask the aligner to grow its
// subspace. Two strategies share one Policy interface and are selected by name.
package trigger

import (
	"fmt"

	"github.com/montanaflynn/stats"
)

// #region policy
// Policy is the "should I expand now" capability.
//
// Observe is called once per absorbed sample, before Evaluate for the same
// step. A Decision with Attempt set counts as an attempt for cooldown
// purposes whether or not the aligner accepts the direction. Record stores
// the outcome in the bounded history. Window is the number of samples the
// policy's rolling statistics cover.
type Policy interface {
	Name() string
	Window() int
	Observe(signal, feedback float64)
	Evaluate(s Status) Decision
	Record(ev Event)
	Events() []Event
}

// New builds the strategy named by cfg.Policy. An empty name selects reward_aware.
func New(cfg Config) (Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Policy {
	case "", PolicyRewardAware:
		return NewRewardAware(cfg), nil
	case PolicyWindowedError:
		return NewWindowedError(cfg), nil
	default:
		return nil, fmt.Errorf("new policy %q: %w", cfg.Policy, ErrUnknownPolicy)
	}
}

// #endregion policy

// #region window
// window keeps the most recent size values in arrival order.
type window struct {
	size int
	vals []float64
}

func newWindow(size int) *window {
	return &window{size: size, vals: make([]float64, 0, size)}
}

func (w *window) push(v float64) {
	if len(w.vals) == w.size {
		copy(w.vals, w.vals[1:])
		w.vals = w.vals[:w.size-1]
	}
	w.vals = append(w.vals, v)
}

func (w *window) full() bool { return len(w.vals) == w.size }

func (w *window) mean() float64 {
	m, err := stats.Mean(w.vals)
	if err != nil {
		return 0
	}
	return m
}

func (w *window) meanSquare() float64 {
	sq := make([]float64, len(w.vals))
	for i, v := range w.vals {
		sq[i] = v * v
	}
	m, err := stats.Mean(sq)
	if err != nil {
		return 0
	}
	return m
}

// #endregion window

// #region history
// History is a bounded, oldest-first record of expansion events.
type History struct {
	limit  int
	events []Event
}

// NewHistory creates a history holding at most limit events.
func NewHistory(limit int) *History {
	if limit < 1 {
		limit = 1
	}
	return &History{limit: limit}
}

// Add appends ev, dropping the oldest event when full.
func (h *History) Add(ev Event) {
	h.events = append(h.events, ev)
	if over := len(h.events) - h.limit; over > 0 {
		h.events = append(h.events[:0], h.events[over:]...)
	}
}

// Events returns a copy of the stored events.
func (h *History) Events() []Event {
	out := make([]Event, len(h.events))
	copy(out, h.events)
	return out
}

// Len returns the number of stored events.
func (h *History) Len() int { return len(h.events) }

// #endregion history
