// Package alert evaluates the fixed alert rule table against fresh indicator
// snapshots and keeps the bounded global alert log.
package alert

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketengine/internal/model"
)

// ErrInvalidThreshold is returned for a non-finite or negative threshold.
var ErrInvalidThreshold = errors.New("alert: invalid threshold")

// State is the per (symbol, type) lifecycle of a rule.
type State int

const (
	Idle State = iota
	Triggered
	CoolingDown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Triggered:
		return "triggered"
	case CoolingDown:
		return "cooling_down"
	}
	return "unknown"
}

// Config controls rule cooldowns.
type Config struct {
	Cooldown       time.Duration
	CooldownByType map[model.AlertType]time.Duration
}

type key struct {
	symbol string
	typ    model.AlertType
}

// Engine evaluates rules and tracks cooldowns. It is safe for concurrent use
// by different symbols.
type Engine struct {
	cfg Config
	now func() time.Time

	mu         sync.Mutex
	lastFired  map[key]time.Time
	thresholds map[string]float64
	prevClose  map[string]float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a rule engine.
func NewEngine(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:        cfg,
		now:        time.Now,
		lastFired:  make(map[key]time.Time),
		thresholds: make(map[string]float64),
		prevClose:  make(map[string]float64),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// cooldown returns the cooldown window for an alert type.
func (e *Engine) cooldown(t model.AlertType) time.Duration {
	if d, ok := e.cfg.CooldownByType[t]; ok {
		return d
	}
	return e.cfg.Cooldown
}

// SetThreshold enables the price_move rule for symbol at pct percent.
// A zero pct disables it.
func (e *Engine) SetThreshold(symbol string, pct float64) error {
	if !(pct >= 0) || pct > 1e6 {
		return fmt.Errorf("%w: %v", ErrInvalidThreshold, pct)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if pct == 0 {
		delete(e.thresholds, symbol)
		return nil
	}
	e.thresholds[symbol] = pct
	return nil
}

// Threshold returns the price_move threshold for symbol, or 0.
func (e *Engine) Threshold(symbol string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.thresholds[symbol]
}

// SeedClose records the last known close for symbol without evaluating
// rules. Used after a history replace.
func (e *Engine) SeedClose(symbol string, price float64) {
	e.mu.Lock()
	e.prevClose[symbol] = price
	e.mu.Unlock()
}

// State reports the lifecycle of (symbol, t) at the engine clock.
func (e *Engine) State(symbol string, t model.AlertType) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastFired[key{symbol, t}]
	if !ok {
		return Idle
	}
	now := e.now()
	switch {
	case now.Equal(last):
		return Triggered
	case now.Sub(last) < e.cooldown(t):
		return CoolingDown
	}
	return Idle
}

// Evaluate runs every rule against the candle and its fresh indicator
// snapshot. prior is the snapshot before this candle, or nil when there is
// none; a nil prior satisfies the RSI edge guards. Rules in cooldown for
// (symbol, type) are suppressed.
func (e *Engine) Evaluate(symbol string, c model.Candle, ind model.TechnicalIndicators, prior *model.TechnicalIndicators) []model.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	in := Input{
		Symbol:    symbol,
		Candle:    c,
		Ind:       ind,
		Prior:     prior,
		PrevClose: e.prevClose[symbol],
		Threshold: e.thresholds[symbol],
	}
	e.prevClose[symbol] = c.Close

	now := e.now()
	var out []model.Alert
	for _, r := range Rules {
		if !r.Condition(in) {
			continue
		}
		k := key{symbol, r.Type}
		if last, ok := e.lastFired[k]; ok && now.Sub(last) < e.cooldown(r.Type) {
			continue
		}
		e.lastFired[k] = now

		a := model.Alert{
			ID:         uuid.NewString(),
			Symbol:     symbol,
			Type:       r.Type,
			Severity:   r.Severity,
			Message:    r.Message(in),
			Price:      c.Close,
			Indicators: ind,
			Timestamp:  now,
		}
		if r.WithVolume {
			v := c.Volume
			a.Volume = &v
		}
		out = append(out, a)
	}
	return out
}
