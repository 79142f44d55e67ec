package indicator

import (
	"math"

	"marketengine/internal/model"
)

// ATR calculates Average True Range as the simple mean of the last period
// true ranges. The first candle only seeds prevClose.
type ATR struct {
	period    int
	seen      bool
	prevClose float64
	win       window
	current   float64
}

// NewATR creates a new ATR indicator with the given period (typically 14).
func NewATR(period int) *ATR {
	return &ATR{period: period, win: newWindow(period)}
}

func (a *ATR) Name() string { return "ATR" }

func (a *ATR) Update(candle model.Candle) {
	if !a.seen {
		a.seen = true
		a.prevClose = candle.Close
		return
	}
	tr := math.Max(candle.High-candle.Low,
		math.Max(math.Abs(candle.High-a.prevClose), math.Abs(candle.Low-a.prevClose)))
	a.prevClose = candle.Close

	a.win.push(tr)
	if a.win.full() {
		a.current = math.Max(a.win.mean(), 0)
	}
}

func (a *ATR) Value() float64 { return a.current }
func (a *ATR) Ready() bool    { return a.win.full() }
