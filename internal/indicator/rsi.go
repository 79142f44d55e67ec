package indicator

import (
	"math"

	"marketengine/internal/model"
)

// RSI is the relative strength index with Wilder smoothing. The first
// period deltas are averaged to seed the gain and loss averages, so it is
// ready after period+1 candles. Until then Value reads 50.
type RSI struct {
	period  int
	deltas  int
	last    float64
	started bool
	gain    float64 // average gain, or the running sum while seeding
	loss    float64 // average loss, or the running sum while seeding
	value   float64
}

// NewRSI creates an RSI over period deltas, typically 14.
func NewRSI(period int) *RSI {
	return &RSI{period: period, value: 50}
}

func (r *RSI) Name() string { return "RSI" }

func (r *RSI) Update(candle model.Candle) {
	if !r.started {
		r.started = true
		r.last = candle.Close
		return
	}
	up, down := split(candle.Close - r.last)
	r.last = candle.Close
	r.deltas++

	n := float64(r.period)
	switch {
	case r.deltas < r.period:
		r.gain += up
		r.loss += down
		return
	case r.deltas == r.period:
		r.gain = (r.gain + up) / n
		r.loss = (r.loss + down) / n
	default:
		r.gain = (r.gain*(n-1) + up) / n
		r.loss = (r.loss*(n-1) + down) / n
	}
	r.value = strength(r.gain, r.loss)
}

func (r *RSI) Value() float64 { return r.value }
func (r *RSI) Ready() bool    { return r.deltas >= r.period }

// split returns the positive and negative parts of a price change.
func split(delta float64) (up, down float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

// strength maps average gain and loss onto [0,100]. A flat series reads 50.
func strength(gain, loss float64) float64 {
	switch {
	case gain == 0 && loss == 0:
		return 50
	case loss == 0:
		return 100
	}
	v := 100 - 100/(1+gain/loss)
	return math.Max(0, math.Min(100, v))
}
