package indicator

import (
	"math"

	"marketengine/internal/model"
)

// Bollinger computes a moving-average envelope at ±k population standard
// deviations of the closing price.
type Bollinger struct {
	period int
	k      float64
	win    window
	bands  model.BollingerBands
}

// NewBollinger creates Bollinger Bands (typically period 20, k 2).
func NewBollinger(period int, k float64) *Bollinger {
	return &Bollinger{period: period, k: k, win: newWindow(period)}
}

func (b *Bollinger) Name() string { return "BB" }

func (b *Bollinger) Update(candle model.Candle) {
	b.win.push(candle.Close)
	if !b.win.full() {
		return
	}
	mean := b.win.mean()
	var variance float64
	for _, v := range b.win.values() {
		d := v - mean
		variance += d * d
	}
	sd := math.Sqrt(variance / float64(b.period))
	b.bands = model.BollingerBands{
		Upper:  mean + b.k*sd,
		Middle: mean,
		Lower:  mean - b.k*sd,
	}
}

// Value returns the middle band.
func (b *Bollinger) Value() float64 { return b.bands.Middle }

func (b *Bollinger) Bands() model.BollingerBands { return b.bands }
func (b *Bollinger) Ready() bool                 { return b.win.full() }
