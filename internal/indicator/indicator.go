// Package indicator provides technical indicator calculations over candle data.
//
// All indicators implement the Indicator interface, receiving candles and
// producing float64 values. Compute replays a candle history through a fresh
// set of indicators and returns a model.TechnicalIndicators snapshot.
package indicator

import "marketengine/internal/model"

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "SMA", "RSI").
	Name() string

	// Update feeds a new candle and recalculates.
	Update(candle model.Candle)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

// Source picks the input series of a candle.
type Source func(model.Candle) float64

// Close and Volume are the two input series used by the engine.
var (
	Close  Source = func(c model.Candle) float64 { return c.Close }
	Volume Source = func(c model.Candle) float64 { return c.Volume }
)

// window is a preallocated circular buffer of the last n values.
type window struct {
	buf   []float64
	idx   int // current write position
	count int // total values received
	sum   float64
}

func newWindow(n int) window { return window{buf: make([]float64, n)} }

// push stores v, subtracting the value being overwritten from the running sum.
func (w *window) push(v float64) {
	if w.count >= len(w.buf) {
		w.sum -= w.buf[w.idx]
	}
	w.buf[w.idx] = v
	w.sum += v
	w.idx = (w.idx + 1) % len(w.buf)
	w.count++
}

func (w *window) full() bool        { return w.count >= len(w.buf) }
func (w *window) mean() float64     { return w.sum / float64(len(w.buf)) }
func (w *window) values() []float64 { return w.buf }
