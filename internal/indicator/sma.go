package indicator

import "marketengine/internal/model"

// SMA is the arithmetic mean of the last period values of a source series.
// It reads zero until the window fills.
type SMA struct {
	name string
	src  Source
	win  window
}

// NewSMA averages closing prices.
func NewSMA(period int) *SMA { return newSMA("SMA", Close, period) }

// NewVolumeSMA averages traded volume.
func NewVolumeSMA(period int) *SMA { return newSMA("VolumeSMA", Volume, period) }

func newSMA(name string, src Source, period int) *SMA {
	return &SMA{name: name, src: src, win: newWindow(period)}
}

func (s *SMA) Name() string               { return s.name }
func (s *SMA) Update(candle model.Candle) { s.win.push(s.src(candle)) }
func (s *SMA) Ready() bool                { return s.win.full() }

func (s *SMA) Value() float64 {
	if !s.win.full() {
		return 0
	}
	return s.win.mean()
}
