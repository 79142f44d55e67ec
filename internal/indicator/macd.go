package indicator

import "marketengine/internal/model"

// MACD tracks fast/slow EMAs of the close and a signal EMA of their spread.
// The signal series starts once the slow EMA is seeded, so it is ready after
// slow+signal-1 candles.
type MACD struct {
	fast, slow *EMA
	signal     *EMA
	line       float64
}

// NewMACD creates a MACD(fast, slow, signal), typically (12, 26, 9).
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{fast: NewEMA(fast), slow: NewEMA(slow), signal: NewEMA(signal)}
}

func (m *MACD) Name() string { return "MACD" }

func (m *MACD) Update(candle model.Candle) {
	m.fast.Update(candle)
	m.slow.Update(candle)
	if !m.slow.Ready() || !m.fast.Ready() {
		return
	}
	m.line = m.fast.Value() - m.slow.Value()
	m.signal.Add(m.line)
}

// Value returns the MACD line.
func (m *MACD) Value() float64 { return m.line }
func (m *MACD) Ready() bool    { return m.signal.Ready() }

// Result returns line, signal and histogram. Signal and histogram are zero
// until Ready.
func (m *MACD) Result() model.MACD {
	if !m.Ready() {
		return model.MACD{Line: m.line}
	}
	s := m.signal.Value()
	return model.MACD{Line: m.line, Signal: s, Histogram: m.line - s}
}

// Fast and Slow expose the underlying EMAs.
func (m *MACD) Fast() *EMA { return m.fast }
func (m *MACD) Slow() *EMA { return m.slow }
