package market

import (
	"math"

	"marketengine/internal/model"
)

// Summary signal labels.
const (
	SignalRSIOverbought = "RSI Overbought"
	SignalRSIOversold   = "RSI Oversold"
	SignalMACDBullish   = "MACD Bullish Crossover"
	SignalMACDBearish   = "MACD Bearish Crossover"
	SignalEMAUptrend    = "EMA Uptrend"
	SignalEMADowntrend  = "EMA Downtrend"
)

// Summary RSI bands; wider than the alert thresholds.
const (
	summaryOverbought = 70.0
	summaryOversold   = 30.0
)

// TechnicalSummary is a vote over indicator readings.
type TechnicalSummary struct {
	Trend    model.Trend `json:"trend"`
	Strength int         `json:"strength"` // bullish share of votes, 0..100
	Signals  []string    `json:"signals"`
}

// Summarize counts bullish and bearish readings: RSI extremes, the MACD
// line against its signal, and EMA12 against EMA26. Series that are not
// ready do not vote. With no votes the result is neutral at 50.
func Summarize(ind model.TechnicalIndicators) TechnicalSummary {
	var bull, bear int
	signals := make([]string, 0, 3)
	vote := func(label string, bullish bool) {
		signals = append(signals, label)
		if bullish {
			bull++
		} else {
			bear++
		}
	}

	switch {
	case ind.RSI > summaryOverbought:
		vote(SignalRSIOverbought, false)
	case ind.RSI < summaryOversold:
		vote(SignalRSIOversold, true)
	}
	if ind.Ready.Has(model.ReadyMACD) {
		if ind.MACD.Line > ind.MACD.Signal {
			vote(SignalMACDBullish, true)
		} else {
			vote(SignalMACDBearish, false)
		}
	}
	if ind.Ready.Has(model.ReadyEMA12 | model.ReadyEMA26) {
		if ind.EMA12 > ind.EMA26 {
			vote(SignalEMAUptrend, true)
		} else {
			vote(SignalEMADowntrend, false)
		}
	}

	sum := TechnicalSummary{Trend: model.Neutral, Strength: 50, Signals: signals}
	if total := bull + bear; total > 0 {
		sum.Strength = int(math.Round(float64(bull) / float64(total) * 100))
	}
	switch {
	case bull > bear:
		sum.Trend = model.Bullish
	case bear > bull:
		sum.Trend = model.Bearish
	}
	return sum
}

// TechnicalSummary summarizes symbol's latest indicators. It returns false
// for unknown symbols and while history is too short.
func (s *Store) TechnicalSummary(symbol string) (TechnicalSummary, bool) {
	st := s.state(symbol, false)
	if st == nil {
		return TechnicalSummary{}, false
	}
	st.mu.Lock()
	ind := st.indicators
	st.mu.Unlock()
	if ind == nil {
		return TechnicalSummary{}, false
	}
	return Summarize(*ind), true
}
