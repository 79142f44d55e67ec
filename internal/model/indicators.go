package model

// Readiness is a bitmask of indicator series that had enough history when
// a TechnicalIndicators snapshot was computed. RSI and ATR are always valid
// in a returned snapshot and have no flag.
type Readiness uint8

const (
	ReadyEMA12 Readiness = 1 << iota
	ReadyEMA26
	ReadyMACD
	ReadyBollinger
	ReadyVolumeMA
)

// Has reports whether every flag in f is set.
func (r Readiness) Has(f Readiness) bool { return r&f == f }

// MACD holds the moving average convergence divergence triple.
type MACD struct {
	Line      float64 `json:"line"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// BollingerBands holds a 20-period, 2 standard deviation envelope.
type BollingerBands struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// TechnicalIndicators is an immutable snapshot derived from a candle
// history. It is recomputed wholesale on every append.
type TechnicalIndicators struct {
	RSI       float64        `json:"rsi"`
	ATR       float64        `json:"atr"`
	EMA12     float64        `json:"ema12"`
	EMA26     float64        `json:"ema26"`
	MACD      MACD           `json:"macd"`
	Bollinger BollingerBands `json:"bb"`
	VolumeMA  float64        `json:"volume_ma"`
	Ready     Readiness      `json:"ready"`
}
