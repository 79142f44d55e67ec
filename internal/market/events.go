package market

import (
	"time"

	"marketengine/internal/model"
)

// PriceUpdate is published for every accepted candle.
type PriceUpdate struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`         // vs previous close
	ChangePercent float64   `json:"change_percent"` // vs previous close
	Volume        float64   `json:"volume"`
	Time          time.Time `json:"time"`
}

// CandleComplete is published after a candle is stored and indicators are
// recomputed. Indicators is nil while history is too short.
type CandleComplete struct {
	Symbol     string                     `json:"symbol"`
	Candle     model.Candle               `json:"candle"`
	Indicators *model.TechnicalIndicators `json:"indicators,omitempty"`
}

// ConnectionEvent is published on every feed status transition.
type ConnectionEvent struct {
	Status model.ConnectionStatus `json:"status"`
	Error  string                 `json:"error,omitempty"`
	Time   time.Time              `json:"time"`
}

// SymbolData is the full per-symbol view.
type SymbolData struct {
	Symbol     string                     `json:"symbol"`
	Candles    []model.Candle             `json:"candles"`
	Indicators *model.TechnicalIndicators `json:"indicators,omitempty"`
	LastUpdate time.Time                  `json:"last_update"`
}

// OverviewEntry is one row of MarketOverview.
type OverviewEntry struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	Change     float64   `json:"change"` // percent vs first stored close
	Volume     float64   `json:"volume"`
	RSI        *float64  `json:"rsi,omitempty"`
	LastUpdate time.Time `json:"last_update"`
}

// Rejection reasons passed to Observer.CandleRejected.
const (
	RejectInvalid    = "invalid"
	RejectOutOfOrder = "out_of_order"
)

// Observer receives pipeline measurements. internal/metrics implements it.
type Observer interface {
	CandleAccepted(symbol string, took time.Duration)
	CandleRejected(symbol, reason string)
	// CandleEvicted reports that a full history dropped its oldest candle.
	CandleEvicted(symbol string)
	AlertFired(a model.Alert)
	SignalGenerated(s model.AlphaSignal)
	ConnectionChanged(s model.ConnectionStatus)
	ReconnectScheduled(attempt int, delay time.Duration)
	AnalysisCompleted(took time.Duration)
}

type nopObserver struct{}

func (nopObserver) CandleAccepted(string, time.Duration)     {}
func (nopObserver) CandleRejected(string, string)            {}
func (nopObserver) CandleEvicted(string)                     {}
func (nopObserver) AlertFired(model.Alert)                   {}
func (nopObserver) SignalGenerated(model.AlphaSignal)        {}
func (nopObserver) ConnectionChanged(model.ConnectionStatus) {}
func (nopObserver) ReconnectScheduled(int, time.Duration)    {}
func (nopObserver) AnalysisCompleted(time.Duration)          {}
