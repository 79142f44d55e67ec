package model

import "time"

// AlertType identifies which rule produced an alert.
type AlertType string

const (
	AlertBreakout      AlertType = "breakout"
	AlertBreakdown     AlertType = "breakdown"
	AlertVolumeSpike   AlertType = "volume_spike"
	AlertRSIOverbought AlertType = "rsi_overbought"
	AlertRSIOversold   AlertType = "rsi_oversold"
	AlertPriceMove     AlertType = "price_move"
)

// AlertTypes lists every alert type in rule priority order.
var AlertTypes = []AlertType{
	AlertBreakout,
	AlertBreakdown,
	AlertVolumeSpike,
	AlertRSIOverbought,
	AlertRSIOversold,
	AlertPriceMove,
}

// Valid reports whether t is a known alert type.
func (t AlertType) Valid() bool {
	switch t {
	case AlertBreakout, AlertBreakdown, AlertVolumeSpike,
		AlertRSIOverbought, AlertRSIOversold, AlertPriceMove:
		return true
	}
	return false
}

// Severity ranks how urgent an alert is.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Alert is one rule firing for one symbol.
type Alert struct {
	ID         string              `json:"id"`
	Symbol     string              `json:"symbol"`
	Type       AlertType           `json:"type"`
	Severity   Severity            `json:"severity"`
	Message    string              `json:"message"`
	Price      float64             `json:"price"`
	Volume     *float64            `json:"volume,omitempty"`
	Indicators TechnicalIndicators `json:"indicators"`
	Timestamp  time.Time           `json:"timestamp"`
	Dismissed  bool                `json:"dismissed"`
	IsRead     bool                `json:"is_read"`
}
