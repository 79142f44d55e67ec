package alert

import (
	"fmt"

	"marketengine/internal/model"
)

// Multipliers over the 20-period volume average used by the rule table.
const (
	BreakVolumeFactor = 1.5
	SpikeVolumeFactor = 3.0
	RSIOverbought     = 80.0
	RSIOversold       = 20.0
)

// Input is everything a rule may look at for one evaluation.
type Input struct {
	Symbol    string
	Candle    model.Candle
	Ind       model.TechnicalIndicators
	Prior     *model.TechnicalIndicators
	PrevClose float64 // 0 when unknown
	Threshold float64 // price_move percent, 0 when unset
}

// Rule is one static entry of the rule table.
type Rule struct {
	Type      model.AlertType
	Severity  model.Severity
	Condition func(in Input) bool
	Message   func(in Input) string
	// WithVolume attaches the candle volume to the alert.
	WithVolume bool
}

// Rules is the fixed rule table in priority order. Every matching rule fires.
var Rules = []Rule{
	{
		Type:     model.AlertBreakout,
		Severity: model.SeverityHigh,
		Condition: func(in Input) bool {
			return in.Ind.Ready.Has(model.ReadyBollinger|model.ReadyVolumeMA) &&
				in.Candle.Close > in.Ind.Bollinger.Upper &&
				in.Candle.Volume > in.Ind.VolumeMA*BreakVolumeFactor
		},
		Message: func(in Input) string {
			return fmt.Sprintf("%s broke above upper band %.2f at %.2f on %.1fx volume",
				in.Symbol, in.Ind.Bollinger.Upper, in.Candle.Close, in.Candle.Volume/in.Ind.VolumeMA)
		},
		WithVolume: true,
	},
	{
		Type:     model.AlertBreakdown,
		Severity: model.SeverityHigh,
		Condition: func(in Input) bool {
			return in.Ind.Ready.Has(model.ReadyBollinger|model.ReadyVolumeMA) &&
				in.Candle.Close < in.Ind.Bollinger.Lower &&
				in.Candle.Volume > in.Ind.VolumeMA*BreakVolumeFactor
		},
		Message: func(in Input) string {
			return fmt.Sprintf("%s broke below lower band %.2f at %.2f on %.1fx volume",
				in.Symbol, in.Ind.Bollinger.Lower, in.Candle.Close, in.Candle.Volume/in.Ind.VolumeMA)
		},
		WithVolume: true,
	},
	{
		Type:     model.AlertVolumeSpike,
		Severity: model.SeverityMedium,
		Condition: func(in Input) bool {
			return in.Ind.Ready.Has(model.ReadyVolumeMA) &&
				in.Candle.Volume > in.Ind.VolumeMA*SpikeVolumeFactor
		},
		Message: func(in Input) string {
			return fmt.Sprintf("%s volume spike: %.0f vs %.0f average",
				in.Symbol, in.Candle.Volume, in.Ind.VolumeMA)
		},
		WithVolume: true,
	},
	{
		Type:     model.AlertRSIOverbought,
		Severity: model.SeverityMedium,
		Condition: func(in Input) bool {
			return in.Ind.RSI > RSIOverbought && (in.Prior == nil || in.Prior.RSI <= RSIOverbought)
		},
		Message: func(in Input) string {
			return fmt.Sprintf("%s RSI overbought at %.1f", in.Symbol, in.Ind.RSI)
		},
	},
	{
		Type:     model.AlertRSIOversold,
		Severity: model.SeverityMedium,
		Condition: func(in Input) bool {
			return in.Ind.RSI < RSIOversold && (in.Prior == nil || in.Prior.RSI >= RSIOversold)
		},
		Message: func(in Input) string {
			return fmt.Sprintf("%s RSI oversold at %.1f", in.Symbol, in.Ind.RSI)
		},
	},
	{
		Type:     model.AlertPriceMove,
		Severity: model.SeverityLow,
		Condition: func(in Input) bool {
			return in.Threshold > 0 && in.PrevClose > 0 && abs(pctChange(in.PrevClose, in.Candle.Close)) >= in.Threshold
		},
		Message: func(in Input) string {
			return fmt.Sprintf("%s moved %+.2f%% to %.2f", in.Symbol, pctChange(in.PrevClose, in.Candle.Close), in.Candle.Close)
		},
	},
}

func pctChange(from, to float64) float64 { return (to - from) / from * 100 }

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
