package model

import "time"

// SignalType identifies the analysis that produced an alpha signal.
type SignalType string

const (
	SignalStructuralBreak SignalType = "structural_break"
	SignalLiquidityHunt   SignalType = "liquidity_hunt"
	SignalVolumeImbalance SignalType = "volume_imbalance"
)

// Direction is the trade side suggested by a signal.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// AlphaSignal is a derived trade suggestion with entry, stop and targets.
type AlphaSignal struct {
	Symbol     string     `json:"symbol"`
	Type       SignalType `json:"type"`
	Direction  Direction  `json:"direction"`
	Confidence int        `json:"confidence"`
	Entry      float64    `json:"entry"`
	Stop       float64    `json:"stop"`
	Targets    []float64  `json:"targets"`
	Reasoning  string     `json:"reasoning"`
	Timestamp  time.Time  `json:"timestamp"`
}
