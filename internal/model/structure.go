package model

// Trend is the directional bias of a symbol.
type Trend string

const (
	Bullish Trend = "bullish"
	Bearish Trend = "bearish"
	Neutral Trend = "neutral"
)

// BreakKind tells whether a break level is a swing high or a swing low.
type BreakKind string

const (
	BreakHigh BreakKind = "high"
	BreakLow  BreakKind = "low"
)

// BreakLevel is a local extreme that dominates its neighbourhood.
// Index is the candle position inside the analysed window.
type BreakLevel struct {
	Price float64   `json:"price"`
	Kind  BreakKind `json:"kind"`
	Index int       `json:"index"`
}

// LiquidityLevel is a price bucket where volume has accumulated.
type LiquidityLevel struct {
	Price    float64 `json:"price"`
	Volume   float64 `json:"volume"`
	Strength float64 `json:"strength"`
}

// VolumeProfile is buy/sell volume aggregated at one close-price bucket.
type VolumeProfile struct {
	Price      float64 `json:"price"`
	Volume     float64 `json:"volume"`
	BuyVolume  float64 `json:"buy_volume"`
	SellVolume float64 `json:"sell_volume"`
	Imbalance  float64 `json:"imbalance"`
}

// MarketStructure is the per-symbol result of one analysis cycle.
type MarketStructure struct {
	Trend           Trend            `json:"trend"`
	BreakoutLevels  []BreakLevel     `json:"breakout_levels"`
	LiquidityLevels []LiquidityLevel `json:"liquidity_levels"`
	VolumeProfile   []VolumeProfile  `json:"volume_profile"`
}
