// Package analysis detects market structure (swing breaks, liquidity pools,
// volume profile, trend) over a candle window and derives alpha signals
// from it.
package analysis

import (
	"sort"

	"github.com/shopspring/decimal"

	"marketengine/internal/model"
)

const (
	// BreakLookback is the neighbourhood size on each side of a swing point.
	BreakLookback = 20
	// MaxLiquidityLevels is how many volume pools are kept.
	MaxLiquidityLevels = 20
	// LiquidityStrengthUnit is the volume that maps to strength 1.
	LiquidityStrengthUnit = 1e6
	// MaxLiquidityStrength caps LiquidityLevel.Strength.
	MaxLiquidityStrength = 10.0
)

var profileBucket = decimal.NewFromFloat(0.5)

// DetectBreaks returns swing highs and lows that strictly dominate the
// lookback candles on both sides, ordered by index.
func DetectBreaks(candles []model.Candle, lookback int) []model.BreakLevel {
	var out []model.BreakLevel
	for i := lookback; i <= len(candles)-lookback-1; i++ {
		hi, lo := candles[i].High, candles[i].Low
		isHigh, isLow := true, true
		for j := i - lookback; j <= i+lookback; j++ {
			if j == i {
				continue
			}
			if candles[j].High >= hi {
				isHigh = false
			}
			if candles[j].Low <= lo {
				isLow = false
			}
			if !isHigh && !isLow {
				break
			}
		}
		if isHigh {
			out = append(out, model.BreakLevel{Price: hi, Kind: model.BreakHigh, Index: i})
		}
		if isLow {
			out = append(out, model.BreakLevel{Price: lo, Kind: model.BreakLow, Index: i})
		}
	}
	return out
}

// LiquidityLevels aggregates candle volume at every open/high/low/close
// rounded to cents and returns the heaviest pools, by volume descending.
func LiquidityLevels(candles []model.Candle, limit int) []model.LiquidityLevel {
	type pool struct {
		price  decimal.Decimal
		volume float64
	}
	pools := make(map[string]*pool)
	for _, c := range candles {
		for _, p := range [...]float64{c.Open, c.High, c.Low, c.Close} {
			d := decimal.NewFromFloat(p).Round(2)
			k := d.String()
			if pl, ok := pools[k]; ok {
				pl.volume += c.Volume
			} else {
				pools[k] = &pool{price: d, volume: c.Volume}
			}
		}
	}

	levels := make([]model.LiquidityLevel, 0, len(pools))
	for _, pl := range pools {
		price, _ := pl.price.Float64()
		strength := pl.volume / LiquidityStrengthUnit
		if strength > MaxLiquidityStrength {
			strength = MaxLiquidityStrength
		}
		levels = append(levels, model.LiquidityLevel{Price: price, Volume: pl.volume, Strength: strength})
	}
	sort.Slice(levels, func(i, j int) bool {
		if levels[i].Volume != levels[j].Volume {
			return levels[i].Volume > levels[j].Volume
		}
		return levels[i].Price < levels[j].Price
	})
	if len(levels) > limit {
		levels = levels[:limit]
	}
	return levels
}

// VolumeProfileOf buckets candle volume by close price in 0.5 steps. A
// candle counts as buying when it closed above its open. Buckets are sorted
// by price.
func VolumeProfileOf(candles []model.Candle) []model.VolumeProfile {
	buckets := make(map[string]*model.VolumeProfile)
	for _, c := range candles {
		d := decimal.NewFromFloat(c.Close).Div(profileBucket).Floor().Mul(profileBucket)
		k := d.String()
		b, ok := buckets[k]
		if !ok {
			price, _ := d.Float64()
			b = &model.VolumeProfile{Price: price}
			buckets[k] = b
		}
		b.Volume += c.Volume
		if c.Bullish() {
			b.BuyVolume += c.Volume
		} else {
			b.SellVolume += c.Volume
		}
	}

	out := make([]model.VolumeProfile, 0, len(buckets))
	for _, b := range buckets {
		if b.Volume > 0 {
			b.Imbalance = (b.BuyVolume - b.SellVolume) / b.Volume
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}

// TrendOf classifies the window. With EMA26 and the bands ready it needs
// EMA12 and the close on the same side of EMA26 and the middle band;
// otherwise it compares the last close with the first.
func TrendOf(candles []model.Candle, ind model.TechnicalIndicators) model.Trend {
	if len(candles) == 0 {
		return model.Neutral
	}
	last := candles[len(candles)-1].Close

	if !ind.Ready.Has(model.ReadyEMA12 | model.ReadyEMA26 | model.ReadyBollinger) {
		first := candles[0].Close
		switch {
		case last > first:
			return model.Bullish
		case last < first:
			return model.Bearish
		}
		return model.Neutral
	}

	switch {
	case ind.EMA12 > ind.EMA26 && last > ind.Bollinger.Middle:
		return model.Bullish
	case ind.EMA12 < ind.EMA26 && last < ind.Bollinger.Middle:
		return model.Bearish
	}
	return model.Neutral
}
