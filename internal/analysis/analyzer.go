package analysis

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"marketengine/internal/model"
)

// MinCandles is the shortest window Analyze works on.
const MinCandles = 50

// Signal proximity and risk multiples, in units of ATR.
const (
	breakProximity     = 0.5
	huntProximity      = 0.3
	huntMinStrength    = 5.0
	imbalanceThreshold = 0.3
	imbalanceBuckets   = 5
)

// Result is the output of one analysis pass.
type Result struct {
	Structure model.MarketStructure
	Signal    *model.AlphaSignal
}

// Analyzer derives structure and signals from a candle window.
type Analyzer struct {
	lookback int
	now      func() time.Time
}

// NewAnalyzer creates an analyzer. A nil clock uses time.Now.
func NewAnalyzer(now func() time.Time) *Analyzer {
	if now == nil {
		now = time.Now
	}
	return &Analyzer{lookback: BreakLookback, now: now}
}

// Analyze returns false without doing work when fewer than MinCandles
// candles are available.
func (a *Analyzer) Analyze(symbol string, candles []model.Candle, ind model.TechnicalIndicators) (Result, bool) {
	if len(candles) < MinCandles {
		return Result{}, false
	}

	res := Result{
		Structure: model.MarketStructure{
			Trend:           TrendOf(candles, ind),
			BreakoutLevels:  DetectBreaks(candles, a.lookback),
			LiquidityLevels: LiquidityLevels(candles, MaxLiquidityLevels),
			VolumeProfile:   VolumeProfileOf(candles),
		},
	}
	res.Signal = a.signal(symbol, candles[len(candles)-1].Close, ind.ATR, res.Structure)
	if res.Signal != nil {
		zap.L().Debug("analysis: signal",
			zap.String("symbol", symbol),
			zap.String("type", string(res.Signal.Type)),
			zap.String("direction", string(res.Signal.Direction)),
			zap.Float64("entry", res.Signal.Entry))
	}
	return res, true
}

// signal applies the signal rules in priority order; the first match wins.
func (a *Analyzer) signal(symbol string, price, atr float64, st model.MarketStructure) *model.AlphaSignal {
	if !(atr > 0) {
		return nil
	}

	// Most recent break level close to price.
	for i := len(st.BreakoutLevels) - 1; i >= 0; i-- {
		lvl := st.BreakoutLevels[i]
		if math.Abs(price-lvl.Price) > breakProximity*atr {
			continue
		}
		dir := directionFrom(price, lvl.Price)
		return a.build(symbol, model.SignalStructuralBreak, dir, 85, price,
			price-sign(dir)*1.5*atr,
			[]float64{price + sign(dir)*2*atr, price + sign(dir)*4*atr},
			fmt.Sprintf("price %.2f testing %s swing level %.2f", price, lvl.Kind, lvl.Price))
	}

	for _, lvl := range st.LiquidityLevels {
		if math.Abs(price-lvl.Price) > huntProximity*atr || lvl.Strength <= huntMinStrength {
			continue
		}
		dir := directionFrom(price, lvl.Price)
		return a.build(symbol, model.SignalLiquidityHunt, dir, 75, price,
			lvl.Price-sign(dir)*atr,
			[]float64{price + sign(dir)*2*atr, price + sign(dir)*3*atr},
			fmt.Sprintf("liquidity pool at %.2f (strength %.1f) near price %.2f", lvl.Price, lvl.Strength, price))
	}

	if imb, ok := topImbalance(st.VolumeProfile, imbalanceBuckets); ok && math.Abs(imb) > imbalanceThreshold {
		dir := model.Long
		if imb < 0 {
			dir = model.Short
		}
		return a.build(symbol, model.SignalVolumeImbalance, dir, 70, price,
			price-sign(dir)*1.2*atr,
			[]float64{price + sign(dir)*1.5*atr, price + sign(dir)*3*atr},
			fmt.Sprintf("volume imbalance %+.2f across heaviest buckets", imb))
	}
	return nil
}

func (a *Analyzer) build(symbol string, t model.SignalType, dir model.Direction, conf int, entry, stop float64, targets []float64, why string) *model.AlphaSignal {
	return &model.AlphaSignal{
		Symbol:     symbol,
		Type:       t,
		Direction:  dir,
		Confidence: conf,
		Entry:      entry,
		Stop:       stop,
		Targets:    targets,
		Reasoning:  why,
		Timestamp:  a.now(),
	}
}

// topImbalance is the mean imbalance of the n most voluminous buckets.
func topImbalance(profile []model.VolumeProfile, n int) (float64, bool) {
	if len(profile) == 0 {
		return 0, false
	}
	sorted := make([]model.VolumeProfile, len(profile))
	copy(sorted, profile)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Volume > sorted[j].Volume })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	var sum float64
	for _, b := range sorted {
		sum += b.Imbalance
	}
	return sum / float64(len(sorted)), true
}

func directionFrom(price, level float64) model.Direction {
	if price >= level {
		return model.Long
	}
	return model.Short
}

func sign(d model.Direction) float64 {
	if d == model.Short {
		return -1
	}
	return 1
}
