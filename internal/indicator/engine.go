package indicator

import (
	"errors"
	"fmt"

	"marketengine/internal/model"
)

// Standard periods for the engine's fixed indicator set.
const (
	RSIPeriod       = 14
	ATRPeriod       = 14
	FastEMAPeriod   = 12
	SlowEMAPeriod   = 26
	SignalPeriod    = 9
	BollingerPeriod = 20
	BollingerK      = 2.0
	VolumeMAPeriod  = 20

	// MinCandles is the shortest history Compute accepts (RSI/ATR period + 1).
	MinCandles = RSIPeriod + 1
)

// ErrInsufficientData is returned when a history is too short to compute RSI
// and ATR. It is transient: it clears once enough candles arrive.
var ErrInsufficientData = errors.New("insufficient data")

// Engine holds live instances of the fixed indicator set for one series.
// Not safe for concurrent use.
type Engine struct {
	count int
	rsi   *RSI
	atr   *ATR
	macd  *MACD
	bb    *Bollinger
	vol   *SMA
}

// NewEngine creates an engine with fresh indicator instances.
func NewEngine() *Engine {
	return &Engine{
		rsi:  NewRSI(RSIPeriod),
		atr:  NewATR(ATRPeriod),
		macd: NewMACD(FastEMAPeriod, SlowEMAPeriod, SignalPeriod),
		bb:   NewBollinger(BollingerPeriod, BollingerK),
		vol:  NewVolumeSMA(VolumeMAPeriod),
	}
}

// Process feeds one candle to every indicator.
func (e *Engine) Process(c model.Candle) {
	e.count++
	e.rsi.Update(c)
	e.atr.Update(c)
	e.macd.Update(c)
	e.bb.Update(c)
	e.vol.Update(c)
}

// Snapshot returns the current values. It fails with ErrInsufficientData
// until MinCandles have been processed.
func (e *Engine) Snapshot() (model.TechnicalIndicators, error) {
	if e.count < MinCandles {
		return model.TechnicalIndicators{}, fmt.Errorf("%w: have %d candles, need %d", ErrInsufficientData, e.count, MinCandles)
	}

	ti := model.TechnicalIndicators{
		RSI: e.rsi.Value(),
		ATR: e.atr.Value(),
	}
	if fast := e.macd.Fast(); fast.Ready() {
		ti.EMA12 = fast.Value()
		ti.Ready |= model.ReadyEMA12
	}
	if slow := e.macd.Slow(); slow.Ready() {
		ti.EMA26 = slow.Value()
		ti.Ready |= model.ReadyEMA26
	}
	if e.macd.Ready() {
		ti.MACD = e.macd.Result()
		ti.Ready |= model.ReadyMACD
	} else if ti.Ready.Has(model.ReadyEMA26) {
		ti.MACD.Line = e.macd.Value()
	}
	if e.bb.Ready() {
		ti.Bollinger = e.bb.Bands()
		ti.Ready |= model.ReadyBollinger
	}
	if e.vol.Ready() {
		ti.VolumeMA = e.vol.Value()
		ti.Ready |= model.ReadyVolumeMA
	}
	return ti, nil
}

// Compute replays candles through a fresh engine. Compute(candles[:n]) is
// the snapshot as of the n-th candle.
func Compute(candles []model.Candle) (model.TechnicalIndicators, error) {
	if len(candles) < MinCandles {
		return model.TechnicalIndicators{}, fmt.Errorf("%w: have %d candles, need %d", ErrInsufficientData, len(candles), MinCandles)
	}
	e := NewEngine()
	for _, c := range candles {
		e.Process(c)
	}
	return e.Snapshot()
}
