package feed

import (
	"math"
	"math/rand"
	"time"

	"marketengine/internal/model"
)

// Instrument seeds one simulated symbol.
type Instrument struct {
	Symbol     string  `mapstructure:"symbol" json:"symbol"`
	Price      float64 `mapstructure:"price" json:"price"`
	Volatility float64 `mapstructure:"volatility" json:"volatility"` // per-candle stddev of returns, e.g. 0.002
	Volume     float64 `mapstructure:"volume" json:"volume"`         // typical candle volume
}

// DefaultInstruments is used when no instruments are configured.
var DefaultInstruments = []Instrument{
	{Symbol: "BTCUSDT", Price: 43250, Volatility: 0.002, Volume: 1_200_000},
	{Symbol: "ETHUSDT", Price: 2280, Volatility: 0.0025, Volume: 900_000},
	{Symbol: "SOLUSDT", Price: 98.5, Volatility: 0.004, Volume: 600_000},
}

// volatility regime bounds, as multiples of the instrument's base volatility
const (
	minVolRegime  = 0.3
	maxVolRegime  = 4.0
	volReversion  = 0.9
	volShock      = 0.15
	spikeChance   = 0.02
	spikeMultiple = 4.0
)

// Walker generates candles for one symbol with a mean-reverting stochastic
// volatility and volume that scales with the size of the move. It is not
// safe for concurrent use.
type Walker struct {
	inst  Instrument
	rng   *rand.Rand
	price float64
	vol   float64
	last  time.Time
}

// NewWalker creates a walker. Zero fields fall back to sane defaults.
func NewWalker(inst Instrument, seed int64) *Walker {
	if inst.Price <= 0 {
		inst.Price = 100
	}
	if inst.Volatility <= 0 {
		inst.Volatility = 0.002
	}
	if inst.Volume <= 0 {
		inst.Volume = 1_000_000
	}
	return &Walker{
		inst:  inst,
		rng:   rand.New(rand.NewSource(seed)),
		price: inst.Price,
		vol:   inst.Volatility,
	}
}

// Symbol returns the walker's symbol.
func (w *Walker) Symbol() string { return w.inst.Symbol }

// Next produces the candle closing at t. Times are forced strictly
// increasing.
func (w *Walker) Next(t time.Time) model.SymbolCandle {
	if !t.After(w.last) {
		t = w.last.Add(time.Millisecond)
	}
	w.last = t

	base := w.inst.Volatility
	w.vol = base + volReversion*(w.vol-base) + volShock*base*w.rng.NormFloat64()
	w.vol = math.Min(math.Max(w.vol, minVolRegime*base), maxVolRegime*base)

	ret := w.vol * w.rng.NormFloat64()
	open := w.price
	closePrice := math.Max(open*(1+ret), 0.01)
	wick := w.vol * math.Abs(w.rng.NormFloat64()) / 2
	high := math.Max(open, closePrice) * (1 + wick)
	low := math.Min(open, closePrice) * (1 - wick)

	volume := w.inst.Volume * (0.5 + w.rng.Float64()) * (1 + math.Abs(ret)/base)
	if w.rng.Float64() < spikeChance {
		volume *= spikeMultiple
	}
	w.price = closePrice

	return model.SymbolCandle{
		Symbol: w.inst.Symbol,
		Candle: model.Candle{
			Time:   t,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: math.Round(volume),
		},
	}
}
