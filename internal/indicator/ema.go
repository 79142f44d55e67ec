package indicator

import "marketengine/internal/model"

// EMA is an exponential moving average seeded with the simple average of
// its first period inputs. Each update after the seed is O(1).
type EMA struct {
	period int
	k      float64 // smoothing factor 2/(period+1)
	seen   int
	seed   float64 // running sum until seeded
	value  float64
}

// NewEMA creates an EMA over period inputs.
func NewEMA(period int) *EMA {
	return &EMA{period: period, k: 2 / float64(period+1)}
}

func (e *EMA) Name() string { return "EMA" }

func (e *EMA) Update(candle model.Candle) { e.Add(candle.Close) }

// Add feeds a raw value. MACD uses it to smooth its own line series.
func (e *EMA) Add(v float64) {
	e.seen++
	switch {
	case e.seen < e.period:
		e.seed += v
	case e.seen == e.period:
		e.value = (e.seed + v) / float64(e.period)
	default:
		e.value += e.k * (v - e.value)
	}
}

func (e *EMA) Value() float64 { return e.value }
func (e *EMA) Ready() bool    { return e.seen >= e.period }
