package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrValidation is returned for malformed or out-of-order candle input.
var ErrValidation = errors.New("validation error")

// Candle is one OHLCV bar for a single symbol at one sampling interval.
// Once appended to the store it is never mutated.
type Candle struct {
	Time   time.Time `json:"time" validate:"required"`
	Open   float64   `json:"open" validate:"gte=0"`
	High   float64   `json:"high" validate:"gte=0"`
	Low    float64   `json:"low" validate:"gte=0"`
	Close  float64   `json:"close" validate:"gte=0"`
	Volume float64   `json:"volume" validate:"gte=0"`
}

// CheckOHLC verifies low <= min(open,close) <= max(open,close) <= high and
// that every field is a finite number.
func (c Candle) CheckOHLC() error {
	for _, v := range [...]float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value in candle at %s", ErrValidation, c.Time.Format(time.RFC3339))
		}
	}
	lo := math.Min(c.Open, c.Close)
	hi := math.Max(c.Open, c.Close)
	if c.Low > lo || hi > c.High {
		return fmt.Errorf("%w: ohlc out of order (o=%g h=%g l=%g c=%g)", ErrValidation, c.Open, c.High, c.Low, c.Close)
	}
	return nil
}

// Bullish reports whether the candle closed above its open.
func (c Candle) Bullish() bool { return c.Close > c.Open }

// SymbolCandle is the unit produced by a tick source: a completed candle
// tagged with its symbol.
type SymbolCandle struct {
	Symbol string `json:"symbol"`
	Candle
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *SymbolCandle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
