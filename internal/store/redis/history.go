package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"marketengine/internal/model"
)

// History reads back what the bridge wrote: the known symbols and their
// recent candles. It is used to warm a fresh store.
type History struct {
	client *goredis.Client
	keys   Keys
}

// NewHistory reads with client using the bridge key layout for prefix.
func NewHistory(client *goredis.Client, prefix string) *History {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &History{client: client, keys: Keys{Prefix: prefix}}
}

// Symbols returns every symbol the bridge has written, sorted.
func (h *History) Symbols(ctx context.Context) ([]string, error) {
	members, err := h.client.SMembers(ctx, h.keys.Symbols()).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: smembers %s: %w", h.keys.Symbols(), err)
	}
	sort.Strings(members)
	return members, nil
}

// Candles returns up to n of symbol's most recent candles, oldest first.
func (h *History) Candles(ctx context.Context, symbol string, n int64) ([]model.Candle, error) {
	stream := h.keys.CandleStream(symbol)
	msgs, err := h.client.XRevRangeN(ctx, stream, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: xrevrange %s: %w", stream, err)
	}
	return decodeCandles(symbol, msgs), nil
}

// decodeCandles turns newest-first stream entries into an oldest-first,
// strictly time-increasing candle slice. Malformed or duplicate entries are
// skipped.
func decodeCandles(symbol string, msgs []goredis.XMessage) []model.Candle {
	out := make([]model.Candle, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		data, ok := msgs[i].Values["data"].(string)
		if !ok {
			continue
		}
		var sc model.SymbolCandle
		if err := json.Unmarshal([]byte(data), &sc); err != nil {
			zap.L().Debug("redis: skip malformed candle entry",
				zap.String("symbol", symbol), zap.String("id", msgs[i].ID), zap.Error(err))
			continue
		}
		if n := len(out); n > 0 && !sc.Time.After(out[n-1].Time) {
			continue
		}
		out = append(out, sc.Candle)
	}
	return out
}
