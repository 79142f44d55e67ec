package market

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"marketengine/internal/alert"
	"marketengine/internal/model"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, cfg Config) (*Store, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: t0}
	s, err := New(cfg, WithClock(clk.Now))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, clk
}

func candleAt(i int, closePrice, volume float64) model.Candle {
	return model.Candle{
		Time:   t0.Add(time.Duration(i) * time.Minute),
		Open:   closePrice,
		High:   closePrice + 1,
		Low:    closePrice - 1,
		Close:  closePrice,
		Volume: volume,
	}
}

func mustAdd(t *testing.T, s *Store, symbol string, c model.Candle) {
	t.Helper()
	if err := s.AddCandle(symbol, c); err != nil {
		t.Fatalf("AddCandle(%s, %s): %v", symbol, c.Time.Format(time.RFC3339), err)
	}
}

func alertsOfType(as []model.Alert, typ model.AlertType) []model.Alert {
	var out []model.Alert
	for _, a := range as {
		if a.Type == typ {
			out = append(out, a)
		}
	}
	return out
}

func TestNew_AppliesDefaults(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	cfg := s.Config()
	if cfg.MaxCandles != 1000 || cfg.MaxAlerts != 50 || cfg.MaxReconnectAttempts != 5 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.AlertRetention != 5*time.Minute || cfg.AlertCooldown != 10*time.Second {
		t.Fatalf("duration defaults not applied: %+v", cfg)
	}
	if len(cfg.ReconnectIntervals) != len(DefaultReconnectIntervals) {
		t.Fatalf("expected default reconnect intervals, got %v", cfg.ReconnectIntervals)
	}
}

func TestNew_RejectsUnknownCooldownType(t *testing.T) {
	_, err := New(Config{CooldownByType: map[model.AlertType]time.Duration{"nope": time.Second}})
	if err == nil {
		t.Fatal("expected error for unknown alert type")
	}
}

func TestAddCandle_BoundsHistory(t *testing.T) {
	s, _ := newTestStore(t, Config{MaxCandles: 5})
	for i := 0; i < 8; i++ {
		mustAdd(t, s, "BTCUSDT", candleAt(i, 100+float64(i), 1000))
	}
	data, ok := s.SymbolData("BTCUSDT")
	if !ok {
		t.Fatal("symbol missing")
	}
	if len(data.Candles) != 5 {
		t.Fatalf("expected 5 candles, got %d", len(data.Candles))
	}
	if !data.Candles[0].Time.Equal(t0.Add(3 * time.Minute)) {
		t.Fatalf("oldest kept candle = %s, want index 3", data.Candles[0].Time)
	}
	if data.Candles[4].Close != 107 {
		t.Fatalf("newest close = %v, want 107", data.Candles[4].Close)
	}
}

func TestAddCandle_RejectsOutOfOrder(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	mustAdd(t, s, "ETHUSDT", candleAt(1, 100, 10))
	mustAdd(t, s, "ETHUSDT", candleAt(2, 101, 10))

	for _, c := range []model.Candle{candleAt(1, 102, 10), candleAt(2, 102, 10)} {
		if err := s.AddCandle("ETHUSDT", c); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation for %s, got %v", c.Time, err)
		}
	}
	data, _ := s.SymbolData("ETHUSDT")
	if len(data.Candles) != 2 || data.Candles[1].Close != 101 {
		t.Fatalf("history mutated by rejected candle: %+v", data.Candles)
	}
}

func TestAddCandle_RejectsMalformed(t *testing.T) {
	s, _ := newTestStore(t, Config{})

	bad := candleAt(0, 100, 10)
	bad.High = 99.5 // below close
	if err := s.AddCandle("SOLUSDT", bad); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for high < close, got %v", err)
	}

	neg := candleAt(0, 100, -1)
	if err := s.AddCandle("SOLUSDT", neg); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for negative volume, got %v", err)
	}

	nan := candleAt(0, 100, 10)
	nan.Close = math.NaN()
	if err := s.AddCandle("SOLUSDT", nan); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for NaN close, got %v", err)
	}

	if err := s.AddCandle("", candleAt(0, 100, 10)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty symbol, got %v", err)
	}

	if syms := s.Symbols(); len(syms) != 0 {
		t.Fatalf("rejected candles created symbols: %v", syms)
	}
}

func TestAddCandle_IndicatorsAfterWarmup(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	for i := 0; i < 14; i++ {
		mustAdd(t, s, "BTCUSDT", candleAt(i, 100+float64(i%3), 1000))
	}
	data, _ := s.SymbolData("BTCUSDT")
	if data.Indicators != nil {
		t.Fatalf("expected no indicators before 15 candles, got %+v", data.Indicators)
	}
	if _, ok := s.TechnicalSummary("BTCUSDT"); ok {
		t.Fatal("summary should be unavailable during warm-up")
	}

	mustAdd(t, s, "BTCUSDT", candleAt(14, 101, 1000))
	data, _ = s.SymbolData("BTCUSDT")
	if data.Indicators == nil {
		t.Fatal("expected indicators at 15 candles")
	}
	if data.Indicators.RSI < 0 || data.Indicators.RSI > 100 {
		t.Fatalf("RSI out of range: %v", data.Indicators.RSI)
	}
}

func TestAddCandle_RisingThenBreakout(t *testing.T) {
	s, _ := newTestStore(t, Config{})

	var mu sync.Mutex
	var fired []model.Alert
	unsub := s.AlertsTriggered.Subscribe(func(a model.Alert) {
		mu.Lock()
		fired = append(fired, a)
		mu.Unlock()
	})
	defer unsub()

	// Closes compound 1% per candle on flat volume.
	for i := 0; i < 25; i++ {
		mustAdd(t, s, "BTCUSDT", candleAt(i, 100*math.Pow(1.01, float64(i)), 1e6))
	}
	active := s.ActiveAlerts()
	if n := len(alertsOfType(active, model.AlertBreakout)); n != 0 {
		t.Fatalf("expected no breakout on steady rise, got %d", n)
	}
	if n := len(alertsOfType(active, model.AlertVolumeSpike)); n != 0 {
		t.Fatalf("expected no volume spike on flat volume, got %d", n)
	}
	if n := len(alertsOfType(active, model.AlertRSIOverbought)); n != 1 {
		t.Fatalf("expected one rsi_overbought alert, got %d", n)
	}

	// +10% on double volume clears the upper band and 1.5x volume MA but
	// stays under the 3x spike level.
	mustAdd(t, s, "BTCUSDT", candleAt(25, 100*math.Pow(1.01, 24)*1.10, 2e6))

	active = s.ActiveAlerts()
	breakouts := alertsOfType(active, model.AlertBreakout)
	if len(breakouts) != 1 {
		t.Fatalf("expected one breakout, got %d: %+v", len(breakouts), active)
	}
	b := breakouts[0]
	if b.Severity != model.SeverityHigh || b.Symbol != "BTCUSDT" || b.ID == "" {
		t.Fatalf("unexpected breakout alert: %+v", b)
	}
	if b.Volume == nil || *b.Volume != 2e6 {
		t.Fatalf("breakout should carry candle volume, got %v", b.Volume)
	}
	if !b.Timestamp.Equal(t0) {
		t.Fatalf("alert timestamp = %s, want store clock %s", b.Timestamp, t0)
	}
	if len(alertsOfType(active, model.AlertVolumeSpike)) != 0 {
		t.Fatal("2x volume must not count as a spike")
	}
	if active[0].Type != model.AlertBreakout {
		t.Fatalf("expected newest alert first, got %s", active[0].Type)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 2 {
		t.Fatalf("expected 2 published alerts, got %d", len(fired))
	}
}

func TestAddCandle_PriceMoveCooldown(t *testing.T) {
	s, clk := newTestStore(t, Config{AlertCooldown: 10 * time.Second})
	if err := s.SetAlertThreshold("ETHUSDT", 1); err != nil {
		t.Fatalf("SetAlertThreshold: %v", err)
	}
	if err := s.SetAlertThreshold("ETHUSDT", -1); !errors.Is(err, alert.ErrInvalidThreshold) {
		t.Fatalf("expected ErrInvalidThreshold, got %v", err)
	}
	if got := s.AlertThreshold("ETHUSDT"); got != 1 {
		t.Fatalf("threshold = %v, want 1", got)
	}

	for i := 0; i < 15; i++ {
		mustAdd(t, s, "ETHUSDT", candleAt(i, 100, 1000))
	}
	moves := func() int { return len(alertsOfType(s.ActiveAlerts(), model.AlertPriceMove)) }
	if moves() != 0 {
		t.Fatal("flat history should not trigger price_move")
	}

	mustAdd(t, s, "ETHUSDT", candleAt(15, 102, 1000))
	if moves() != 1 {
		t.Fatalf("expected price_move after +2%%, got %d", moves())
	}

	mustAdd(t, s, "ETHUSDT", candleAt(16, 104, 1000))
	if moves() != 1 {
		t.Fatalf("price_move should be suppressed during cooldown, got %d", moves())
	}

	clk.Advance(11 * time.Second)
	mustAdd(t, s, "ETHUSDT", candleAt(17, 106, 1000))
	if moves() != 2 {
		t.Fatalf("expected price_move after cooldown, got %d", moves())
	}
}

func TestAlerts_DismissAndRead(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	for i := 0; i < 15; i++ {
		mustAdd(t, s, "BTCUSDT", candleAt(i, 100+float64(i), 1000))
	}
	active := s.AlertsBySymbol("BTCUSDT")
	if len(active) == 0 {
		t.Fatal("expected an alert on a straight rise")
	}
	id := active[0].ID

	if err := s.MarkAlertAsRead(id); err != nil {
		t.Fatalf("MarkAlertAsRead: %v", err)
	}
	if !s.AlertsBySymbol("BTCUSDT")[0].IsRead {
		t.Fatal("alert not marked read")
	}
	if err := s.DismissAlert(id); err != nil {
		t.Fatalf("DismissAlert: %v", err)
	}
	for _, a := range s.ActiveAlerts() {
		if a.ID == id {
			t.Fatal("dismissed alert still active")
		}
	}
	if err := s.DismissAlert("missing"); !errors.Is(err, alert.ErrAlertNotFound) {
		t.Fatalf("expected ErrAlertNotFound, got %v", err)
	}
}

func TestAlerts_ExpireAfterRetention(t *testing.T) {
	s, clk := newTestStore(t, Config{AlertRetention: time.Minute})
	for i := 0; i < 15; i++ {
		mustAdd(t, s, "BTCUSDT", candleAt(i, 100+float64(i), 1000))
	}
	if len(s.ActiveAlerts()) == 0 {
		t.Fatal("expected active alert")
	}
	clk.Advance(2 * time.Minute)
	if n := len(s.ActiveAlerts()); n != 0 {
		t.Fatalf("expected alerts to expire, got %d", n)
	}
}

func TestSummarize(t *testing.T) {
	all := model.ReadyEMA12 | model.ReadyEMA26 | model.ReadyMACD | model.ReadyBollinger | model.ReadyVolumeMA

	tests := []struct {
		name     string
		ind      model.TechnicalIndicators
		trend    model.Trend
		strength int
		signals  []string
	}{
		{
			name: "overbought but trending up",
			ind: model.TechnicalIndicators{
				RSI: 85, EMA12: 105, EMA26: 100,
				MACD:  model.MACD{Line: 2, Signal: 1},
				Ready: all,
			},
			trend:    model.Bullish,
			strength: 67,
			signals:  []string{SignalRSIOverbought, SignalMACDBullish, SignalEMAUptrend},
		},
		{
			name:     "no readings",
			ind:      model.TechnicalIndicators{RSI: 50},
			trend:    model.Neutral,
			strength: 50,
			signals:  []string{},
		},
		{
			name: "tie",
			ind: model.TechnicalIndicators{
				RSI: 25, EMA12: 99, EMA26: 100,
				Ready: model.ReadyEMA12 | model.ReadyEMA26,
			},
			trend:    model.Neutral,
			strength: 50,
			signals:  []string{SignalRSIOversold, SignalEMADowntrend},
		},
		{
			name: "all bearish",
			ind: model.TechnicalIndicators{
				RSI: 75, EMA12: 90, EMA26: 100,
				MACD:  model.MACD{Line: -2, Signal: -1},
				Ready: all,
			},
			trend:    model.Bearish,
			strength: 0,
			signals:  []string{SignalRSIOverbought, SignalMACDBearish, SignalEMADowntrend},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summarize(tt.ind)
			if got.Trend != tt.trend || got.Strength != tt.strength {
				t.Fatalf("got trend=%s strength=%d, want %s/%d", got.Trend, got.Strength, tt.trend, tt.strength)
			}
			if len(got.Signals) != len(tt.signals) {
				t.Fatalf("signals = %v, want %v", got.Signals, tt.signals)
			}
			for i := range tt.signals {
				if got.Signals[i] != tt.signals[i] {
					t.Fatalf("signals = %v, want %v", got.Signals, tt.signals)
				}
			}
		})
	}
}

func TestMarketOverview(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	mustAdd(t, s, "ETHUSDT", candleAt(0, 200, 5))
	mustAdd(t, s, "ETHUSDT", candleAt(1, 210, 7))
	mustAdd(t, s, "BTCUSDT", candleAt(0, 100, 1))

	rows := s.MarketOverview()
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Symbol != "BTCUSDT" || rows[1].Symbol != "ETHUSDT" {
		t.Fatalf("rows not sorted: %s, %s", rows[0].Symbol, rows[1].Symbol)
	}
	eth := rows[1]
	if eth.Price != 210 || eth.Volume != 7 || math.Abs(eth.Change-5) > 1e-9 {
		t.Fatalf("unexpected ETH row: %+v", eth)
	}
	if eth.RSI != nil {
		t.Fatal("RSI should be absent during warm-up")
	}
	if rows[0].Change != 0 {
		t.Fatalf("single candle change = %v, want 0", rows[0].Change)
	}
}

func TestSetCandles(t *testing.T) {
	s, _ := newTestStore(t, Config{MaxCandles: 20})

	var updates []PriceUpdate
	unsub := s.PriceUpdates.Subscribe(func(u PriceUpdate) { updates = append(updates, u) })
	defer unsub()

	bad := []model.Candle{candleAt(1, 100, 1), candleAt(1, 101, 1)}
	if err := s.SetCandles("BTCUSDT", bad); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for duplicate times, got %v", err)
	}
	if _, ok := s.SymbolData("BTCUSDT"); ok {
		t.Fatal("failed SetCandles must not create the symbol")
	}

	history := make([]model.Candle, 30)
	for i := range history {
		history[i] = candleAt(i, 100+float64(i), 1000)
	}
	if err := s.SetCandles("BTCUSDT", history); err != nil {
		t.Fatalf("SetCandles: %v", err)
	}
	data, _ := s.SymbolData("BTCUSDT")
	if len(data.Candles) != 20 || data.Candles[0].Close != 110 {
		t.Fatalf("expected newest 20 candles, got %d starting at %v", len(data.Candles), data.Candles[0].Close)
	}
	if data.Indicators == nil {
		t.Fatal("expected indicators after SetCandles")
	}
	if len(updates) != 1 || updates[0].Price != 129 {
		t.Fatalf("expected one price update at 129, got %+v", updates)
	}

	if err := s.AddCandle("BTCUSDT", candleAt(29, 130, 1)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation appending at last time, got %v", err)
	}
	mustAdd(t, s, "BTCUSDT", candleAt(30, 130, 1000))
}

func TestEvents_PriceUpdatesAndUnsubscribe(t *testing.T) {
	s, _ := newTestStore(t, Config{})

	var updates []PriceUpdate
	var completes []CandleComplete
	unsubPrice := s.PriceUpdates.Subscribe(func(u PriceUpdate) { updates = append(updates, u) })
	unsubComplete := s.CandleCompletes.Subscribe(func(c CandleComplete) { completes = append(completes, c) })
	defer unsubComplete()

	mustAdd(t, s, "SOLUSDT", candleAt(0, 50, 1))
	mustAdd(t, s, "SOLUSDT", candleAt(1, 55, 1))

	if len(updates) != 2 {
		t.Fatalf("expected 2 price updates, got %d", len(updates))
	}
	if updates[1].Change != 5 || math.Abs(updates[1].ChangePercent-10) > 1e-9 {
		t.Fatalf("unexpected change: %+v", updates[1])
	}
	if len(completes) != 2 || completes[1].Indicators != nil {
		t.Fatalf("unexpected candle completes: %+v", completes)
	}

	unsubPrice()
	unsubPrice()
	mustAdd(t, s, "SOLUSDT", candleAt(2, 56, 1))
	if len(updates) != 2 {
		t.Fatalf("received update after unsubscribe: %d", len(updates))
	}
	if len(completes) != 3 {
		t.Fatalf("other subscriptions should still receive, got %d", len(completes))
	}
}

func TestAddCandle_ConcurrentWritersPublishInOrder(t *testing.T) {
	s, _ := newTestStore(t, Config{MaxCandles: 50})

	var (
		mu       sync.Mutex
		last     time.Time
		disorder int
		stale    int
		got      int
	)
	unsub := s.CandleCompletes.Subscribe(func(cc CandleComplete) {
		// Reading state from inside delivery must not block, and must see
		// the candle being announced as the newest one.
		data, _ := s.SymbolData(cc.Symbol)
		newest := data.Candles[len(data.Candles)-1].Time

		mu.Lock()
		defer mu.Unlock()
		got++
		if !cc.Candle.Time.After(last) {
			disorder++
		}
		if !newest.Equal(cc.Candle.Time) {
			stale++
		}
		last = cc.Candle.Time
	})
	defer unsub()

	var next atomic.Int64
	var accepted atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				i := int(next.Add(1))
				if s.AddCandle("BTCUSDT", candleAt(i, 100+float64(i%7), 1000)) == nil {
					accepted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if int64(got) != accepted.Load() {
		t.Fatalf("delivered %d events for %d accepted candles", got, accepted.Load())
	}
	if disorder != 0 {
		t.Fatalf("%d candle events delivered out of time order", disorder)
	}
	if stale != 0 {
		t.Fatalf("%d events observed state from a later write", stale)
	}
}

type countingObserver struct {
	nopObserver
	mu       sync.Mutex
	evicted  int
	rejected map[string]int
}

func (o *countingObserver) CandleEvicted(string) {
	o.mu.Lock()
	o.evicted++
	o.mu.Unlock()
}

func (o *countingObserver) CandleRejected(_, reason string) {
	o.mu.Lock()
	o.rejected[reason]++
	o.mu.Unlock()
}

func TestAddCandle_ReportsEvictionsAndRejectReasons(t *testing.T) {
	obs := &countingObserver{rejected: map[string]int{}}
	s, err := New(Config{MaxCandles: 2}, WithObserver(obs))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 4; i++ {
		mustAdd(t, s, "ETHUSDT", candleAt(i, 100, 1))
	}
	_ = s.AddCandle("ETHUSDT", candleAt(1, 100, 1))
	bad := candleAt(9, 100, 1)
	bad.High = 50
	_ = s.AddCandle("ETHUSDT", bad)
	_ = s.AddCandle("", candleAt(10, 100, 1))

	if obs.evicted != 2 {
		t.Errorf("evicted = %d, want 2", obs.evicted)
	}
	if obs.rejected[RejectOutOfOrder] != 1 || obs.rejected[RejectInvalid] != 2 {
		t.Errorf("rejections = %v, want 1 out_of_order and 2 invalid", obs.rejected)
	}
}
