package alert

import (
	"testing"
	"time"

	"marketengine/internal/model"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func readyIndicators() model.TechnicalIndicators {
	return model.TechnicalIndicators{
		RSI:       50,
		ATR:       1,
		Bollinger: model.BollingerBands{Upper: 110, Middle: 100, Lower: 90},
		VolumeMA:  1000,
		Ready:     model.ReadyBollinger | model.ReadyVolumeMA,
	}
}

func makeCandle(closePrice, volume float64) model.Candle {
	return model.Candle{
		Time: time.Now(), Open: closePrice, High: closePrice + 1, Low: closePrice - 1, Close: closePrice, Volume: volume,
	}
}

func types(alerts []model.Alert) []model.AlertType {
	out := make([]model.AlertType, len(alerts))
	for i, a := range alerts {
		out[i] = a.Type
	}
	return out
}

func has(alerts []model.Alert, t model.AlertType) bool {
	for _, a := range alerts {
		if a.Type == t {
			return true
		}
	}
	return false
}

func TestEvaluate_BreakoutWithVolumeSpike(t *testing.T) {
	e := NewEngine(Config{Cooldown: 10 * time.Second})
	got := e.Evaluate("BTCUSDT", makeCandle(115, 3500), readyIndicators(), nil)

	want := []model.AlertType{model.AlertBreakout, model.AlertVolumeSpike}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, types(got))
	}
	for i := range want {
		if got[i].Type != want[i] {
			t.Fatalf("expected %v, got %v", want, types(got))
		}
	}
	if got[0].Severity != model.SeverityHigh || got[1].Severity != model.SeverityMedium {
		t.Fatalf("unexpected severities: %s, %s", got[0].Severity, got[1].Severity)
	}
	if got[0].Volume == nil || *got[0].Volume != 3500 {
		t.Fatalf("expected breakout to carry volume 3500, got %v", got[0].Volume)
	}
	if got[0].ID == "" || got[0].ID == got[1].ID {
		t.Fatalf("expected distinct non-empty ids, got %q and %q", got[0].ID, got[1].ID)
	}
	if got[0].Indicators.Bollinger.Upper != 110 {
		t.Fatal("expected alert to carry the triggering indicator snapshot")
	}
}

func TestEvaluate_Breakdown(t *testing.T) {
	e := NewEngine(Config{})
	got := e.Evaluate("ETHUSDT", makeCandle(85, 1600), readyIndicators(), nil)
	if len(got) != 1 || got[0].Type != model.AlertBreakdown {
		t.Fatalf("expected single breakdown, got %v", types(got))
	}
}

func TestEvaluate_BreakoutNeedsVolume(t *testing.T) {
	e := NewEngine(Config{})
	got := e.Evaluate("BTCUSDT", makeCandle(115, 1000), readyIndicators(), nil)
	if len(got) != 0 {
		t.Fatalf("expected no alerts on flat volume, got %v", types(got))
	}
}

func TestEvaluate_SkipsUnreadySeries(t *testing.T) {
	e := NewEngine(Config{})
	ind := readyIndicators()
	ind.Ready = 0
	got := e.Evaluate("BTCUSDT", makeCandle(115, 9000), ind, nil)
	if len(got) != 0 {
		t.Fatalf("expected no band/volume alerts before readiness, got %v", types(got))
	}
}

func TestEvaluate_RSIEdgeGuard(t *testing.T) {
	e := NewEngine(Config{})
	hot := readyIndicators()
	hot.RSI = 85

	prior := readyIndicators()
	prior.RSI = 82
	if got := e.Evaluate("A", makeCandle(100, 1000), hot, &prior); has(got, model.AlertRSIOverbought) {
		t.Fatal("overbought must not fire when prior RSI was already above 80")
	}

	prior.RSI = 75
	if got := e.Evaluate("B", makeCandle(100, 1000), hot, &prior); !has(got, model.AlertRSIOverbought) {
		t.Fatal("overbought should fire on crossing 80")
	}

	if got := e.Evaluate("C", makeCandle(100, 1000), hot, nil); !has(got, model.AlertRSIOverbought) {
		t.Fatal("overbought should fire with no prior snapshot")
	}

	cold := readyIndicators()
	cold.RSI = 15
	prior.RSI = 20
	if got := e.Evaluate("D", makeCandle(100, 1000), cold, &prior); !has(got, model.AlertRSIOversold) {
		t.Fatal("oversold should fire when prior RSI was exactly 20")
	}
	prior.RSI = 19
	if got := e.Evaluate("E", makeCandle(100, 1000), cold, &prior); has(got, model.AlertRSIOversold) {
		t.Fatal("oversold must not fire when prior RSI was already below 20")
	}
}

func TestEvaluate_CooldownSuppressesRepeats(t *testing.T) {
	clk := newClock()
	e := NewEngine(Config{Cooldown: 10 * time.Second}, WithClock(clk.Now))
	spike := makeCandle(100, 5000)

	fired := 0
	for i := 0; i < 100; i++ {
		fired += len(e.Evaluate("BTCUSDT", spike, readyIndicators(), nil))
		clk.Advance(50 * time.Millisecond)
	}
	// 100 evaluations over 5s, all inside one cooldown window.
	if fired != 1 {
		t.Fatalf("expected 1 alert inside cooldown window, got %d", fired)
	}
	if s := e.State("BTCUSDT", model.AlertVolumeSpike); s != CoolingDown {
		t.Fatalf("expected cooling_down, got %s", s)
	}

	clk.Advance(5 * time.Second)
	if s := e.State("BTCUSDT", model.AlertVolumeSpike); s != Idle {
		t.Fatalf("expected idle after cooldown, got %s", s)
	}
	got := e.Evaluate("BTCUSDT", spike, readyIndicators(), nil)
	if len(got) != 1 {
		t.Fatalf("expected re-fire after cooldown, got %v", types(got))
	}
	if s := e.State("BTCUSDT", model.AlertVolumeSpike); s != Triggered {
		t.Fatalf("expected triggered at fire instant, got %s", s)
	}

	// Other symbols are independent.
	if got := e.Evaluate("ETHUSDT", spike, readyIndicators(), nil); len(got) != 1 {
		t.Fatalf("expected ETHUSDT to fire independently, got %v", types(got))
	}
}

func TestEvaluate_CooldownByType(t *testing.T) {
	clk := newClock()
	e := NewEngine(Config{
		Cooldown:       10 * time.Second,
		CooldownByType: map[model.AlertType]time.Duration{model.AlertVolumeSpike: time.Second},
	}, WithClock(clk.Now))
	spike := makeCandle(100, 5000)

	e.Evaluate("BTCUSDT", spike, readyIndicators(), nil)
	clk.Advance(1500 * time.Millisecond)
	if got := e.Evaluate("BTCUSDT", spike, readyIndicators(), nil); len(got) != 1 {
		t.Fatalf("expected per-type cooldown of 1s to have elapsed, got %v", types(got))
	}
}

func TestEvaluate_PriceMove(t *testing.T) {
	e := NewEngine(Config{})
	ind := readyIndicators()
	ind.Ready = 0

	if got := e.Evaluate("SOLUSDT", makeCandle(100, 1000), ind, nil); len(got) != 0 {
		t.Fatalf("expected no alerts without threshold, got %v", types(got))
	}
	if err := e.SetThreshold("SOLUSDT", 2); err != nil {
		t.Fatalf("SetThreshold: %v", err)
	}
	if got := e.Evaluate("SOLUSDT", makeCandle(101, 1000), ind, nil); len(got) != 0 {
		t.Fatalf("expected no alert on 1%% move, got %v", types(got))
	}
	got := e.Evaluate("SOLUSDT", makeCandle(98, 1000), ind, nil)
	if len(got) != 1 || got[0].Type != model.AlertPriceMove || got[0].Severity != model.SeverityLow {
		t.Fatalf("expected low severity price_move, got %v", types(got))
	}

	if err := e.SetThreshold("SOLUSDT", -1); err == nil {
		t.Fatal("expected error for negative threshold")
	}
	if err := e.SetThreshold("SOLUSDT", 0); err != nil || e.Threshold("SOLUSDT") != 0 {
		t.Fatalf("expected zero to clear threshold, err=%v", err)
	}
}
