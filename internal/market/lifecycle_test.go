package market

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"marketengine/internal/feed"
	"marketengine/internal/model"
)

func TestConnect_WithoutSource(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	if err := s.Connect(context.Background()); !errors.Is(err, ErrNoSource) {
		t.Fatalf("expected ErrNoSource, got %v", err)
	}
	s.Disconnect()
	if got := s.ConnectionStatus(); got != model.StatusDisconnected {
		t.Fatalf("status = %s, want disconnected", got)
	}
}

func TestConnect_StreamsFromSimulator(t *testing.T) {
	src := feed.NewSimSource(feed.SimConfig{Interval: 2 * time.Millisecond, Seed: 7})
	s, err := New(Config{AnalysisInterval: 5 * time.Millisecond}, WithSource(src))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var mu sync.Mutex
	var events, statuses int
	connected := make(chan struct{}, 1)
	s.PriceUpdates.Subscribe(func(PriceUpdate) {
		mu.Lock()
		events++
		mu.Unlock()
	})
	s.ConnectionEvents.Subscribe(func(e ConnectionEvent) {
		mu.Lock()
		statuses++
		mu.Unlock()
		if e.Status == model.StatusConnected {
			select {
			case connected <- struct{}{}:
			default:
			}
		}
	})

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("never connected")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if len(s.Symbols()) == len(feed.DefaultInstruments) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected candles for every instrument, got %v", s.Symbols())
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Disconnect()
	s.Disconnect()
	if got := s.ConnectionStatus(); got != model.StatusDisconnected {
		t.Fatalf("status after Disconnect = %s", got)
	}

	mu.Lock()
	seenEvents, seenStatuses := events, statuses
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if events != seenEvents || statuses != seenStatuses {
		t.Fatalf("events after Disconnect: price %d->%d, status %d->%d", seenEvents, events, seenStatuses, statuses)
	}
}

func TestRunAnalysis(t *testing.T) {
	s, _ := newTestStore(t, Config{})

	// Up 30, down 40, up 30: one swing high and one swing low.
	history := make([]model.Candle, 0, 100)
	price := 100.0
	for i := 0; i < 100; i++ {
		switch {
		case i == 0:
		case i < 30:
			price++
		case i < 70:
			price--
		default:
			price++
		}
		history = append(history, candleAt(i, price, 1000))
	}
	if err := s.SetCandles("BTCUSDT", history); err != nil {
		t.Fatalf("SetCandles: %v", err)
	}
	for i := 0; i < 20; i++ {
		mustAdd(t, s, "ETHUSDT", candleAt(i, 50, 10))
	}

	var published []model.AlphaSignal
	s.SignalsGenerated.Subscribe(func(sig model.AlphaSignal) { published = append(published, sig) })

	sigs := s.RunAnalysis()

	st, ok := s.Structure("BTCUSDT")
	if !ok {
		t.Fatal("expected structure for BTCUSDT")
	}
	if len(st.BreakoutLevels) != 2 {
		t.Fatalf("expected 2 break levels, got %+v", st.BreakoutLevels)
	}
	if len(st.VolumeProfile) == 0 || len(st.LiquidityLevels) == 0 {
		t.Fatalf("expected profile and liquidity levels, got %+v", st)
	}
	if _, ok := s.Structure("ETHUSDT"); ok {
		t.Fatal("ETHUSDT has too little history for analysis")
	}
	if len(published) != len(sigs) || len(s.Signals()) != len(sigs) {
		t.Fatalf("signals: returned %d, published %d, logged %d", len(sigs), len(published), len(s.Signals()))
	}
	for _, sig := range sigs {
		if sig.Symbol != "BTCUSDT" {
			t.Fatalf("unexpected signal symbol %s", sig.Symbol)
		}
	}
}

type refusingSource struct{}

func (refusingSource) Open(context.Context) (feed.Stream, error) {
	return nil, errors.New("connection refused")
}

type reconnectObserver struct {
	nopObserver
	mu     sync.Mutex
	delays []time.Duration
}

func (o *reconnectObserver) ReconnectScheduled(_ int, d time.Duration) {
	o.mu.Lock()
	o.delays = append(o.delays, d)
	o.mu.Unlock()
}

func TestConnect_ReportsScheduledReconnects(t *testing.T) {
	obs := &reconnectObserver{}
	s, err := New(Config{
		ReconnectIntervals:   []time.Duration{time.Millisecond, 2 * time.Millisecond},
		MaxReconnectAttempts: 2,
	}, WithSource(refusingSource{}), WithObserver(obs))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	failed := make(chan struct{})
	var once sync.Once
	s.ConnectionEvents.Subscribe(func(e ConnectionEvent) {
		if e.Status == model.StatusFailed {
			once.Do(func() { close(failed) })
		}
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Disconnect()

	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("feed never gave up")
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.delays) != 2 || obs.delays[0] != time.Millisecond || obs.delays[1] != 2*time.Millisecond {
		t.Fatalf("scheduled reconnects = %v, want [1ms 2ms]", obs.delays)
	}
}
