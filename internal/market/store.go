// Package market is the aggregation point of the engine: per-symbol candle
// history, indicator snapshots, alert evaluation, structure analysis, and
// the typed event topics and queries consumers use.
package market

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"marketengine/internal/alert"
	"marketengine/internal/analysis"
	"marketengine/internal/bus"
	"marketengine/internal/feed"
	"marketengine/internal/indicator"
	"marketengine/internal/model"
	"marketengine/internal/ringbuf"
)

// ErrValidation is returned, wrapped, for malformed or out-of-order input.
var ErrValidation = model.ErrValidation

var validate = validator.New(validator.WithRequiredStructEnabled())

// symbolState is everything held for one symbol, guarded by its own lock.
// pub is held across a whole write and its publishes, so events for one
// symbol leave in history order. It is taken before mu.
type symbolState struct {
	pub        sync.Mutex
	mu         sync.Mutex
	candles    *ringbuf.Ring
	indicators *model.TechnicalIndicators // nil until enough history
	structure  *model.MarketStructure
	lastUpdate time.Time
}

// Store is the market state service. Create one with New; every instance
// is independent.
type Store struct {
	cfg      Config
	now      func() time.Time
	observer Observer

	mu      sync.RWMutex
	symbols map[string]*symbolState

	rules    *alert.Engine
	alertLog *alert.Log
	analyzer *analysis.Analyzer
	signals  *analysis.SignalLog

	source feed.Source
	feed   *feed.Manager

	life       sync.Mutex
	loopCancel func()
	loopWG     sync.WaitGroup

	PriceUpdates     *bus.Topic[PriceUpdate]
	CandleCompletes  *bus.Topic[CandleComplete]
	AlertsTriggered  *bus.Topic[model.Alert]
	ConnectionEvents *bus.Topic[ConnectionEvent]
	SignalsGenerated *bus.Topic[model.AlphaSignal]
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now for alert timestamps, cooldowns and
// retention.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSource sets the candle source used by Connect.
func WithSource(src feed.Source) Option {
	return func(s *Store) { s.source = src }
}

// WithObserver installs a metrics observer.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// New creates a store. Zero config fields take their defaults.
func New(cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	s := &Store{
		cfg:              cfg,
		now:              time.Now,
		observer:         nopObserver{},
		symbols:          make(map[string]*symbolState),
		PriceUpdates:     bus.NewTopic[PriceUpdate](),
		CandleCompletes:  bus.NewTopic[CandleComplete](),
		AlertsTriggered:  bus.NewTopic[model.Alert](),
		ConnectionEvents: bus.NewTopic[ConnectionEvent](),
		SignalsGenerated: bus.NewTopic[model.AlphaSignal](),
	}
	for _, o := range opts {
		o(s)
	}

	s.rules = alert.NewEngine(alert.Config{
		Cooldown:       cfg.AlertCooldown,
		CooldownByType: cfg.CooldownByType,
	}, alert.WithClock(s.now))
	s.alertLog = alert.NewLog(cfg.MaxAlerts, cfg.AlertRetention, s.now)
	s.analyzer = analysis.NewAnalyzer(s.now)
	s.signals = analysis.NewSignalLog(cfg.MaxSignals)

	if s.source != nil {
		s.feed = feed.NewManager(s.source, feed.Config{
			ReconnectIntervals:   cfg.ReconnectIntervals,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
			HeartbeatInterval:    cfg.HeartbeatInterval,
		}, s.onFeedCandle, s.onFeedStatus)
		s.feed.OnReconnectScheduled = s.observer.ReconnectScheduled
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Store) Config() Config { return s.cfg }

func (s *Store) state(symbol string, create bool) *symbolState {
	s.mu.RLock()
	st := s.symbols[symbol]
	s.mu.RUnlock()
	if st != nil || !create {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st = s.symbols[symbol]; st == nil {
		st = &symbolState{candles: ringbuf.New(s.cfg.MaxCandles)}
		s.symbols[symbol] = st
	}
	return st
}

// checkCandle runs field and OHLC validation.
func checkCandle(c model.Candle) error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return c.CheckOHLC()
}

func (s *Store) reject(symbol, reason string, err error) error {
	s.observer.CandleRejected(symbol, reason)
	zap.L().Warn("market: candle rejected", zap.String("symbol", symbol), zap.Error(err))
	return fmt.Errorf("market: add candle: %w", err)
}

// AddCandle appends a candle to symbol's history, recomputes indicators,
// evaluates alert rules and then publishes the resulting events. Candles
// that are malformed or not strictly newer than the last stored candle are
// rejected with ErrValidation and leave the history untouched.
//
// Writers for one symbol are serialized through event delivery, so a
// subscriber must not call AddCandle for the symbol it is being told about.
func (s *Store) AddCandle(symbol string, c model.Candle) error {
	start := time.Now()
	if symbol == "" {
		return s.reject(symbol, RejectInvalid, fmt.Errorf("%w: empty symbol", ErrValidation))
	}
	if err := checkCandle(c); err != nil {
		return s.reject(symbol, RejectInvalid, err)
	}

	st := s.state(symbol, true)
	st.pub.Lock()
	defer st.pub.Unlock()

	st.mu.Lock()
	prev, hasPrev := st.candles.Last()
	if hasPrev && !c.Time.After(prev.Time) {
		st.mu.Unlock()
		return s.reject(symbol, RejectOutOfOrder, fmt.Errorf("%w: time %s not after last candle %s",
			ErrValidation, c.Time.Format(time.RFC3339Nano), prev.Time.Format(time.RFC3339Nano)))
	}
	evicted := st.candles.Push(c)
	st.lastUpdate = s.now()

	var alerts []model.Alert
	ind, err := indicator.Compute(st.candles.Snapshot())
	switch {
	case err == nil:
		prior := st.indicators
		st.indicators = &ind
		alerts = s.rules.Evaluate(symbol, c, ind, prior)
	case errors.Is(err, indicator.ErrInsufficientData):
		zap.L().Debug("market: warming up", zap.String("symbol", symbol), zap.Int("candles", st.candles.Len()))
	default:
		zap.L().Error("market: indicator compute", zap.String("symbol", symbol), zap.Error(err))
	}
	snapshot := st.indicators
	st.mu.Unlock()

	if len(alerts) > 0 {
		s.alertLog.Add(alerts...)
	}
	if evicted {
		s.observer.CandleEvicted(symbol)
	}
	s.observer.CandleAccepted(symbol, time.Since(start))

	upd := PriceUpdate{Symbol: symbol, Price: c.Close, Volume: c.Volume, Time: c.Time}
	if hasPrev && prev.Close != 0 {
		upd.Change = c.Close - prev.Close
		upd.ChangePercent = upd.Change / prev.Close * 100
	}
	s.PriceUpdates.Publish(upd)
	s.CandleCompletes.Publish(CandleComplete{Symbol: symbol, Candle: c, Indicators: snapshot})
	for _, a := range alerts {
		s.observer.AlertFired(a)
		zap.L().Info("market: alert",
			zap.String("symbol", a.Symbol),
			zap.String("type", string(a.Type)),
			zap.String("severity", string(a.Severity)),
			zap.String("message", a.Message))
		s.AlertsTriggered.Publish(a)
	}
	return nil
}

// SetCandles atomically replaces symbol's history. The whole sequence is
// validated first; only the newest MaxCandles are kept. The replaced
// snapshot becomes the prior for the next AddCandle's RSI edge guards.
func (s *Store) SetCandles(symbol string, candles []model.Candle) error {
	if symbol == "" {
		return fmt.Errorf("market: set candles: %w: empty symbol", ErrValidation)
	}
	for i, c := range candles {
		if err := checkCandle(c); err != nil {
			return fmt.Errorf("market: set candles: candle %d: %w", i, err)
		}
		if i > 0 && !c.Time.After(candles[i-1].Time) {
			return fmt.Errorf("market: set candles: candle %d: %w: times not strictly increasing", i, ErrValidation)
		}
	}
	if over := len(candles) - s.cfg.MaxCandles; over > 0 {
		candles = candles[over:]
	}

	var current *model.TechnicalIndicators
	if ind, err := indicator.Compute(candles); err == nil {
		current = &ind
	}

	st := s.state(symbol, true)
	st.pub.Lock()
	defer st.pub.Unlock()

	st.mu.Lock()
	st.candles.Reset(candles)
	st.indicators = current
	st.structure = nil
	st.lastUpdate = s.now()
	st.mu.Unlock()

	if n := len(candles); n > 0 {
		last := candles[n-1]
		s.rules.SeedClose(symbol, last.Close)
		s.PriceUpdates.Publish(PriceUpdate{Symbol: symbol, Price: last.Close, Volume: last.Volume, Time: last.Time})
	}
	zap.L().Info("market: history replaced", zap.String("symbol", symbol), zap.Int("candles", len(candles)))
	return nil
}

// SymbolData returns a copy of symbol's candles and its latest snapshot.
func (s *Store) SymbolData(symbol string) (SymbolData, bool) {
	st := s.state(symbol, false)
	if st == nil {
		return SymbolData{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return SymbolData{
		Symbol:     symbol,
		Candles:    st.candles.Snapshot(),
		Indicators: copyIndicators(st.indicators),
		LastUpdate: st.lastUpdate,
	}, true
}

func copyIndicators(ti *model.TechnicalIndicators) *model.TechnicalIndicators {
	if ti == nil {
		return nil
	}
	c := *ti
	return &c
}

// Symbols returns every known symbol, sorted.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// ActiveAlerts returns non-dismissed alerts inside the retention window,
// newest first.
func (s *Store) ActiveAlerts() []model.Alert { return s.alertLog.Active() }

// AlertsBySymbol returns symbol's active alerts, newest first.
func (s *Store) AlertsBySymbol(symbol string) []model.Alert { return s.alertLog.BySymbol(symbol) }

// DismissAlert hides an alert. Returns alert.ErrAlertNotFound for unknown IDs.
func (s *Store) DismissAlert(id string) error { return s.alertLog.Dismiss(id) }

// MarkAlertAsRead flags an alert as read.
func (s *Store) MarkAlertAsRead(id string) error { return s.alertLog.MarkRead(id) }

// SetAlertThreshold enables the price_move rule for symbol at pct percent
// change between consecutive closes. Zero disables it.
func (s *Store) SetAlertThreshold(symbol string, pct float64) error {
	if symbol == "" {
		return fmt.Errorf("market: set threshold: %w: empty symbol", ErrValidation)
	}
	if err := s.rules.SetThreshold(symbol, pct); err != nil {
		return fmt.Errorf("market: set threshold: %w", err)
	}
	return nil
}

// MarketOverview returns one row per symbol with at least one candle,
// sorted by symbol.
func (s *Store) MarketOverview() []OverviewEntry {
	out := make([]OverviewEntry, 0)
	for _, sym := range s.Symbols() {
		st := s.state(sym, false)
		st.mu.Lock()
		last, ok := st.candles.Last()
		first, _ := st.candles.First()
		e := OverviewEntry{Symbol: sym, Price: last.Close, Volume: last.Volume, LastUpdate: st.lastUpdate}
		if st.indicators != nil {
			rsi := st.indicators.RSI
			e.RSI = &rsi
		}
		st.mu.Unlock()
		if !ok {
			continue
		}
		if first.Close != 0 {
			e.Change = (last.Close - first.Close) / first.Close * 100
		}
		out = append(out, e)
	}
	return out
}

// Structure returns the latest analysis result for symbol.
func (s *Store) Structure(symbol string) (model.MarketStructure, bool) {
	st := s.state(symbol, false)
	if st == nil {
		return model.MarketStructure{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.structure == nil {
		return model.MarketStructure{}, false
	}
	return *st.structure, true
}

// Signals returns the recent alpha signals, newest first.
func (s *Store) Signals() []model.AlphaSignal { return s.signals.Recent() }

// AlertThreshold returns the price_move threshold for symbol, or 0.
func (s *Store) AlertThreshold(symbol string) float64 { return s.rules.Threshold(symbol) }
