package market

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"marketengine/internal/analysis"
	"marketengine/internal/feed"
	"marketengine/internal/model"
)

// ErrNoSource is returned by Connect when the store was built without
// WithSource.
var ErrNoSource = errors.New("market: no candle source configured")

// Connect starts the feed session and the analysis loop. It returns
// immediately; progress is reported on ConnectionEvents. Calling Connect on
// a live session is a no-op.
func (s *Store) Connect(ctx context.Context) error {
	if s.feed == nil {
		return ErrNoSource
	}
	s.life.Lock()
	defer s.life.Unlock()

	s.feed.Connect(ctx)
	if s.loopCancel == nil {
		lctx, cancel := context.WithCancel(ctx)
		s.loopCancel = cancel
		s.loopWG.Add(1)
		go s.analysisLoop(lctx)
	}
	return nil
}

// Disconnect stops the feed session, its generators and heartbeat, and the
// analysis loop, and waits for all of them. No event is published after it
// returns. Idempotent. It must not be called from inside an event handler.
func (s *Store) Disconnect() {
	s.life.Lock()
	defer s.life.Unlock()

	if s.feed != nil {
		s.feed.Disconnect()
	}
	if s.loopCancel != nil {
		s.loopCancel()
		s.loopWG.Wait()
		s.loopCancel = nil
	}
}

// ConnectionStatus returns the feed status.
func (s *Store) ConnectionStatus() model.ConnectionStatus {
	if s.feed == nil {
		return model.StatusDisconnected
	}
	return s.feed.Status()
}

func (s *Store) onFeedCandle(c model.SymbolCandle) {
	// Rejections are logged and counted by AddCandle.
	_ = s.AddCandle(c.Symbol, c.Candle)
}

func (s *Store) onFeedStatus(e feed.StatusEvent) {
	s.observer.ConnectionChanged(e.Status)
	ev := ConnectionEvent{Status: e.Status, Time: s.now()}
	if e.Err != nil {
		ev.Error = e.Err.Error()
	}
	s.ConnectionEvents.Publish(ev)
}

func (s *Store) analysisLoop(ctx context.Context) {
	defer s.loopWG.Done()
	ticker := time.NewTicker(s.cfg.AnalysisInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunAnalysis()
			if n := s.alertLog.Prune(s.now()); n > 0 {
				zap.L().Debug("market: pruned expired alerts", zap.Int("count", n))
			}
		}
	}
}

// RunAnalysis runs one structure/signal pass over every symbol and returns
// the signals it produced. Symbols with too little history are skipped.
func (s *Store) RunAnalysis() []model.AlphaSignal {
	start := time.Now()
	var out []model.AlphaSignal
	for _, sym := range s.Symbols() {
		st := s.state(sym, false)
		st.mu.Lock()
		if st.indicators == nil || st.candles.Len() < analysis.MinCandles {
			st.mu.Unlock()
			continue
		}
		candles := st.candles.Snapshot()
		ind := *st.indicators
		st.mu.Unlock()

		res, ok := s.analyzer.Analyze(sym, candles, ind)
		if !ok {
			continue
		}
		st.mu.Lock()
		st.structure = &res.Structure
		st.mu.Unlock()

		if res.Signal != nil {
			out = append(out, *res.Signal)
		}
	}

	for _, sig := range out {
		s.signals.Add(sig)
		s.observer.SignalGenerated(sig)
		s.SignalsGenerated.Publish(sig)
	}
	s.observer.AnalysisCompleted(time.Since(start))
	return out
}
