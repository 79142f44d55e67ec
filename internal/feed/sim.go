package feed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"marketengine/internal/model"
)

// SimConfig configures the in-process simulator.
type SimConfig struct {
	Instruments []Instrument
	Interval    time.Duration // per-symbol candle cadence
	Seed        int64
}

// SimSource generates candles in-process, one goroutine per symbol. Walker
// state survives reconnects so prices continue where they left off.
type SimSource struct {
	interval time.Duration
	walkers  []*Walker
}

// NewSimSource creates a simulator over cfg.Instruments (DefaultInstruments
// when empty).
func NewSimSource(cfg SimConfig) *SimSource {
	insts := cfg.Instruments
	if len(insts) == 0 {
		insts = DefaultInstruments
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	ws := make([]*Walker, len(insts))
	for i, inst := range insts {
		ws[i] = NewWalker(inst, cfg.Seed+int64(i))
	}
	return &SimSource{interval: cfg.Interval, walkers: ws}
}

// Open starts the per-symbol generators.
func (s *SimSource) Open(ctx context.Context) (Stream, error) {
	sctx, cancel := context.WithCancel(ctx)
	st := &simStream{
		ctx:    sctx,
		cancel: cancel,
		out:    make(chan model.SymbolCandle, 256),
	}
	for _, w := range s.walkers {
		st.wg.Add(1)
		go st.generate(w, s.interval)
	}
	zap.L().Info("feed: simulator opened", zap.Int("symbols", len(s.walkers)), zap.Duration("interval", s.interval))
	return st, nil
}

type simStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	out    chan model.SymbolCandle
	wg     sync.WaitGroup
	once   sync.Once
}

func (st *simStream) generate(w *Walker, interval time.Duration) {
	defer st.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-st.ctx.Done():
			return
		case now := <-ticker.C:
			c := w.Next(now.UTC())
			select {
			case st.out <- c:
			case <-st.ctx.Done():
				return
			}
		}
	}
}

func (st *simStream) Next(ctx context.Context) (model.SymbolCandle, error) {
	select {
	case c := <-st.out:
		return c, nil
	case <-ctx.Done():
		return model.SymbolCandle{}, ctx.Err()
	case <-st.ctx.Done():
		return model.SymbolCandle{}, ErrStreamClosed
	}
}

func (st *simStream) Ping(context.Context) error {
	if st.ctx.Err() != nil {
		return ErrStreamClosed
	}
	return nil
}

// Close stops every generator and waits for them to exit.
func (st *simStream) Close() error {
	st.once.Do(func() {
		st.cancel()
		st.wg.Wait()
	})
	return nil
}
