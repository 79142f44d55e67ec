package feed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"marketengine/internal/model"
)

// Backoff defaults.
const (
	BaseReconnectDelay = time.Second
	MaxReconnectDelay  = 30 * time.Second
)

// Config controls reconnection and heartbeats.
type Config struct {
	// ReconnectIntervals overrides the delay for retry n when len > n.
	ReconnectIntervals []time.Duration
	// MaxReconnectAttempts is how many retries follow the first failure
	// before the session gives up with StatusFailed.
	MaxReconnectAttempts int
	// HeartbeatInterval is the Stream.Ping cadence. Zero disables it.
	HeartbeatInterval time.Duration
}

// Backoff returns the delay before retry n (0-based): intervals[n] when
// configured, else min(1s·2^n, 30s).
func Backoff(intervals []time.Duration, n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if n < len(intervals) {
		return intervals[n]
	}
	if n >= 5 { // 2^5 s already exceeds the cap
		return MaxReconnectDelay
	}
	return min(BaseReconnectDelay<<n, MaxReconnectDelay)
}

// StatusEvent is emitted on every status transition.
type StatusEvent struct {
	Status model.ConnectionStatus
	// Err is set on reconnecting and failed transitions.
	Err error
}

// Manager owns one logical streaming session. All callbacks run on session
// goroutines; none runs after Disconnect returns. Callbacks must not call
// Connect or Disconnect synchronously.
type Manager struct {
	src      Source
	cfg      Config
	onCandle func(model.SymbolCandle)
	onStatus func(StatusEvent)

	// OnReconnectScheduled is called before each backoff wait.
	OnReconnectScheduled func(attempt int, delay time.Duration)

	life sync.Mutex // serializes Connect and Disconnect

	mu     sync.Mutex
	status model.ConnectionStatus
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a manager. onCandle and onStatus may be nil.
func NewManager(src Source, cfg Config, onCandle func(model.SymbolCandle), onStatus func(StatusEvent)) *Manager {
	if onCandle == nil {
		onCandle = func(model.SymbolCandle) {}
	}
	if onStatus == nil {
		onStatus = func(StatusEvent) {}
	}
	return &Manager{
		src:      src,
		cfg:      cfg,
		onCandle: onCandle,
		onStatus: onStatus,
		status:   model.StatusDisconnected,
	}
}

// Status returns the current connection status.
func (m *Manager) Status() model.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Connect starts the session goroutine and returns immediately. It is a
// no-op while a session is live. A session that ended in StatusFailed can
// be restarted.
func (m *Manager) Connect(ctx context.Context) {
	m.life.Lock()
	defer m.life.Unlock()

	m.mu.Lock()
	if m.cancel != nil && m.status != model.StatusFailed {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	// Reap a failed session before starting over.
	m.stop()

	sctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(sctx)
}

// Disconnect cancels the session and waits for every goroutine it started.
// It emits a final disconnected event when the status changes. Idempotent.
func (m *Manager) Disconnect() {
	m.life.Lock()
	defer m.life.Unlock()

	m.stop()
	m.setStatus(context.Background(), model.StatusDisconnected, nil)
}

// stop cancels and waits for the running session, if any.
func (m *Manager) stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// setStatus records a transition and emits it unless the session that
// requested it has been cancelled. Calls with the same status are dropped.
func (m *Manager) setStatus(ctx context.Context, s model.ConnectionStatus, err error) {
	m.mu.Lock()
	if m.status == s || ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.status = s
	m.mu.Unlock()
	m.onStatus(StatusEvent{Status: s, Err: err})
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	failures := 0
	m.setStatus(ctx, model.StatusConnecting, nil)
	for {
		stream, err := m.src.Open(ctx)
		if err == nil {
			failures = 0
			m.setStatus(ctx, model.StatusConnected, nil)
			zap.L().Info("feed: session connected")
			err = m.serve(ctx, stream)
		}
		if ctx.Err() != nil {
			return
		}

		failures++
		cerr := &ConnectionError{Attempt: failures, Err: err}
		if failures > m.cfg.MaxReconnectAttempts {
			zap.L().Error("feed: giving up", zap.Error(cerr), zap.Int("attempts", failures))
			m.setStatus(ctx, model.StatusFailed, cerr)
			return
		}

		delay := Backoff(m.cfg.ReconnectIntervals, failures-1)
		zap.L().Warn("feed: connection lost, reconnecting",
			zap.Error(cerr), zap.Duration("delay", delay))
		m.setStatus(ctx, model.StatusReconnecting, cerr)
		if m.OnReconnectScheduled != nil {
			m.OnReconnectScheduled(failures-1, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// serve pumps candles and heartbeats until either fails or ctx is done.
func (m *Manager) serve(ctx context.Context, stream Stream) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			c, err := stream.Next(sctx)
			if err != nil {
				errCh <- err
				return
			}
			m.onCandle(c)
		}
	}()

	if m.cfg.HeartbeatInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(m.cfg.HeartbeatInterval)
			defer ticker.Stop()
			for {
				select {
				case <-sctx.Done():
					return
				case <-ticker.C:
					if err := stream.Ping(sctx); err != nil {
						zap.L().Warn("feed: heartbeat failed", zap.Error(err))
						errCh <- err
						return
					}
				}
			}
		}()
	}

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = ctx.Err()
	}
	cancel()
	// Close unblocks a Next that ignores ctx.
	stream.Close()
	wg.Wait()
	return err
}
