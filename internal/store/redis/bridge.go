// Package redis mirrors engine events onto Redis: pub/sub channels for live
// consumers plus capped streams that can warm a fresh process.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"marketengine/internal/model"
)

const (
	defaultPrefix      = "marketengine"
	defaultLatestTTL   = 30 * time.Minute
	defaultStreamLen   = 1000
	defaultMaxBuffered = 10000
)

// Config configures the Redis bridge.
type Config struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`

	// StreamMaxLen caps the per-symbol candle stream and the alert and
	// signal streams.
	StreamMaxLen    int64         `mapstructure:"stream_max_len"`
	MaxBuffered     int           `mapstructure:"max_buffered"`
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerReset    time.Duration `mapstructure:"breaker_reset"`
}

func (c *Config) setDefaults() {
	if c.Prefix == "" {
		c.Prefix = defaultPrefix
	}
	if c.StreamMaxLen <= 0 {
		c.StreamMaxLen = defaultStreamLen
	}
	if c.MaxBuffered <= 0 {
		c.MaxBuffered = defaultMaxBuffered
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerReset <= 0 {
		c.BreakerReset = 10 * time.Second
	}
}

// Keys derives every Redis key and channel from one prefix.
type Keys struct{ Prefix string }

func (k Keys) CandleChannel(symbol string) string { return k.Prefix + ":pub:candle:" + symbol }
func (k Keys) CandleStream(symbol string) string  { return k.Prefix + ":candles:" + symbol }
func (k Keys) LatestCandle(symbol string) string  { return k.Prefix + ":candle:latest:" + symbol }
func (k Keys) Symbols() string                    { return k.Prefix + ":symbols" }
func (k Keys) AlertChannel() string               { return k.Prefix + ":pub:alerts" }
func (k Keys) AlertStream() string                { return k.Prefix + ":alerts" }
func (k Keys) SignalChannel() string              { return k.Prefix + ":pub:signals" }
func (k Keys) SignalStream() string               { return k.Prefix + ":signals" }

type eventKind uint8

const (
	kindCandle eventKind = iota
	kindAlert
	kindSignal
)

// pendingWrite is an event held while the breaker is open.
type pendingWrite struct {
	kind eventKind
	key  string // symbol for candles
	data string
}

// Bridge publishes engine events to Redis through a circuit breaker. While
// the breaker is open, writes are buffered locally (oldest dropped first).
// Once a backlog exists every later write queues behind it, and writers
// drain the queue in order, so Redis sees events in publish order. It
// implements model.EventPublisher.
type Bridge struct {
	client *goredis.Client
	cb     *CircuitBreaker
	keys   Keys
	cfg    Config
	execFn func(context.Context, pendingWrite) error

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	buffer   []pendingWrite
	draining bool

	// Optional hooks, set before use.
	OnPublish       func(took time.Duration, err error)
	OnBuffer        func()
	OnFlush         func(count int)
	OnBreakerChange func(from, to State)
}

var _ model.EventPublisher = (*Bridge)(nil)

// New connects to Redis, pings it and returns a bridge.
func New(ctx context.Context, cfg Config) (*Bridge, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}

	zap.L().Info("redis: connected", zap.String("addr", cfg.Addr))
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *goredis.Client, cfg Config) *Bridge {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		client: client,
		cb:     NewCircuitBreaker(cfg.BreakerFailures, cfg.BreakerReset),
		keys:   Keys{Prefix: cfg.Prefix},
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		buffer: make([]pendingWrite, 0, 256),
	}
	b.execFn = b.exec
	b.cb.OnStateChange = func(from, to State) {
		if b.OnBreakerChange != nil {
			b.OnBreakerChange(from, to)
		}
	}
	return b
}

// Client returns the underlying Redis client for health checks.
func (b *Bridge) Client() *goredis.Client { return b.client }

// Breaker returns the circuit breaker guarding every write.
func (b *Bridge) Breaker() *CircuitBreaker { return b.cb }

// Keys returns the key layout in use.
func (b *Bridge) Keys() Keys { return b.keys }

// PublishCandle appends the candle to the symbol's stream, records it as the
// latest candle and publishes it.
func (b *Bridge) PublishCandle(ctx context.Context, c model.SymbolCandle) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("redis: encode candle: %w", err)
	}
	return b.write(ctx, pendingWrite{kind: kindCandle, key: c.Symbol, data: string(data)})
}

// PublishAlert appends the alert to the alert stream and publishes it.
func (b *Bridge) PublishAlert(ctx context.Context, a model.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("redis: encode alert: %w", err)
	}
	return b.write(ctx, pendingWrite{kind: kindAlert, data: string(data)})
}

// PublishSignal appends the signal to the signal stream and publishes it.
func (b *Bridge) PublishSignal(ctx context.Context, s model.AlphaSignal) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("redis: encode signal: %w", err)
	}
	return b.write(ctx, pendingWrite{kind: kindSignal, data: string(data)})
}

// write sends w through the breaker. With no backlog it goes straight out
// and is buffered only if the breaker rejects it. Otherwise it joins the
// backlog and the caller helps drain it.
func (b *Bridge) write(ctx context.Context, w pendingWrite) error {
	b.mu.Lock()
	if len(b.buffer) > 0 || b.draining {
		b.enqueueLocked(w)
		b.mu.Unlock()
		b.buffered()
		b.drain(ctx)
		return nil
	}
	b.mu.Unlock()

	err := b.send(ctx, w)
	if errors.Is(err, ErrCircuitOpen) {
		b.mu.Lock()
		b.enqueueLocked(w)
		b.mu.Unlock()
		b.buffered()
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis: publish: %w", err)
	}
	return nil
}

func (b *Bridge) send(ctx context.Context, w pendingWrite) error {
	start := time.Now()
	err := b.cb.Execute(func() error { return b.execFn(ctx, w) })
	if b.OnPublish != nil {
		b.OnPublish(time.Since(start), err)
	}
	return err
}

// exec runs one event as a single pipeline round trip.
func (b *Bridge) exec(ctx context.Context, w pendingWrite) error {
	pipe := b.client.Pipeline()
	switch w.kind {
	case kindCandle:
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: b.keys.CandleStream(w.key),
			MaxLen: b.cfg.StreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": w.data},
		})
		pipe.SAdd(ctx, b.keys.Symbols(), w.key)
		pipe.Set(ctx, b.keys.LatestCandle(w.key), w.data, defaultLatestTTL)
		pipe.Publish(ctx, b.keys.CandleChannel(w.key), w.data)
	case kindAlert:
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: b.keys.AlertStream(),
			MaxLen: b.cfg.StreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": w.data},
		})
		pipe.Publish(ctx, b.keys.AlertChannel(), w.data)
	case kindSignal:
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: b.keys.SignalStream(),
			MaxLen: b.cfg.StreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": w.data},
		})
		pipe.Publish(ctx, b.keys.SignalChannel(), w.data)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// enqueueLocked appends w to the backlog, dropping the oldest entry when
// full. b.mu must be held.
func (b *Bridge) enqueueLocked(w pendingWrite) {
	if len(b.buffer) >= b.cfg.MaxBuffered {
		b.buffer = b.buffer[1:]
	}
	b.buffer = append(b.buffer, w)
}

func (b *Bridge) buffered() {
	if b.OnBuffer != nil {
		b.OnBuffer()
	}
}

// drain sends the backlog front to back until it is empty or the breaker
// rejects a write. Only one caller drains at a time; others return at once
// and their writes are picked up by the active drain. A write that fails
// for any other reason is logged and dropped.
func (b *Bridge) drain(ctx context.Context) {
	b.mu.Lock()
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true
	b.mu.Unlock()

	flushed := 0
	for {
		b.mu.Lock()
		if len(b.buffer) == 0 || ctx.Err() != nil || b.ctx.Err() != nil {
			b.draining = false
			b.mu.Unlock()
			break
		}
		w := b.buffer[0]
		b.buffer = b.buffer[1:]
		b.mu.Unlock()

		err := b.send(ctx, w)
		if errors.Is(err, ErrCircuitOpen) {
			b.mu.Lock()
			if len(b.buffer) < b.cfg.MaxBuffered {
				b.buffer = append([]pendingWrite{w}, b.buffer...)
			}
			b.draining = false
			b.mu.Unlock()
			break
		}
		if err != nil {
			zap.L().Warn("redis: replay buffered write", zap.Error(err))
			continue
		}
		flushed++
	}

	if flushed > 0 {
		zap.L().Info("redis: flushed buffered writes", zap.Int("count", flushed))
		if b.OnFlush != nil {
			b.OnFlush(flushed)
		}
	}
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (b *Bridge) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

// Run forwards events from the given channels until ctx is done or every
// channel is closed. Publish errors are logged; the bridge never blocks the
// engine.
func (b *Bridge) Run(ctx context.Context, candles <-chan model.SymbolCandle, alerts <-chan model.Alert, signals <-chan model.AlphaSignal) {
	for candles != nil || alerts != nil || signals != nil {
		var err error
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candles:
			if !ok {
				candles = nil
				continue
			}
			err = b.PublishCandle(ctx, c)
		case a, ok := <-alerts:
			if !ok {
				alerts = nil
				continue
			}
			err = b.PublishAlert(ctx, a)
		case s, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			err = b.PublishSignal(ctx, s)
		}
		if err != nil {
			zap.L().Warn("redis: bridge publish failed", zap.Error(err))
		}
	}
}

// Close stops any drain in progress and closes the Redis client.
func (b *Bridge) Close() error {
	b.cancel()
	return b.client.Close()
}
