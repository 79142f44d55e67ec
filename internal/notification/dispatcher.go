package notification

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"marketengine/internal/model"
)

// DispatcherConfig configures alert fan-out to notifiers.
type DispatcherConfig struct {
	QueueSize   int            `mapstructure:"queue_size"`
	SendTimeout time.Duration  `mapstructure:"send_timeout"`
	MinSeverity model.Severity `mapstructure:"min_severity"`
}

// Dispatcher queues alerts and delivers each one to every notifier on a
// background goroutine. Enqueue never blocks; a full queue drops the alert.
type Dispatcher struct {
	notifiers []Notifier
	cfg       DispatcherConfig
	queue     chan model.Alert

	// OnResult is called after every delivery attempt; err is nil on
	// success. OnDrop is called when the queue is full.
	OnResult func(notifier string, err error)
	OnDrop   func(a model.Alert)
}

// NewDispatcher creates a dispatcher over notifiers.
func NewDispatcher(cfg DispatcherConfig, notifiers ...Notifier) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	return &Dispatcher{
		notifiers: notifiers,
		cfg:       cfg,
		queue:     make(chan model.Alert, cfg.QueueSize),
	}
}

// Enqueue schedules a for delivery. Alerts below MinSeverity are ignored.
func (d *Dispatcher) Enqueue(a model.Alert) {
	if severityRank(a.Severity) < severityRank(d.cfg.MinSeverity) {
		return
	}
	select {
	case d.queue <- a:
	default:
		zap.L().Warn("notify: queue full, dropping alert", zap.String("id", a.ID), zap.String("symbol", a.Symbol))
		if d.OnDrop != nil {
			d.OnDrop(a)
		}
	}
}

// Run delivers queued alerts until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-d.queue:
			d.deliver(ctx, a)
		}
	}
}

// deliver sends a to every notifier concurrently and waits for all of them.
func (d *Dispatcher) deliver(ctx context.Context, a model.Alert) {
	var wg sync.WaitGroup
	for _, n := range d.notifiers {
		wg.Add(1)
		go func(n Notifier) {
			defer wg.Done()
			sctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
			defer cancel()
			err := n.Send(sctx, a)
			if err != nil {
				zap.L().Warn("notify: delivery failed",
					zap.String("notifier", n.Name()),
					zap.String("id", a.ID),
					zap.Error(err))
			}
			if d.OnResult != nil {
				d.OnResult(n.Name(), err)
			}
		}(n)
	}
	wg.Wait()
}
