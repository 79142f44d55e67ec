// Package notification delivers fired alerts to external channels. Delivery
// is best effort: failures are logged and never reach the engine.
package notification

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"marketengine/internal/model"
)

// Notifier is one delivery backend.
type Notifier interface {
	// Name labels the backend in logs and metrics.
	Name() string
	Send(ctx context.Context, a model.Alert) error
}

// LogNotifier writes alerts to the process log. High severity alerts are
// logged at warn level so they survive an info-level filter.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (*LogNotifier) Name() string { return "log" }

func (*LogNotifier) Send(_ context.Context, a model.Alert) error {
	lvl := zapcore.InfoLevel
	if a.Severity == model.SeverityHigh {
		lvl = zapcore.WarnLevel
	}
	if ce := zap.L().Check(lvl, "notify: alert"); ce != nil {
		ce.Write(
			zap.String("id", a.ID),
			zap.String("symbol", a.Symbol),
			zap.String("type", string(a.Type)),
			zap.String("severity", string(a.Severity)),
			zap.Float64("price", a.Price),
			zap.String("message", a.Message),
		)
	}
	return nil
}
