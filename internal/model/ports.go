package model

import "context"

// ── Outbound Port Interfaces ──
// These interfaces decouple the engine from side channels (Redis pub/sub,
// notifiers). Implementations must tolerate being called from event
// callbacks and must not block for long.

// EventPublisher forwards engine events to an external transport.
type EventPublisher interface {
	PublishCandle(ctx context.Context, c SymbolCandle) error
	PublishAlert(ctx context.Context, a Alert) error
	PublishSignal(ctx context.Context, s AlphaSignal) error

	// Close releases underlying resources.
	Close() error
}
