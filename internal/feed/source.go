// Package feed owns the streaming session that delivers candles to the
// engine: the transport abstraction, a resilient connection manager with
// bounded exponential backoff and heartbeats, and two sources (an in-process
// simulator and a WebSocket client for cmd/tickserver).
package feed

import (
	"context"
	"errors"
	"fmt"

	"marketengine/internal/model"
)

// ErrStreamClosed is returned by a Stream after Close or when its source
// shut it down.
var ErrStreamClosed = errors.New("feed: stream closed")

// Source opens streaming sessions.
type Source interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is one open session. Next and Ping may be called from different
// goroutines; Close may be called concurrently with both.
type Stream interface {
	// Next blocks until a candle arrives, ctx is done, or the stream fails.
	Next(ctx context.Context) (model.SymbolCandle, error)
	// Ping checks liveness.
	Ping(ctx context.Context) error
	Close() error
}

// ConnectionError is a transport failure on a given attempt. Attempt 1 is
// the initial failure; retries count up from there.
type ConnectionError struct {
	Attempt int
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("feed: connection attempt %d: %v", e.Attempt, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
