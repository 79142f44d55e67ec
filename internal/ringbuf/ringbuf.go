// Package ringbuf provides a fixed-capacity ring of model.Candle that
// overwrites its oldest entry when full. It backs the per-symbol candle
// history and is not safe for concurrent use; callers hold the symbol lock.
package ringbuf

import "marketengine/internal/model"

// Ring is a bounded, append-only candle history.
type Ring struct {
	buf  []model.Candle
	head int // index of the oldest entry
	n    int
}

// New creates a ring holding at most capacity candles. Minimum capacity is 1.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]model.Candle, capacity)}
}

// Push appends a candle. When the ring is full the oldest candle is
// overwritten and Push returns true.
func (r *Ring) Push(c model.Candle) (evicted bool) {
	if r.n < len(r.buf) {
		r.buf[(r.head+r.n)%len(r.buf)] = c
		r.n++
		return false
	}
	r.buf[r.head] = c
	r.head = (r.head + 1) % len(r.buf)
	return true
}

// Reset replaces the contents with cs, keeping only the newest Cap() entries.
func (r *Ring) Reset(cs []model.Candle) {
	if len(cs) > len(r.buf) {
		cs = cs[len(cs)-len(r.buf):]
	}
	copy(r.buf, cs)
	r.head = 0
	r.n = len(cs)
}

// Last returns the newest candle.
func (r *Ring) Last() (model.Candle, bool) {
	if r.n == 0 {
		return model.Candle{}, false
	}
	return r.buf[(r.head+r.n-1)%len(r.buf)], true
}

// First returns the oldest candle still held.
func (r *Ring) First() (model.Candle, bool) {
	if r.n == 0 {
		return model.Candle{}, false
	}
	return r.buf[r.head], true
}

// Snapshot copies the history out in append order (oldest first).
func (r *Ring) Snapshot() []model.Candle {
	out := make([]model.Candle, r.n)
	k := copy(out, r.buf[r.head:min(r.head+r.n, len(r.buf))])
	if k < r.n {
		copy(out[k:], r.buf[:r.n-k])
	}
	return out
}

// Len returns the current number of candles.
func (r *Ring) Len() int { return r.n }

// Cap returns the ring capacity.
func (r *Ring) Cap() int { return len(r.buf) }
