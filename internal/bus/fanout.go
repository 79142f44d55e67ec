package bus

import (
	"sync"

	"go.uber.org/zap"
)

// FanOut broadcasts values to N buffered output channels.
// If an output channel is full, the value is dropped for that consumer to
// prevent a slow consumer from blocking the pipeline.
type FanOut[T any] struct {
	mu      sync.RWMutex
	outputs map[int]chan T
	nextID  int
	bufSize int
	closed  bool

	// OnDrop is called when a value is dropped for a subscriber.
	// subscriberID identifies the slow consumer.
	OnDrop func(subscriberID int)
}

// NewFanOut creates a FanOut with the given buffer size for output channels.
func NewFanOut[T any](outputBufferSize int) *FanOut[T] {
	return &FanOut[T]{
		bufSize: outputBufferSize,
		outputs: make(map[int]chan T),
	}
}

// Subscribe creates a new output channel. cancel closes it and stops
// delivery; it is safe to call more than once.
func (f *FanOut[T]) Subscribe() (out <-chan T, cancel func()) {
	ch := make(chan T, f.bufSize)
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := f.nextID
	f.nextID++
	f.outputs[id] = ch
	f.mu.Unlock()

	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.outputs[id]; ok {
			delete(f.outputs, id)
			close(c)
		}
	}
}

// Publish delivers v to every subscriber without blocking.
func (f *FanOut[T]) Publish(v T) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for id, ch := range f.outputs {
		select {
		case ch <- v:
		default:
			if f.OnDrop != nil {
				f.OnDrop(id)
			} else {
				zap.L().Warn("bus: output channel full, dropping value", zap.Int("subscriber", id))
			}
		}
	}
}

// Close closes every output channel. Later subscribers get a closed channel.
func (f *FanOut[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.outputs {
		close(ch)
		delete(f.outputs, id)
	}
}

// ChannelStat is the length and capacity of one buffered channel.
type ChannelStat struct {
	Len int
	Cap int
}

// StatOf reports the fill of any buffered channel.
func StatOf[T any](ch <-chan T) ChannelStat { return ChannelStat{Len: len(ch), Cap: cap(ch)} }

// ChannelStats returns a stat for each subscriber channel.
func (f *FanOut[T]) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, 0, len(f.outputs))
	for _, ch := range f.outputs {
		stats = append(stats, ChannelStat{Len: len(ch), Cap: cap(ch)})
	}
	return stats
}
