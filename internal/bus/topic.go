// Package bus provides in-process typed event delivery.
//
// Topic delivers synchronously to callback subscribers in publish order.
// FanOut bridges a topic onto buffered channels for consumers that must not
// block the publisher.
package bus

import "sync"

// subscription guards one handler so that Unsubscribe can wait for an
// in-flight delivery and block every later one.
type subscription[T any] struct {
	mu     sync.Mutex
	fn     func(T)
	closed bool
}

// Topic is a typed, synchronous publish/subscribe channel.
type Topic[T any] struct {
	mu   sync.RWMutex
	subs []*subscription[T]
}

// NewTopic creates an empty topic.
func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{}
}

// Subscribe registers fn and returns a function that removes it. Once the
// returned function has returned, fn is never called again. The unsubscribe
// function is idempotent and must not be called from inside fn itself.
func (t *Topic[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	s := &subscription[T]{fn: fn}
	t.mu.Lock()
	t.subs = append(t.subs, s)
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			for i, cur := range t.subs {
				if cur == s {
					t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
					break
				}
			}
			t.mu.Unlock()

			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
		})
	}
}

// Publish calls every current subscriber with v, in subscription order, on
// the caller's goroutine.
func (t *Topic[T]) Publish(v T) {
	t.mu.RLock()
	subs := t.subs
	t.mu.RUnlock()

	for _, s := range subs {
		s.mu.Lock()
		if !s.closed {
			s.fn(v)
		}
		s.mu.Unlock()
	}
}

// Len returns the number of subscribers.
func (t *Topic[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Chan subscribes a buffered channel of size buf. Values that do not fit are
// dropped and reported to onDrop, which may be nil. The channel is closed by
// the returned unsubscribe function.
func (t *Topic[T]) Chan(buf int, onDrop func()) (<-chan T, func()) {
	ch := make(chan T, buf)
	unsub := t.Subscribe(func(v T) {
		select {
		case ch <- v:
		default:
			if onDrop != nil {
				onDrop()
			}
		}
	})
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			unsub()
			close(ch)
		})
	}
}
