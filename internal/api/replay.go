package api

import "sync"

// replayBuffer keeps the most recent stream frames so a reconnecting client
// can ask for everything after the last seq it saw.
type replayBuffer struct {
	mu   sync.RWMutex
	buf  []frame
	pos  int // next write position
	full bool
}

func newReplayBuffer(capacity int) *replayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &replayBuffer{buf: make([]frame, capacity)}
}

// push stores f, overwriting the oldest frame when full. Frames must be
// pushed in seq order.
func (rb *replayBuffer) push(f frame) {
	rb.mu.Lock()
	rb.buf[rb.pos] = f
	rb.pos = (rb.pos + 1) % len(rb.buf)
	if rb.pos == 0 {
		rb.full = true
	}
	rb.mu.Unlock()
}

// since returns the buffered frames with seq > after, oldest first.
func (rb *replayBuffer) since(after int64) []frame {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	n := rb.len()
	var out []frame
	for i := 0; i < n; i++ {
		f := rb.buf[rb.index(i)]
		if f.seq > after {
			out = append(out, f)
		}
	}
	return out
}

func (rb *replayBuffer) len() int {
	if rb.full {
		return len(rb.buf)
	}
	return rb.pos
}

// index converts a logical index (0 = oldest) to a physical one.
func (rb *replayBuffer) index(logical int) int {
	if rb.full {
		return (rb.pos + logical) % len(rb.buf)
	}
	return logical
}
