package analysis

import (
	"sync"

	"marketengine/internal/model"
)

// SignalLog keeps the most recent alpha signals.
type SignalLog struct {
	mu      sync.Mutex
	max     int
	signals []model.AlphaSignal
}

// NewSignalLog creates a log holding at most max signals.
func NewSignalLog(max int) *SignalLog {
	if max < 1 {
		max = 1
	}
	return &SignalLog{max: max}
}

// Add appends a signal, dropping the oldest beyond the cap.
func (l *SignalLog) Add(s model.AlphaSignal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.signals = append(l.signals, s)
	if over := len(l.signals) - l.max; over > 0 {
		l.signals = append(l.signals[:0], l.signals[over:]...)
	}
}

// Recent returns the stored signals, newest first.
func (l *SignalLog) Recent() []model.AlphaSignal {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.AlphaSignal, len(l.signals))
	for i, s := range l.signals {
		out[len(l.signals)-1-i] = s
	}
	return out
}
