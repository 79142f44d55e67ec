package alert

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"marketengine/internal/model"
)

// ErrAlertNotFound is returned by Dismiss and MarkRead for unknown IDs.
var ErrAlertNotFound = errors.New("alert: not found")

// Log is the bounded global alert log, oldest first.
type Log struct {
	mu        sync.Mutex
	max       int
	retention time.Duration
	now       func() time.Time
	alerts    []model.Alert
}

// NewLog creates a log holding at most max alerts. Alerts older than
// retention are excluded from Active and removed by Prune.
func NewLog(max int, retention time.Duration, now func() time.Time) *Log {
	if max < 1 {
		max = 1
	}
	if now == nil {
		now = time.Now
	}
	return &Log{max: max, retention: retention, now: now}
}

// Add appends alerts and returns how many were evicted to stay under the
// cap. Eviction removes the oldest dismissed alert first, then the oldest
// overall.
func (l *Log) Add(alerts ...model.Alert) (evicted int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range alerts {
		if len(l.alerts) >= l.max {
			l.evictOne()
			evicted++
		}
		l.alerts = append(l.alerts, a)
	}
	return evicted
}

func (l *Log) evictOne() {
	idx := 0
	for i, a := range l.alerts {
		if a.Dismissed {
			idx = i
			break
		}
	}
	l.alerts = append(l.alerts[:idx], l.alerts[idx+1:]...)
}

func (l *Log) live(a model.Alert, now time.Time) bool {
	return !a.Dismissed && (l.retention <= 0 || now.Sub(a.Timestamp) < l.retention)
}

// Active returns non-dismissed alerts inside the retention window, newest
// first.
func (l *Log) Active() []model.Alert {
	return l.filter(func(model.Alert) bool { return true })
}

// BySymbol returns the active alerts of one symbol, newest first.
func (l *Log) BySymbol(symbol string) []model.Alert {
	return l.filter(func(a model.Alert) bool { return a.Symbol == symbol })
}

func (l *Log) filter(keep func(model.Alert) bool) []model.Alert {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	out := make([]model.Alert, 0, len(l.alerts))
	for i := len(l.alerts) - 1; i >= 0; i-- {
		a := l.alerts[i]
		if l.live(a, now) && keep(a) {
			out = append(out, a)
		}
	}
	return out
}

// Dismiss marks an alert dismissed.
func (l *Log) Dismiss(id string) error {
	return l.update(id, func(a *model.Alert) { a.Dismissed = true })
}

// MarkRead marks an alert read.
func (l *Log) MarkRead(id string) error {
	return l.update(id, func(a *model.Alert) { a.IsRead = true })
}

func (l *Log) update(id string, fn func(*model.Alert)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.alerts {
		if l.alerts[i].ID == id {
			fn(&l.alerts[i])
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrAlertNotFound, id)
}

// Prune drops alerts older than the retention window and returns how many
// were removed.
func (l *Log) Prune(now time.Time) int {
	if l.retention <= 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.alerts[:0]
	for _, a := range l.alerts {
		if now.Sub(a.Timestamp) < l.retention {
			kept = append(kept, a)
		}
	}
	removed := len(l.alerts) - len(kept)
	clear(l.alerts[len(kept):])
	l.alerts = kept
	return removed
}

// Len returns the number of stored alerts, including dismissed ones.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.alerts)
}
