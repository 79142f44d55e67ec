package redis

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the position of a CircuitBreaker.
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls rejected until the cooldown elapses
	StateHalfOpen              // one trial call allowed
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ErrCircuitOpen is returned by Execute while the breaker rejects calls.
var ErrCircuitOpen = errors.New("redis: circuit breaker is open")

// CircuitBreaker guards publishes to Redis. After threshold consecutive
// failures it opens and rejects calls for cooldown, then admits a single
// trial call whose outcome closes or reopens it.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    State
	streak   int
	openedAt time.Time
	trips    int

	// OnStateChange runs under the breaker lock and must not call back into it.
	OnStateChange func(from, to State)
}

// NewCircuitBreaker returns a closed breaker. A threshold below one is
// treated as one.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: max(threshold, 1),
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Execute calls fn unless the breaker is open, and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.admit() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return true
	}
	if cb.now().Sub(cb.openedAt) <= cb.cooldown {
		return false
	}
	cb.moveTo(StateHalfOpen)
	return true
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err == nil {
		cb.streak = 0
		cb.moveTo(StateClosed)
		return
	}
	cb.streak++
	cb.openedAt = cb.now()
	if cb.state == StateHalfOpen || cb.streak >= cb.threshold {
		cb.moveTo(StateOpen)
	}
}

// CurrentState reports the breaker position.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Trips counts closed-to-open transitions. A failed trial call does not add one.
func (cb *CircuitBreaker) Trips() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.trips
}

func (cb *CircuitBreaker) moveTo(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if from == StateClosed && to == StateOpen {
		cb.trips++
	}
	zap.L().Info("redis: circuit breaker", zap.Stringer("from", from), zap.Stringer("to", to))
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}
