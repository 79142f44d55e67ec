package redis

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failFn() error { return errBoom }
func okFn() error   { return nil }

// newTestBreaker returns a breaker on a manual clock and a func to advance it.
func newTestBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, func(time.Duration)) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(threshold, cooldown)
	cb.now = func() time.Time { return now }
	return cb, func(d time.Duration) { now = now.Add(d) }
}

func TestCircuitBreaker_Sequences(t *testing.T) {
	tests := []struct {
		name      string
		threshold int
		steps     []func() error
		wantState State
		wantTrips int
	}{
		{"fresh", 3, nil, StateClosed, 0},
		{"below threshold", 3, []func() error{failFn, failFn}, StateClosed, 0},
		{"at threshold", 3, []func() error{failFn, failFn, failFn}, StateOpen, 1},
		{"success resets streak", 3, []func() error{failFn, failFn, okFn, failFn, failFn}, StateClosed, 0},
		{"zero threshold acts as one", 0, []func() error{failFn}, StateOpen, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, _ := newTestBreaker(tt.threshold, time.Second)
			for _, fn := range tt.steps {
				cb.Execute(fn)
			}
			if got := cb.CurrentState(); got != tt.wantState {
				t.Errorf("state = %v, want %v", got, tt.wantState)
			}
			if got := cb.Trips(); got != tt.wantTrips {
				t.Errorf("trips = %d, want %d", got, tt.wantTrips)
			}
		})
	}
}

func TestCircuitBreaker_OpenRejectsWithoutCalling(t *testing.T) {
	cb, advance := newTestBreaker(1, time.Minute)
	if err := cb.Execute(failFn); !errors.Is(err, errBoom) {
		t.Fatalf("expected fn error passed through, got %v", err)
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("expected rejection without call, got err=%v called=%v", err, called)
	}

	// Still inside the cooldown at exactly its boundary.
	advance(time.Minute)
	if err := cb.Execute(okFn); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen at cooldown boundary, got %v", err)
	}
}

func TestCircuitBreaker_TrialOutcome(t *testing.T) {
	cb, advance := newTestBreaker(2, time.Second)
	var seen []State
	cb.OnStateChange = func(_, to State) { seen = append(seen, to) }

	cb.Execute(failFn)
	cb.Execute(failFn)

	// A failed trial call reopens without counting a new trip.
	advance(2 * time.Second)
	cb.Execute(failFn)
	if cb.CurrentState() != StateOpen || cb.Trips() != 1 {
		t.Fatalf("after failed trial call: state=%v trips=%d", cb.CurrentState(), cb.Trips())
	}

	advance(2 * time.Second)
	if err := cb.Execute(okFn); err != nil {
		t.Fatalf("trial call: %v", err)
	}
	if cb.CurrentState() != StateClosed {
		t.Fatalf("expected closed after successful trial call, got %v", cb.CurrentState())
	}

	want := []State{StateOpen, StateHalfOpen, StateOpen, StateHalfOpen, StateClosed}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", seen, want)
		}
	}

	cb.Execute(failFn)
	cb.Execute(failFn)
	if cb.Trips() != 2 {
		t.Fatalf("expected 2 trips, got %d", cb.Trips())
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(9):      "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
