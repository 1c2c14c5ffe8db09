// Package circuit guards calls to an external dependency (the order
// gateway) with a consecutive-failure circuit breaker.
package circuit

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a call.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the breaker state.
type State int

const (
	Closed   State = iota // calls pass through
	Open                  // calls rejected until the cool-down elapses
	HalfOpen              // one probe call allowed
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Breaker opens after maxFailures consecutive failures and rejects calls for
// cooldown. After the cool-down one probe is let through: success closes
// the breaker, failure reopens it.
type Breaker struct {
	mu          sync.Mutex
	name        string
	state       State
	failures    int
	maxFailures int
	cooldown    time.Duration
	openedAt    time.Time
	trips       int
	now         func() time.Time

	// OnStateChange, if set, is called on every transition with the lock held.
	OnStateChange func(name string, from, to State)
}

// New creates a closed breaker.
func New(name string, maxFailures int, cooldown time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{
		name:        name,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// WithClock replaces the time source, for tests and replay.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
	return b
}

// Allow reports whether a call would currently be let through, moving an
// expired Open breaker to HalfOpen.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allowLocked()
}

func (b *Breaker) allowLocked() bool {
	if b.state == Open {
		if b.now().Sub(b.openedAt) <= b.cooldown {
			return false
		}
		b.transition(HalfOpen)
	}
	return true
}

// Execute runs fn through the breaker. It returns ErrOpen without calling
// fn while the breaker is open.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	if !b.allowLocked() {
		b.mu.Unlock()
		return ErrOpen
	}
	b.mu.Unlock()

	err := fn()
	b.Record(err)
	return err
}

// Record feeds the outcome of a call made outside Execute.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state == HalfOpen {
			b.transition(Closed)
		}
		b.failures = 0
		return
	}

	b.failures++
	if b.state == HalfOpen || b.failures >= b.maxFailures {
		b.openedAt = b.now()
		b.trips++
		b.transition(Open)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Trips returns how many times the breaker has opened.
func (b *Breaker) Trips() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trips
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == Closed {
		b.failures = 0
	}
	if b.OnStateChange != nil {
		b.OnStateChange(b.name, from, to)
	}
}
