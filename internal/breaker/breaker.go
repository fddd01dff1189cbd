// Package breaker implements the circuit breaker that guards outbound
// provider calls (historical REST, redis publish).
package breaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = 0 // requests pass through
	StateOpen     State = 1 // tripped, requests rejected immediately
	StateHalfOpen State = 2 // One probe request allowed through
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when the breaker rejects a call.
var ErrOpen = errors.New("circuit breaker is open")

// Breaker opens after maxFailures consecutive failures and rejects calls
// for resetTimeout. It then lets a single probe through: success closes it,
// failure reopens it.
type Breaker struct {
	name         string
	mu           sync.Mutex
	state        State
	failures     int
	maxFailures  int
	resetTimeout time.Duration
	openedAt     time.Time
	probing      bool
	now          func() time.Time

	// IsFailure classifies errors. Errors it rejects count as successes, so
	// e.g. a provider's "not found" does not trip the breaker. Default: any
	// non-nil error is a failure.
	IsFailure func(error) bool

	// OnStateChange is called on transitions, under the breaker lock.
	OnStateChange func(name string, from, to State)
}

// New creates a breaker.
// maxFailures: consecutive failures before opening (e.g. 5)
// resetTimeout: time to wait before a half-open probe (e.g. 10s)
func New(name string, maxFailures int, resetTimeout time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        StateClosed,
		now:          time.Now,
	}
}

// Name returns the breaker's label.
func (b *Breaker) Name() string { return b.name }

// Execute runs fn through the breaker. Returns ErrOpen without calling fn
// while open, or while a half-open probe is already in flight.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			b.mu.Unlock()
			return ErrOpen
		}
		b.transition(StateHalfOpen)
		b.probing = true
	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrOpen
		}
		b.probing = true
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	wasProbe := b.state == StateHalfOpen
	b.probing = false

	if err != nil && b.isFailure(err) {
		b.failures++
		if wasProbe || b.failures >= b.maxFailures {
			b.openedAt = b.now()
			b.transition(StateOpen)
		}
		return err
	}

	if wasProbe {
		b.transition(StateClosed)
	}
	b.failures = 0
	return err
}

func (b *Breaker) isFailure(err error) bool {
	if b.IsFailure == nil {
		return true
	}
	return b.IsFailure(err)
}

// CurrentState returns the current breaker state.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	if b.OnStateChange != nil {
		b.OnStateChange(b.name, from, to)
	}
}
