// Package resilience guards calls to optional external services (bus, archive,
// webhooks) so that an outage degrades to log lines instead of stalls.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call without running it.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// Breaker opens after maxFailures consecutive failures and rejects calls for
// timeout. After that a single probe is let through; its result closes or
// re-opens the circuit.
type Breaker struct {
	name        string
	maxFailures int
	timeout     time.Duration
	onChange    func(name string, from, to State)

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
	now      func() time.Time
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithStateHook is called (outside the lock) on every state change.
func WithStateHook(fn func(name string, from, to State)) BreakerOption {
	return func(b *Breaker) { b.onChange = fn }
}

// NewBreaker creates a closed breaker. maxFailures below 1 is treated as 1.
func NewBreaker(name string, maxFailures int, timeout time.Duration, opts ...BreakerOption) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	b := &Breaker{
		name:        name,
		maxFailures: maxFailures,
		timeout:     timeout,
		now:         time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Name returns the name given at construction.
func (b *Breaker) Name() string { return b.name }

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.timeout {
		return StateHalfOpen
	}
	return b.state
}

// Execute runs fn unless the circuit is open. A cancelled ctx is returned
// without running fn and without counting as a failure.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.allow() {
		return ErrCircuitOpen
	}

	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	var from, to State
	changed := false
	allowed := false

	switch b.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.timeout {
			from, to, changed = StateOpen, StateHalfOpen, true
			b.state = StateHalfOpen
			b.probing = true
			allowed = true
		}
	case StateHalfOpen:
		if !b.probing {
			b.probing = true
			allowed = true
		}
	}
	b.mu.Unlock()

	if changed {
		b.notify(from, to)
	}
	return allowed
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	from := b.state
	b.probing = false
	if err != nil {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.maxFailures {
			b.state = StateOpen
			b.openedAt = b.now()
		}
	} else {
		b.failures = 0
		b.state = StateClosed
	}
	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

func (b *Breaker) notify(from, to State) {
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}
