package quarry

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's position.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// Breaker is a failure-isolation state machine around the LLM endpoint.
//
//	closed    — calls permitted, consecutive failures tracked
//	open      — all calls short-circuited, no network attempt
//	half_open — exactly one probe call permitted
//
// After Threshold consecutive failures the breaker opens. Once Timeout has
// elapsed, the next Allow claims the single half-open probe; a probe success
// closes the breaker and resets the failure counter, a probe failure reopens
// it and restarts the timer. Concurrent callers during half_open other than
// the probe holder are denied as if open.
type Breaker struct {
	threshold int
	timeout   time.Duration
	clock     Clock

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithBreakerClock injects a Clock (deterministic tests).
func WithBreakerClock(c Clock) BreakerOption {
	return func(b *Breaker) { b.clock = c }
}

// NewBreaker creates a closed Breaker. threshold is the consecutive-failure
// count that opens it; timeout is how long it stays open before permitting
// a probe.
func NewBreaker(threshold int, timeout time.Duration, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		threshold: threshold,
		timeout:   timeout,
		clock:     SystemClock,
		state:     StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a call may proceed. The only state it mutates is the
// implicit half-open probe claim. Returns nil or ErrCircuitOpen.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.clock.Now().Sub(b.openedAt) >= b.timeout {
			b.state = StateHalfOpen
			b.probing = true
			return nil
		}
		return ErrCircuitOpen
	default: // StateHalfOpen
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
		return nil
	}
}

// OnSuccess records a successful call. A half-open probe success closes the
// breaker and resets the failure counter.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateHalfOpen:
		b.state = StateClosed
		b.failures = 0
		b.probing = false
	case StateClosed:
		b.failures = 0
	}
}

// OnFailure records a failed call. The threshold-th consecutive failure in
// closed opens the breaker; a half-open probe failure reopens it and
// restarts the timer.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = b.clock.Now()
		b.probing = false
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.state = StateOpen
			b.openedAt = b.clock.Now()
		}
	}
	// Failures reported while already open (stragglers from calls admitted
	// before the breaker tripped) do not restart the timer.
}

// State returns the current position without mutating it.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
