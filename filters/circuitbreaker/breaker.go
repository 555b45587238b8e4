// Package circuitbreaker stops calling a target that keeps failing.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	Closed   State = 0
	HalfOpen State = 1
	Open     State = 2
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case HalfOpen:
		return "half-open"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds circuit breaker configuration.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	ResetTimeout     time.Duration
	// HalfOpenProbes caps calls let through while half-open; 0 means unlimited.
	HalfOpenProbes int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		ResetTimeout:     30 * time.Second,
		HalfOpenProbes:   1,
	}
}

// Breaker is a three-state breaker for one target.
type Breaker struct {
	mu          sync.Mutex
	cfg         Config
	state       State
	failures    int
	successes   int
	probes      int
	lastFailure time.Time
	clock       func() time.Time
	onChange    func(from, to State)
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithClock sets a custom clock for testing.
func WithClock(clock func() time.Time) BreakerOption {
	return func(b *Breaker) {
		b.clock = clock
	}
}

// OnStateChange registers fn to be called, under the breaker lock, on every
// transition.
func OnStateChange(fn func(from, to State)) BreakerOption {
	return func(b *Breaker) {
		b.onChange = fn
	}
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg Config, opts ...BreakerOption) *Breaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 1
	}
	b := &Breaker{cfg: cfg, state: Closed, clock: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.successes = 0
	b.probes = 0
	if to == Closed {
		b.failures = 0
	}
	if to == Open {
		b.lastFailure = b.clock()
	}
	if b.onChange != nil {
		b.onChange(from, to)
	}
}

// Allow reports whether a call may proceed. It returns ErrCircuitOpen while
// open and while half-open probes are exhausted.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		if b.clock().Sub(b.lastFailure) < b.cfg.ResetTimeout {
			return ErrCircuitOpen
		}
		b.transition(HalfOpen)
	}
	if b.state == HalfOpen {
		if b.cfg.HalfOpenProbes > 0 && b.probes >= b.cfg.HalfOpenProbes {
			return ErrCircuitOpen
		}
		b.probes++
	}
	return nil
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.successes++
		if b.probes > 0 {
			b.probes--
		}
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(Closed)
		}
	case Closed:
		b.failures = 0
	}
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(Open)
		}
	case HalfOpen:
		b.transition(Open)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counts returns the current failure and success counts.
func (b *Breaker) Counts() (failures, successes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures, b.successes
}

// RetryAfter returns how long until an open breaker lets a probe through.
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open {
		return 0
	}
	left := b.cfg.ResetTimeout - b.clock().Sub(b.lastFailure)
	if left < 0 {
		return 0
	}
	return left
}
