// Package resilience protects the pipeline's model calls from cascading
// failures. [Breaker] is a three-state circuit breaker (closed → open →
// half-open); [FallbackGroup] composes multiple providers with per-entry
// breakers so a failing primary model backend is bypassed in favour of
// healthy fallbacks.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Execute] while the breaker is open
// and the cool-off period has not yet elapsed.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is a [Breaker]'s operating mode.
type State int

const (
	// StateClosed forwards all calls.
	StateClosed State = iota

	// StateOpen rejects calls immediately with [ErrCircuitOpen] until the
	// cool-off period elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure re-opens it.
	StateHalfOpen
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

// BreakerConfig holds tuning knobs for a [Breaker].
type BreakerConfig struct {
	// Name labels the breaker in log messages.
	Name string

	// MaxFailures is the number of consecutive failures that trips the
	// breaker. Default: 5.
	MaxFailures int

	// CoolOff is how long the breaker stays open before probing again.
	// Default: 30s.
	CoolOff time.Duration

	// ProbeMax is the probe budget in the half-open state. Default: 3.
	ProbeMax int

	// OnStateChange, when set, is invoked after every state transition.
	OnStateChange func(name string, from, to State)
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	name          string
	maxFailures   int
	coolOff       time.Duration
	probeMax      int
	onStateChange func(name string, from, to State)

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probeCalls  int
	probeFails  int
}

// NewBreaker creates a [Breaker], replacing zero-value config fields with
// defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.CoolOff <= 0 {
		cfg.CoolOff = 30 * time.Second
	}
	if cfg.ProbeMax <= 0 {
		cfg.ProbeMax = 3
	}
	return &Breaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		coolOff:       cfg.CoolOff,
		probeMax:      cfg.ProbeMax,
		onStateChange: cfg.OnStateChange,
		state:         StateClosed,
	}
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}

// Execute runs fn if the breaker allows it. Open breakers reject with
// [ErrCircuitOpen]; half-open breakers admit calls within the probe budget.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) < b.coolOff {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.probeCalls = 0
		b.probeFails = 0
		slog.Info("circuit probing", "breaker", b.name)

	case StateHalfOpen:
		if b.probeCalls >= b.probeMax {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
	}

	probing := b.state == StateHalfOpen
	if probing {
		b.probeCalls++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.fail(probing)
	} else {
		b.succeed(probing)
	}
	return err
}

// fail must be called with b.mu held.
func (b *Breaker) fail(probing bool) {
	b.lastFailure = time.Now()

	if probing {
		b.probeFails++
		b.failures = b.maxFailures
		b.transition(StateOpen)
		slog.Warn("circuit re-opened by failed probe", "breaker", b.name)
		return
	}

	b.failures++
	if b.failures >= b.maxFailures {
		b.transition(StateOpen)
		slog.Warn("circuit opened", "breaker", b.name, "consecutive_failures", b.failures)
	}
}

// succeed must be called with b.mu held.
func (b *Breaker) succeed(probing bool) {
	if !probing {
		b.failures = 0
		return
	}
	if b.probeCalls-b.probeFails >= b.probeMax {
		b.transition(StateClosed)
		b.failures = 0
		b.probeCalls = 0
		b.probeFails = 0
		slog.Info("circuit closed after successful probes", "breaker", b.name)
	}
}

// State returns the breaker's current state. An open breaker whose cool-off
// has elapsed reports half-open; the actual transition happens on the next
// [Breaker.Execute].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.lastFailure) >= b.coolOff {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
	b.failures = 0
	b.probeCalls = 0
	b.probeFails = 0
}
