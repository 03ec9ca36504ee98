// Package breaker implements a three-state circuit breaker protecting
// calls to a single remote dependency (an embedder or one generation
// provider). State transitions follow closed -> open -> half-open -> closed,
// with exactly one probe allowed in the half-open state.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kraklabs/tonebase-ask/internal/clock"
)

// ErrOpen is returned by Call in O(1) when the breaker is open (or when a
// half-open probe is already in flight).
var ErrOpen = errors.New("breaker: open")

// State is the breaker's current gate state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures a Breaker. Zero values fall back to the spec defaults.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// closed -> open. Default 3.
	FailureThreshold int
	// Cooldown is how long the breaker stays open before allowing a
	// half-open probe. Default 30s.
	Cooldown time.Duration
	Clock    clock.Clock
}

// Breaker is a single-dependency circuit breaker. Safe for concurrent use.
type Breaker struct {
	mu               sync.Mutex
	state            State
	consecutiveFails int
	openedAt         time.Time
	probing          bool

	failureThreshold int
	cooldown         time.Duration
	clock            clock.Clock
}

// New creates a Breaker with the given config, applying spec defaults for
// zero-valued fields.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	return &Breaker{
		state:            Closed,
		failureThreshold: cfg.FailureThreshold,
		cooldown:         cfg.Cooldown,
		clock:            cfg.Clock,
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentStateLocked()
}

// currentStateLocked resolves an open breaker whose cooldown has elapsed
// into half-open, without taking a probe slot. Caller must hold mu.
func (b *Breaker) currentStateLocked() State {
	if b.state == Open && b.clock.Now().Sub(b.openedAt) >= b.cooldown {
		return HalfOpen
	}
	return b.state
}

// IsFailure is supplied by the caller to classify an operation's outcome.
// The default failure classifier treats any non-nil error as a failure;
// callers that need to exclude 4xx-equivalent errors should wrap Call.
type IsFailure func(err error) bool

// DefaultIsFailure treats any error as a breaker failure.
func DefaultIsFailure(err error) bool { return err != nil }

// Call executes op through the breaker. If the breaker is open (and its
// cooldown has not elapsed) or a half-open probe is already in flight,
// Call returns ErrOpen without invoking op. Otherwise op runs and its
// result is classified by isFailure to drive the state machine.
func (b *Breaker) Call(ctx context.Context, isFailure IsFailure, op func(ctx context.Context) error) error {
	if isFailure == nil {
		isFailure = DefaultIsFailure
	}

	b.mu.Lock()
	state := b.currentStateLocked()
	switch state {
	case Open:
		b.mu.Unlock()
		return ErrOpen
	case HalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrOpen
		}
		b.probing = true
		b.state = HalfOpen
	}
	b.mu.Unlock()

	err := op(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	if state == HalfOpen {
		b.probing = false
	}

	if isFailure(err) {
		b.recordFailureLocked()
		return err
	}
	b.recordSuccessLocked()
	return err
}

func (b *Breaker) recordFailureLocked() {
	if b.state == HalfOpen {
		// Probe failed: back to open, cooldown reset.
		b.state = Open
		b.openedAt = b.clock.Now()
		b.consecutiveFails = b.failureThreshold
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.failureThreshold {
		b.state = Open
		b.openedAt = b.clock.Now()
	}
}

func (b *Breaker) recordSuccessLocked() {
	b.state = Closed
	b.consecutiveFails = 0
}
