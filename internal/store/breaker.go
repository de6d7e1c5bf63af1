package store

import (
	"sync"
	"sync/atomic"
	"time"
)

// BreakerState is the state of the remote store breaker.
type BreakerState int32

const (
	// BreakerUsable means the remote store is consulted.
	BreakerUsable BreakerState = iota

	// BreakerTripped means the remote store is skipped for the rest of the process lifetime.
	BreakerTripped
)

// String returns the state name.
func (s BreakerState) String() string {
	if s == BreakerTripped {
		return "TRIPPED"
	}
	return "USABLE"
}

// Breaker is a one-way switch. USABLE -> TRIPPED is the only transition
// and TRIPPED is terminal. Each FallbackingStore owns its own Breaker.
type Breaker struct {
	state atomic.Int32

	mu        sync.Mutex
	reason    string
	trippedAt time.Time
}

// NewBreaker creates a breaker in the USABLE state.
func NewBreaker() *Breaker {
	return &Breaker{}
}

// Usable reports whether the remote store may be consulted.
func (b *Breaker) Usable() bool {
	return BreakerState(b.state.Load()) == BreakerUsable
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	return BreakerState(b.state.Load())
}

// Trip moves the breaker to TRIPPED. It returns true only for the call that
// performed the transition; later calls keep the first reason.
func (b *Breaker) Trip(reason string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.State() == BreakerTripped {
		return false
	}
	b.reason = reason
	b.trippedAt = time.Now().UTC()
	b.state.Store(int32(BreakerTripped))
	return true
}

// Reason returns why the breaker tripped, or "" while usable.
func (b *Breaker) Reason() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reason
}

// TrippedAt returns the trip time, or the zero time while usable.
func (b *Breaker) TrippedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trippedAt
}

// TripDecision is the outcome of evaluating a remote error.
type TripDecision int

const (
	// DecisionContinue keeps the breaker usable; the next call retries remote.
	DecisionContinue TripDecision = iota

	// DecisionTrip permanently disables the remote store.
	DecisionTrip
)

// TripRule classifies a remote error. It must be a pure function.
type TripRule func(err error) TripDecision

// DefaultTripRule trips only when the backing collection does not exist.
// Network, permission and unknown errors are treated as transient.
func DefaultTripRule(err error) TripDecision {
	if err == nil {
		return DecisionContinue
	}
	if CodeOf(err) == CodeNotProvisioned {
		return DecisionTrip
	}
	return DecisionContinue
}
