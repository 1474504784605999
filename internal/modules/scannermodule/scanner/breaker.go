package scanner

import (
	"errors"
	"sync"
	"time"
)

const (
	// DefaultFailureThreshold is how many consecutive tick failures open
	// the circuit.
	DefaultFailureThreshold = 3

	// DefaultFailureTTL is how long a failure streak stays relevant. A
	// failure older than this no longer counts toward the threshold.
	DefaultFailureTTL = 30 * time.Minute
)

// ErrCircuitOpen is returned when the scheduler refuses to run because too
// many consecutive ticks failed. A manual scheduler start clears it.
var ErrCircuitOpen = errors.New("scanner circuit breaker open")

// FailureCounter counts consecutive failures with a TTL. A streak that goes
// quiet for longer than the TTL starts over from zero, so a transient
// problem last month cannot combine with one today.
type FailureCounter struct {
	mu      sync.Mutex
	count   int
	lastAt  time.Time
	ttl     time.Duration
	nowFunc func() time.Time
}

// NewFailureCounter creates a counter with the given TTL. A zero or negative
// TTL falls back to DefaultFailureTTL.
func NewFailureCounter(ttl time.Duration) *FailureCounter {
	if ttl <= 0 {
		ttl = DefaultFailureTTL
	}
	return &FailureCounter{ttl: ttl, nowFunc: time.Now}
}

// Increment records one failure and returns the current streak length.
func (f *FailureCounter) Increment() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.nowFunc()
	if f.count > 0 && now.Sub(f.lastAt) > f.ttl {
		f.count = 0
	}
	f.count++
	f.lastAt = now
	return f.count
}

// Reset clears the streak.
func (f *FailureCounter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count = 0
}

// Count returns the current streak length, honoring the TTL.
func (f *FailureCounter) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.count > 0 && f.nowFunc().Sub(f.lastAt) > f.ttl {
		f.count = 0
	}
	return f.count
}

// CircuitBreaker trips after a threshold of consecutive failures and stays
// open until explicitly cleared.
type CircuitBreaker struct {
	mu        sync.Mutex
	counter   *FailureCounter
	threshold int
	open      bool
}

// NewCircuitBreaker creates a breaker. Threshold values below one fall back
// to DefaultFailureThreshold.
func NewCircuitBreaker(threshold int, ttl time.Duration) *CircuitBreaker {
	if threshold < 1 {
		threshold = DefaultFailureThreshold
	}
	return &CircuitBreaker{
		counter:   NewFailureCounter(ttl),
		threshold: threshold,
	}
}

// RecordFailure counts one failure. It returns true exactly once, on the
// call that trips the breaker; the streak resets at that moment so a later
// manual restart begins with a clean slate.
func (cb *CircuitBreaker) RecordFailure() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.open {
		return false
	}
	if cb.counter.Increment() < cb.threshold {
		return false
	}

	cb.counter.Reset()
	cb.open = true
	return true
}

// RecordSuccess clears the failure streak.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.counter.Reset()
}

// Clear closes the circuit again. Called on manual scheduler restarts.
func (cb *CircuitBreaker) Clear() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.open = false
	cb.counter.Reset()
}

// Open reports whether the breaker has tripped.
func (cb *CircuitBreaker) Open() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.open
}

// Failures returns the current failure streak.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counter.Count()
}

// Threshold returns the configured trip threshold.
func (cb *CircuitBreaker) Threshold() int {
	return cb.threshold
}
