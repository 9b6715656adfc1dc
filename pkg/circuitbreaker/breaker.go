// Package circuitbreaker tracks consecutive delivery failures per destination
// and temporarily stops sending to destinations that keep failing.
//
// States:
//   - Closed: deliveries allowed
//   - Open: too many consecutive failures, deliveries blocked
//   - HalfOpen: cooldown elapsed, one probe delivery allowed
package circuitbreaker

import (
	"sync"
	"time"
)

// State of a breaker.
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

// Config for a breaker. Zero values use defaults.
type Config struct {
	FailureThreshold int           // consecutive failures before opening (default: 5)
	ReopenAfter      time.Duration // cooldown before a half-open probe (default: 30s)
}

// Breaker guards a single destination.
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	threshold   int
	cooldown    time.Duration
}

// New creates a breaker in the closed state.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ReopenAfter <= 0 {
		cfg.ReopenAfter = 30 * time.Second
	}
	return &Breaker{
		state:     Closed,
		threshold: cfg.FailureThreshold,
		cooldown:  cfg.ReopenAfter,
	}
}

// Allow reports whether a delivery should be attempted now. An open breaker
// whose cooldown has elapsed moves to half-open and lets one probe through.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if time.Since(b.lastFailure) > b.cooldown {
			b.state = HalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = Closed
}

// RecordFailure counts a failed delivery. A failed half-open probe reopens the
// breaker immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	if b.state == HalfOpen || b.failures >= b.threshold {
		b.state = Open
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
