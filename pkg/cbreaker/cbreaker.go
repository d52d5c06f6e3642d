// Package cbreaker implements a closed/open/half-open circuit breaker
// wrapping any fallible operation — Storage's Kafka commit-notification
// publish uses one so a persistently failing downstream isn't called on
// every single publish.
package cbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Execute while the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker's lifecycle state.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Config tunes the trip/reset thresholds.
type Config struct {
	MaxFailures  int64
	ResetTimeout time.Duration
}

// Breaker is a single circuit breaker instance; safe for concurrent use.
type Breaker struct {
	cfg Config

	mu            sync.Mutex
	state         State
	failures      int64
	successes     int64
	requests      int64
	lastFailure   time.Time
	lastSuccess   time.Time
	nextRetryTime time.Time
}

// New builds a Breaker, defaulting MaxFailures to 5 and ResetTimeout to
// 30s when unset.
func New(cfg Config) *Breaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout == 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{cfg: cfg, state: Closed}
}

// Execute runs fn through the breaker. While open, it fails fast with
// ErrOpen until ResetTimeout has elapsed, then allows one half-open
// trial call; a successful trial closes the breaker, a failed one
// reopens it.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	b.requests++
	if b.state == Open {
		if time.Now().Before(b.nextRetryTime) {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = HalfOpen
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		b.lastFailure = time.Now()
		if b.failures >= b.cfg.MaxFailures {
			b.state = Open
			b.nextRetryTime = time.Now().Add(b.cfg.ResetTimeout)
		}
		return err
	}

	b.successes++
	b.lastSuccess = time.Now()
	if b.state == HalfOpen {
		b.state = Closed
		b.failures = 0
	}
	return nil
}

// State reports the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.nextRetryTime = time.Time{}
}

// Stats is a point-in-time snapshot for status/metrics reporting.
type Stats struct {
	State         State
	Failures      int64
	Successes     int64
	Requests      int64
	LastFailure   time.Time
	LastSuccess   time.Time
	NextRetryTime time.Time
}

// Stats returns a snapshot of the breaker's counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:         b.state,
		Failures:      b.failures,
		Successes:     b.successes,
		Requests:      b.requests,
		LastFailure:   b.lastFailure,
		LastSuccess:   b.lastSuccess,
		NextRetryTime: b.nextRetryTime,
	}
}
