// Package circuit guards remote content backends with a circuit breaker so a failing
// object store is reported as BACKEND_UNAVAILABLE instead of stalling every operation.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/objectfs/vaultstore/pkg/errors"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - requests pass through
	StateClosed State = iota
	// StateOpen - requests are rejected until Timeout elapses
	StateOpen
	// StateHalfOpen - a limited number of probe requests decide whether to close again
	StateHalfOpen
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config contains circuit breaker configuration
type Config struct {
	// Probe requests allowed while half-open
	MaxRequests uint32 `yaml:"max_requests"`

	// Period after which closed-state counts are cleared
	Interval time.Duration `yaml:"interval"`

	// Period of the open state before probing
	Timeout time.Duration `yaml:"timeout"`

	ReadyToTrip   func(counts Counts) bool                  `yaml:"-"`
	OnStateChange func(name string, from State, to State) `yaml:"-"`

	// IsSuccessful decides whether err counts against the backend. By default nil and
	// NOT_FOUND are successes: a missing object says nothing about backend health.
	IsSuccessful func(err error) bool `yaml:"-"`

	Now func() time.Time `yaml:"-"`
}

// Counts holds the numbers of requests and their successes/failures
type Counts struct {
	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"total_successes"`
	TotalFailures        uint32 `json:"total_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	name   string
	config Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, config Config) *Breaker {
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.ReadyToTrip == nil {
		config.ReadyToTrip = defaultReadyToTrip
	}
	if config.IsSuccessful == nil {
		config.IsSuccessful = defaultIsSuccessful
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
		expiry: config.Now().Add(config.Interval),
	}
}

// defaultReadyToTrip trips after five consecutive failures, or when at least half of
// twenty or more requests failed.
func defaultReadyToTrip(counts Counts) bool {
	if counts.ConsecutiveFailures >= 5 {
		return true
	}
	return counts.Requests >= 20 &&
		float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
}

func defaultIsSuccessful(err error) bool {
	return err == nil || errors.IsCode(err, errors.ErrCodeNotFound)
}

// Execute runs fn if the breaker admits the request. A rejected request fails with
// BACKEND_UNAVAILABLE without calling fn.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	b.afterRequest(err)
	return err
}

func (b *Breaker) beforeRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.currentState(b.config.Now())

	if state == StateOpen {
		return b.unavailable("circuit breaker is open")
	}
	if state == StateHalfOpen && b.counts.Requests >= b.config.MaxRequests {
		return b.unavailable("too many requests in half-open state")
	}

	b.counts.Requests++
	return nil
}

func (b *Breaker) afterRequest(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.config.Now()
	state := b.currentState(now)

	if b.config.IsSuccessful(err) {
		b.counts.onSuccess()
		if state == StateHalfOpen {
			b.setState(StateClosed, now)
		}
		return
	}

	b.counts.onFailure()
	switch state {
	case StateClosed:
		if b.config.ReadyToTrip(b.counts) {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

func (b *Breaker) currentState(now time.Time) State {
	switch b.state {
	case StateClosed:
		if b.expiry.Before(now) {
			b.counts = Counts{}
			b.expiry = now.Add(b.config.Interval)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.setState(StateHalfOpen, now)
		}
	}
	return b.state
}

func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}
	prev := b.state

	b.state = state
	b.counts = Counts{}

	switch state {
	case StateClosed:
		b.expiry = now.Add(b.config.Interval)
	case StateOpen:
		b.expiry = now.Add(b.config.Timeout)
	case StateHalfOpen:
		b.expiry = time.Time{}
	}

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, prev, state)
	}
}

func (b *Breaker) unavailable(msg string) error {
	return errors.New(errors.ErrCodeBackendUnavailable, msg).
		WithComponent("circuit").
		WithContext("breaker", b.name)
}

// State returns the current state of the breaker
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState(b.config.Now())
}

// Counts returns a copy of the current counts
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset closes the breaker and clears its counts.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed, b.config.Now())
	b.counts = Counts{}
}

// Name returns the name of the breaker
func (b *Breaker) Name() string {
	return b.name
}

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}
