// Package breaker implements the per-dependency circuit breaker that gates
// calls to the database, the cache, and the permission matrix. State is
// process-local and exported through the metrics sink.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/platformbuilds/authz-core/internal/monitoring"
)

// State is the breaker position. The metric gauge encodes it as
// closed=0, half-open=0.5, open=1.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// MetricValue returns the gauge encoding for the state.
func (s State) MetricValue() float64 {
	switch s {
	case StateHalfOpen:
		return 0.5
	case StateOpen:
		return 1
	default:
		return 0
	}
}

// ErrOpen is returned (or handed to the fallback) when a call is
// short-circuited because the breaker is open.
var ErrOpen = errors.New("breaker: circuit open")

// Operation is the guarded call.
type Operation func(ctx context.Context) (interface{}, error)

// Fallback replaces the operation's answer while the breaker is open. A nil
// fallback makes short-circuited calls fail fast with ErrOpen.
type Fallback func(ctx context.Context, err error) (interface{}, error)

// Settings configures one breaker. Zero fields fall back to the defaults
// below.
type Settings struct {
	Name                string
	FailureThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxAttempts int
	MonitoringPeriod    time.Duration
}

const (
	defaultFailureThreshold    = 5
	defaultResetTimeout        = 30 * time.Second
	defaultHalfOpenMaxAttempts = 3
	defaultMonitoringPeriod    = 60 * time.Second
)

// Breaker is a named CLOSED/OPEN/HALF_OPEN state machine.
type Breaker struct {
	name                string
	failureThreshold    int
	resetTimeout        time.Duration
	halfOpenMaxAttempts int
	monitoringPeriod    time.Duration

	mu                sync.Mutex
	state             State
	failures          int
	lastFailureAt     time.Time
	halfOpenAttempts  int
	halfOpenSuccesses int
	openedAt          time.Time
}

// Snapshot is a point-in-time view of a breaker for the monitoring surface.
type Snapshot struct {
	Name          string     `json:"name"`
	State         string     `json:"state"`
	Failures      int        `json:"failures"`
	LastFailureAt *time.Time `json:"lastFailureAt,omitempty"`
	OpenedAt      *time.Time `json:"openedAt,omitempty"`
}

// New builds a breaker from settings, applying defaults for zero values.
func New(s Settings) *Breaker {
	b := &Breaker{
		name:                s.Name,
		failureThreshold:    s.FailureThreshold,
		resetTimeout:        s.ResetTimeout,
		halfOpenMaxAttempts: s.HalfOpenMaxAttempts,
		monitoringPeriod:    s.MonitoringPeriod,
		state:               StateClosed,
	}
	if b.failureThreshold <= 0 {
		b.failureThreshold = defaultFailureThreshold
	}
	if b.resetTimeout <= 0 {
		b.resetTimeout = defaultResetTimeout
	}
	if b.halfOpenMaxAttempts <= 0 {
		b.halfOpenMaxAttempts = defaultHalfOpenMaxAttempts
	}
	if b.monitoringPeriod <= 0 {
		b.monitoringPeriod = defaultMonitoringPeriod
	}
	monitoring.SetCircuitBreakerState(b.name, StateClosed.MetricValue())
	return b
}

// Name returns the dependency this breaker guards.
func (b *Breaker) Name() string { return b.name }

// Execute runs op under the breaker. While the breaker is open, op is not
// invoked: the fallback answers instead, or ErrOpen is returned when no
// fallback is provided. Operation errors while closed bubble up unchanged.
func (b *Breaker) Execute(ctx context.Context, op Operation, fallback Fallback) (interface{}, error) {
	if !b.allow() {
		monitoring.RecordBreakerShortCircuit(b.name)
		if fallback != nil {
			return fallback(ctx, fmt.Errorf("%w: %s", ErrOpen, b.name))
		}
		return nil, fmt.Errorf("%w: %s", ErrOpen, b.name)
	}

	result, err := op(ctx)
	if err != nil {
		b.recordFailure()
		return nil, err
	}
	b.recordSuccess()
	return result, nil
}

// allow decides whether a call may proceed and performs the OPEN→HALF_OPEN
// transition when the reset timeout has elapsed.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.state {
	case StateClosed:
		// Quiet period since the last failure clears the window.
		if b.failures > 0 && now.Sub(b.lastFailureAt) > b.monitoringPeriod {
			b.failures = 0
		}
		return true
	case StateOpen:
		if now.Sub(b.lastFailureAt) >= b.resetTimeout {
			b.transition(StateHalfOpen)
			b.halfOpenAttempts = 1
			b.halfOpenSuccesses = 0
			return true
		}
		return false
	case StateHalfOpen:
		if b.halfOpenAttempts >= b.halfOpenMaxAttempts {
			return false
		}
		b.halfOpenAttempts++
		return true
	}
	return false
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.halfOpenMaxAttempts {
			b.failures = 0
			b.halfOpenAttempts = 0
			b.halfOpenSuccesses = 0
			b.transition(StateClosed)
		}
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	monitoring.RecordBreakerFailure(b.name)

	switch b.state {
	case StateHalfOpen:
		b.halfOpenAttempts = 0
		b.halfOpenSuccesses = 0
		b.lastFailureAt = now
		b.openedAt = now
		b.transition(StateOpen)
	case StateClosed:
		if b.failures > 0 && now.Sub(b.lastFailureAt) > b.monitoringPeriod {
			b.failures = 0
		}
		b.failures++
		b.lastFailureAt = now
		if b.failures >= b.failureThreshold {
			b.openedAt = now
			b.transition(StateOpen)
		}
	case StateOpen:
		b.lastFailureAt = now
	}
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	b.state = to
	monitoring.SetCircuitBreakerState(b.name, to.MetricValue())
}

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot captures the breaker for health reporting.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{
		Name:     b.name,
		State:    b.state.String(),
		Failures: b.failures,
	}
	if !b.lastFailureAt.IsZero() {
		t := b.lastFailureAt
		s.LastFailureAt = &t
	}
	if !b.openedAt.IsZero() && b.state != StateClosed {
		t := b.openedAt
		s.OpenedAt = &t
	}
	return s
}
