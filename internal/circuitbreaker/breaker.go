// Package circuitbreaker stops hammering a data source that keeps
// failing. Each data source has its own closed/open/half-open state:
// consecutive failures past the threshold open the circuit, the cooldown
// lets one probe through, and a success closes it again.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

type sourceState struct {
	state               state
	consecutiveFailures int
	openedAt            time.Time
}

type CircuitBreaker struct {
	mu        sync.Mutex
	states    map[string]*sourceState
	threshold int
	cooldown  time.Duration
}

func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		states:    make(map[string]*sourceState),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Allow reports whether a call to the data source may proceed.
func (cb *CircuitBreaker) Allow(dataSource string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[dataSource]
	if !ok {
		return nil
	}

	switch s.state {
	case stateClosed:
		return nil
	case stateOpen:
		if time.Since(s.openedAt) >= cb.cooldown {
			s.state = stateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case stateHalfOpen:
		// One probe is already in flight.
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess(dataSource string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[dataSource]
	if !ok {
		return
	}
	s.state = stateClosed
	s.consecutiveFailures = 0
}

func (cb *CircuitBreaker) RecordFailure(dataSource string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[dataSource]
	if !ok {
		s = &sourceState{}
		cb.states[dataSource] = s
	}

	s.consecutiveFailures++
	if s.consecutiveFailures >= cb.threshold {
		s.state = stateOpen
		s.openedAt = time.Now()
	}
}
