// Package circuitbreaker guards calls to external dependencies.
//
// The breaker is an immutable State value plus pure transition functions.
// Breaker wraps one State per dependency for concurrent use.
package circuitbreaker

import (
	"time"
)

// Phase is the breaker position.
type Phase int

const (
	Closed Phase = iota
	Open
	HalfOpen
)

func (p Phase) String() string {
	switch p {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Policy holds the tuning constants.
type Policy struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// DefaultPolicy opens after 3 consecutive failures and cools down for 60s.
var DefaultPolicy = Policy{FailureThreshold: 3, Cooldown: 60 * time.Second}

// State is one dependency's breaker state. The zero value is CLOSED.
type State struct {
	Phase     Phase
	Failures  int
	OpenUntil time.Time
}

// RecordFailure counts a failed call. Reaching the threshold opens the breaker;
// a failed half-open trial reopens it for a full cooldown.
func RecordFailure(s State, p Policy, now time.Time) State {
	next := s
	next.Failures++

	switch s.Phase {
	case HalfOpen:
		next.Phase = Open
		next.OpenUntil = now.Add(p.Cooldown)
	case Closed:
		if next.Failures >= p.FailureThreshold {
			next.Phase = Open
			next.OpenUntil = now.Add(p.Cooldown)
		}
	}

	return next
}

// RecordSuccess closes the breaker and clears the failure count.
func RecordSuccess(State) State {
	return State{Phase: Closed}
}

// CanCall reports whether a call may be attempted at now.
// An OPEN breaker past its cooldown may be called; NextState moves it to HALF_OPEN.
func CanCall(s State, now time.Time) bool {
	if s.Phase != Open {
		return true
	}
	return !now.Before(s.OpenUntil)
}

// NextState moves an expired OPEN breaker to HALF_OPEN.
func NextState(s State, now time.Time) State {
	if s.Phase == Open && !now.Before(s.OpenUntil) {
		next := s
		next.Phase = HalfOpen
		return next
	}
	return s
}
