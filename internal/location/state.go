// Package location holds the shared relay state: the admin-controlled sofa
// position and the last known position of every delivery reporter.
package location

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Position is an opaque coordinate payload. The relay never inspects it and
// forwards the client's bytes verbatim.
type Position = json.RawMessage

// IDPolicy selects how reporter identifiers are handed out.
type IDPolicy int

const (
	// CountPolicy assigns len(scooters)+1. Identifiers are reused once
	// reporters disconnect, and two connections that have not reported yet
	// receive the same identifier.
	CountPolicy IDPolicy = iota
	// MonotonicPolicy assigns identifiers from a counter that never goes back.
	MonotonicPolicy
)

// String returns the configuration name of the policy.
func (p IDPolicy) String() string {
	switch p {
	case MonotonicPolicy:
		return "monotonic"
	default:
		return "count"
	}
}

// ParseIDPolicy converts a configuration value into an IDPolicy.
func ParseIDPolicy(value string) (IDPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "count":
		return CountPolicy, nil
	case "monotonic":
		return MonotonicPolicy, nil
	default:
		return CountPolicy, fmt.Errorf("unknown id policy %q", value)
	}
}

// Snapshot is a copy of State suitable for serialization.
type Snapshot struct {
	Sofa     Position         `json:"sofa"`
	Scooters map[int]Position `json:"scooters"`
}

// State is the relay's shared state. It is not safe for concurrent use; the
// hub goroutine owns it.
type State struct {
	policy   IDPolicy
	next     int
	sofa     Position
	scooters map[int]Position
}

// NewState returns an empty State using the given identifier policy.
func NewState(policy IDPolicy) *State {
	return &State{
		policy:   policy,
		scooters: make(map[int]Position),
	}
}

// Policy reports the identifier policy in use.
func (s *State) Policy() IDPolicy {
	return s.policy
}

// AssignID returns the identifier for a newly connected reporter.
func (s *State) AssignID() int {
	if s.policy == MonotonicPolicy {
		s.next++
		return s.next
	}
	return len(s.scooters) + 1
}

// SetSofa replaces the reference position.
func (s *State) SetSofa(p Position) {
	s.sofa = clone(p)
}

// Sofa returns the reference position, or nil if it was never set.
func (s *State) Sofa() Position {
	return clone(s.sofa)
}

// SetScooter records the last known position of reporter id.
func (s *State) SetScooter(id int, p Position) {
	s.scooters[id] = clone(p)
}

// Scooter returns the last known position of reporter id.
func (s *State) Scooter(id int) (Position, bool) {
	p, ok := s.scooters[id]
	return clone(p), ok
}

// RemoveScooter deletes reporter id and reports whether it had an entry.
func (s *State) RemoveScooter(id int) bool {
	if _, ok := s.scooters[id]; !ok {
		return false
	}
	delete(s.scooters, id)
	return true
}

// ScooterCount returns the number of reporters with a known position.
func (s *State) ScooterCount() int {
	return len(s.scooters)
}

// Snapshot returns a deep copy of the current state.
func (s *State) Snapshot() Snapshot {
	scooters := make(map[int]Position, len(s.scooters))
	for id, p := range s.scooters {
		scooters[id] = clone(p)
	}
	return Snapshot{
		Sofa:     clone(s.sofa),
		Scooters: scooters,
	}
}

func clone(p Position) Position {
	if p == nil {
		return nil
	}
	return append(Position(nil), p...)
}
