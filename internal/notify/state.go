// Package notify defines the notification domain: the delivery state
// machine, the persisted row types, and the tri-state optional used for
// transition parameters.
package notify

import (
	"errors"
	"fmt"
)

// State is a notification delivery state. The set is closed; the schema
// enforces it with a CHECK constraint and ParseState rejects anything
// outside it.
type State string

const (
	StateQueued       State = "queued"
	StateDelivering   State = "delivering"
	StateDelivered    State = "delivered"
	StateSeen         State = "seen"
	StateAccepted     State = "accepted"
	StateInProgress   State = "in_progress"
	StateCompleted    State = "completed"
	StateDeclined     State = "declined"
	StateDeferredBusy State = "deferred_busy"
	StateFailed       State = "failed"
	StateTimeout      State = "timeout"
	StateDeadLetter   State = "dead_letter"
	StateReassigned   State = "reassigned"
)

// AllStates lists every legal state.
var AllStates = []State{
	StateQueued,
	StateDelivering,
	StateDelivered,
	StateSeen,
	StateAccepted,
	StateInProgress,
	StateCompleted,
	StateDeclined,
	StateDeferredBusy,
	StateFailed,
	StateTimeout,
	StateDeadLetter,
	StateReassigned,
}

// Sentinel errors for the transition API. Callers distinguish outcomes
// with errors.Is rather than inspecting strings.
var (
	// ErrNotFound means no notification exists with the given id.
	ErrNotFound = errors.New("notification not found")

	// ErrInvalidTransition means the requested from→to edge is not in the
	// transition table and force was not set. Callers may treat it as a
	// bug or as a benign claim race.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrInvalidState means the state name itself is not in the closed set.
	ErrInvalidState = errors.New("invalid state")
)

// transitions is the legal-edge table. A transition from a state to
// itself is always a silent no-op and is not listed here.
var transitions = map[State][]State{
	StateQueued:       {StateDelivering, StateReassigned, StateTimeout},
	StateDelivering:   {StateDelivered, StateDeferredBusy, StateFailed, StateTimeout, StateDeadLetter},
	StateDelivered:    {StateSeen, StateAccepted, StateDeclined, StateDeferredBusy, StateTimeout},
	StateSeen:         {StateAccepted, StateDeclined, StateDeferredBusy, StateTimeout},
	StateAccepted:     {StateInProgress, StateCompleted, StateDeferredBusy, StateTimeout},
	StateInProgress:   {StateCompleted, StateDeferredBusy, StateTimeout},
	StateDeferredBusy: {StateQueued, StateDelivering, StateAccepted, StateInProgress, StateTimeout},
	StateFailed:       {StateQueued, StateDelivering, StateDeadLetter, StateTimeout},
	StateTimeout:      {StateReassigned},
	StateReassigned:   {StateQueued, StateDelivering},
	StateCompleted:    nil,
	StateDeclined:     nil,
	StateDeadLetter:   nil,
}

// ParseState validates a state name.
func ParseState(s string) (State, error) {
	st := State(s)
	if _, ok := transitions[st]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidState, s)
	}
	return st, nil
}

// CanTransition reports whether from→to is a legal edge. Self-transitions
// are not edges; the store treats them as no-ops before consulting this.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state accepts no worker-driven transitions.
// timeout is terminal for the attempt; the escalation path resurrects it
// through forced reassigned→queued.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateDeclined, StateTimeout, StateDeadLetter:
		return true
	}
	return false
}

// Retryable reports whether the claim query considers the state
// work-ready.
func (s State) Retryable() bool {
	switch s {
	case StateQueued, StateFailed, StateDeferredBusy:
		return true
	}
	return false
}

// TimestampColumn returns the notifications column recording first entry
// into this state.
func (s State) TimestampColumn() string {
	return string(s) + "_at"
}
