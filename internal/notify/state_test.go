package notify

import (
	"errors"
	"testing"
)

// legalEdges mirrors the transition table from the package under test so
// the exhaustive check below catches accidental edits in either place.
var legalEdges = map[State][]State{
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
}

func TestCanTransitionExhaustive(t *testing.T) {
	allowed := make(map[State]map[State]bool)
	for from, tos := range legalEdges {
		allowed[from] = make(map[State]bool)
		for _, to := range tos {
			allowed[from][to] = true
		}
	}

	for _, from := range AllStates {
		for _, to := range AllStates {
			want := allowed[from][to]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalStatesHaveNoEdges(t *testing.T) {
	for _, s := range []State{StateCompleted, StateDeclined, StateDeadLetter} {
		for _, to := range AllStates {
			if CanTransition(s, to) {
				t.Errorf("terminal state %s has edge to %s", s, to)
			}
		}
	}
}

func TestTerminal(t *testing.T) {
	terminal := map[State]bool{
		StateCompleted:  true,
		StateDeclined:   true,
		StateTimeout:    true,
		StateDeadLetter: true,
	}
	for _, s := range AllStates {
		if got := s.Terminal(); got != terminal[s] {
			t.Errorf("%s.Terminal() = %v, want %v", s, got, terminal[s])
		}
	}
}

func TestRetryable(t *testing.T) {
	retryable := map[State]bool{
		StateQueued:       true,
		StateFailed:       true,
		StateDeferredBusy: true,
	}
	for _, s := range AllStates {
		if got := s.Retryable(); got != retryable[s] {
			t.Errorf("%s.Retryable() = %v, want %v", s, got, retryable[s])
		}
	}
}

func TestParseState(t *testing.T) {
	for _, s := range AllStates {
		got, err := ParseState(string(s))
		if err != nil {
			t.Errorf("ParseState(%q) failed: %v", s, err)
		}
		if got != s {
			t.Errorf("ParseState(%q) = %q", s, got)
		}
	}

	for _, bad := range []string{"", "QUEUED", "pending", "dead-letter"} {
		_, err := ParseState(bad)
		if !errors.Is(err, ErrInvalidState) {
			t.Errorf("ParseState(%q) = %v, want ErrInvalidState", bad, err)
		}
	}
}

func TestTimestampColumn(t *testing.T) {
	if got := StateInProgress.TimestampColumn(); got != "in_progress_at" {
		t.Errorf("TimestampColumn = %q, want in_progress_at", got)
	}
	if got := StateDeadLetter.TimestampColumn(); got != "dead_letter_at" {
		t.Errorf("TimestampColumn = %q, want dead_letter_at", got)
	}
}

func TestOptional(t *testing.T) {
	var absent Optional[int64]
	if absent.Present() || absent.Null() {
		t.Error("zero Optional must be absent")
	}

	v := Set[int64](42)
	if !v.Present() || v.Null() {
		t.Error("Set Optional must be present and non-null")
	}
	if v.Arg() != int64(42) {
		t.Errorf("Arg() = %v, want 42", v.Arg())
	}

	n := Clear[int64]()
	if !n.Present() || !n.Null() {
		t.Error("Clear Optional must be present and null")
	}
	if n.Arg() != nil {
		t.Errorf("Arg() = %v, want nil", n.Arg())
	}
}
