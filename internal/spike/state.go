package spike

import (
	"fmt"

	"github.com/misty-step/foxglove/internal/store"
)

// State captures the spike run lifecycle on one VM.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// Event is consumed by the state machine.
type Event string

const (
	EventLaunched  Event = "launched"
	EventCompleted Event = "completed"
	EventFailed    Event = "failed"
	EventTimedOut  Event = "timed_out"
	EventResumed   Event = "resumed"
)

var stateTransitions = map[State]map[Event]State{
	StatePending: {
		EventLaunched: StateRunning,
		EventFailed:   StateFailed,
	},
	StateRunning: {
		EventCompleted: StateCompleted,
		EventFailed:    StateFailed,
		EventTimedOut:  StateTimedOut,
	},
	StateCompleted: {
		EventResumed: StateRunning,
	},
	StateFailed:   {},
	StateTimedOut: {},
}

func advanceState(current State, event Event) (State, error) {
	nextByEvent, ok := stateTransitions[current]
	if !ok {
		return current, fmt.Errorf("unknown state %q", current)
	}
	next, ok := nextByEvent[event]
	if !ok {
		return current, fmt.Errorf("state %q does not allow event %q", current, event)
	}
	return next, nil
}

// stateOf maps a persisted spike status onto the state machine.
func stateOf(status store.SpikeStatus) State {
	switch status {
	case store.SpikeStatusRunning:
		return StateRunning
	case store.SpikeStatusCompleted:
		return StateCompleted
	case store.SpikeStatusFailed:
		return StateFailed
	default:
		return StatePending
	}
}
