// Package checkpoint tracks per-target ingestion state. The state machine
// itself is a pure transition function so the lifecycle rules are
// unit-testable without a database; the Store implementations enforce the
// same rules atomically against their backend.
package checkpoint

import (
	"github.com/toolharbor/toolharbor/pkg/errors"
)

// State is a checkpoint lifecycle state.
type State string

const (
	// StatePending means the target is waiting to be claimed.
	StatePending State = "pending"

	// StateProcessing means a worker holds the claim.
	StateProcessing State = "processing"

	// StateCompleted is terminal success.
	StateCompleted State = "completed"

	// StateFailed is terminal after the retry budget is exhausted.
	StateFailed State = "failed"

	// StateSkipped is terminal intentional exclusion (e.g. malformed target).
	StateSkipped State = "skipped"
)

// States lists every state, in lifecycle order. Used by the status surface.
var States = []State{StatePending, StateProcessing, StateCompleted, StateFailed, StateSkipped}

// Terminal reports whether s is a terminal state.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateSkipped:
		return true
	}
	return false
}

// Event drives a checkpoint state transition.
type Event string

const (
	// EventClaim is a worker taking the target.
	EventClaim Event = "claim"

	// EventSucceed marks a completed ingestion.
	EventSucceed Event = "succeed"

	// EventRequeue returns a failed attempt to the queue (budget remains).
	EventRequeue Event = "requeue"

	// EventExhaust marks the retry budget spent.
	EventExhaust Event = "exhaust"

	// EventSkip excludes the target permanently.
	EventSkip Event = "skip"

	// EventRelease returns a claim without consuming an attempt
	// (shutdown/cancellation, or a stale claim being reclaimed).
	EventRelease Event = "release"

	// EventRefresh re-queues a completed target on an operator's refresh
	// schedule. This is the only way out of a terminal state.
	EventRefresh Event = "refresh"
)

// transitions is the complete legal (state, event) → state table.
var transitions = map[State]map[Event]State{
	StatePending: {
		EventClaim: StateProcessing,
		EventSkip:  StateSkipped,
	},
	StateProcessing: {
		EventSucceed: StateCompleted,
		EventRequeue: StatePending,
		EventExhaust: StateFailed,
		EventSkip:    StateSkipped,
		EventRelease: StatePending,
	},
	StateCompleted: {
		EventRefresh: StatePending,
	},
	StateFailed: {
		EventRefresh: StatePending,
	},
	StateSkipped: {},
}

// Transition applies event to state and returns the next state.
// Illegal transitions return an error and leave the caller's state
// untouched; in particular no event other than an explicit refresh can
// move a terminal checkpoint, so a stale retry can never overwrite a
// completed or skipped record.
func Transition(state State, event Event) (State, error) {
	next, ok := transitions[state][event]
	if !ok {
		if state == StateProcessing && event == EventClaim {
			return state, errors.New(errors.ErrCodeAlreadyProcessing, "target is being processed")
		}
		return state, errors.New(errors.ErrCodeInternal, "illegal transition %s + %s", state, event)
	}
	return next, nil
}
