package session

import (
	"errors"
	"fmt"
)

// State is a node in the session lifecycle graph.
type State string

const (
	StateInitializing State = "INITIALIZING"
	StateGreeting     State = "GREETING"
	StateQuestioning  State = "QUESTIONING"
	StateEvaluating   State = "EVALUATING"
	StateConcluding   State = "CONCLUDING"
	StateCompleted    State = "COMPLETED"
	StateError        State = "ERROR"
)

// ErrInvalidTransition is returned when a transition is not in the graph.
var ErrInvalidTransition = errors.New("invalid state transition")

var transitions = map[State][]State{
	StateInitializing: {StateGreeting},
	StateGreeting:     {StateQuestioning, StateConcluding},
	StateQuestioning:  {StateEvaluating, StateConcluding},
	StateEvaluating:   {StateQuestioning, StateConcluding},
	StateConcluding:   {StateCompleted},
}

// Terminal reports whether no further mutation is allowed in s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateError
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
// ERROR is reachable from every non-terminal state.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateError {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
