package project

import (
	"time"
)

// State represents where a project is in its lifecycle.
type State int

const (
	StateNew State = iota
	StatePlanning
	StateCoding
	StateTesting
	StateDebugging
	StateReady
	StateDeployed
	StateFailed
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StatePlanning:
		return "planning"
	case StateCoding:
		return "coding"
	case StateTesting:
		return "testing"
	case StateDebugging:
		return "debugging"
	case StateReady:
		return "ready"
	case StateDeployed:
		return "deployed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether the state is final. Terminal projects accept no
// further transitions and their tasks are never dispatched again.
func (s State) Terminal() bool {
	return s == StateReady || s == StateDeployed || s == StateFailed
}

// legal enumerates permitted transitions. Any state may move to Failed;
// everything else must follow the lifecycle.
var legal = map[State][]State{
	StateNew:       {StatePlanning},
	StatePlanning:  {StateCoding, StateTesting, StateReady},
	StateCoding:    {StateTesting},
	StateTesting:   {StateDebugging, StateReady, StateDeployed},
	StateDebugging: {StateTesting},
}

// CanTransition reports whether moving from to next is a legal lifecycle
// step. Transitions out of terminal states are never legal.
func CanTransition(from, next State) bool {
	if from.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	for _, s := range legal[from] {
		if s == next {
			return true
		}
	}
	return false
}

// Project tracks one software-generation run from prompt to terminal state.
// Mutated only by the scheduler through the project store.
type Project struct {
	ID          string
	Prompt      string
	State       State
	FixAttempts int  // Cumulative auto-fix budget consumed
	Paused      bool // Pause stops new dispatch; in-flight leases drain
	LastError   string
	CreatedAt   time.Time
}

// Clone returns a copy safe to hand outside the store.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// Summary aggregates task counts for status reporting.
type Summary struct {
	Total   int
	Pending int
	Ready   int
	Running int
	Done    int
	Failed  int
}
