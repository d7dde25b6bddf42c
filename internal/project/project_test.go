package project

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, next State
		want       bool
	}{
		{StateNew, StatePlanning, true},
		{StatePlanning, StateCoding, true},
		{StatePlanning, StateTesting, true}, // Plan produced no codegen work
		{StatePlanning, StateReady, true},   // Plan produced nothing at all
		{StateCoding, StateTesting, true},
		{StateTesting, StateDebugging, true},
		{StateDebugging, StateTesting, true},
		{StateTesting, StateReady, true},
		{StateTesting, StateDeployed, true},

		// Every live state may fail.
		{StateNew, StateFailed, true},
		{StateDebugging, StateFailed, true},

		// Skips and reversals are illegal.
		{StateNew, StateCoding, false},
		{StateCoding, StatePlanning, false},
		{StateDebugging, StateReady, false},

		// Terminal states accept nothing.
		{StateReady, StateTesting, false},
		{StateDeployed, StateFailed, false},
		{StateFailed, StatePlanning, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.next); got != tt.want {
			t.Errorf("CanTransition(%v, %v) = %v, want %v", tt.from, tt.next, got, tt.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	terminal := map[State]bool{
		StateReady:    true,
		StateDeployed: true,
		StateFailed:   true,
	}
	for s := StateNew; s <= StateFailed; s++ {
		if got := s.Terminal(); got != terminal[s] {
			t.Errorf("%v.Terminal() = %v, want %v", s, got, terminal[s])
		}
	}
}
