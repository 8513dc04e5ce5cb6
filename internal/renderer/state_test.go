package renderer

import (
	"errors"
	"testing"
)

func TestMachineHappyPaths(t *testing.T) {
	paths := [][]Phase{
		{PhaseValidating, PhaseInteractiveAttempt, PhaseInteractiveActive, PhaseComplete},
		{PhaseValidating, PhaseInteractiveAttempt, PhaseFallback, PhaseComplete},
		{PhaseValidating, PhaseFallback, PhaseComplete},
	}

	for _, path := range paths {
		m := NewMachine()
		for _, phase := range path {
			if err := m.Transition(phase); err != nil {
				t.Fatalf("path %v: Transition(%s) error = %v", path, phase, err)
			}
		}
		if !m.Terminal() {
			t.Errorf("path %v did not reach a terminal phase", path)
		}
		if got := len(m.History()); got != len(path) {
			t.Errorf("history length = %d, want %d", got, len(path))
		}
	}
}

func TestMachineRejectsIllegalMoves(t *testing.T) {
	tests := []struct {
		from []Phase
		to   Phase
	}{
		{nil, PhaseInteractiveAttempt},
		{nil, PhaseComplete},
		{[]Phase{PhaseValidating}, PhaseInteractiveActive},
		{[]Phase{PhaseValidating, PhaseFallback}, PhaseInteractiveAttempt},
	}

	for _, tt := range tests {
		m := NewMachine()
		for _, phase := range tt.from {
			if err := m.Transition(phase); err != nil {
				t.Fatalf("setup Transition(%s) error = %v", phase, err)
			}
		}
		if err := m.Transition(tt.to); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Transition(%s) from %v error = %v, want ErrInvalidTransition", tt.to, tt.from, err)
		}
	}
}

func TestMachineErroredFromAnywhere(t *testing.T) {
	setups := [][]Phase{
		nil,
		{PhaseValidating},
		{PhaseValidating, PhaseInteractiveAttempt},
		{PhaseValidating, PhaseInteractiveAttempt, PhaseInteractiveActive},
		{PhaseValidating, PhaseFallback},
	}

	for _, setup := range setups {
		m := NewMachine()
		for _, phase := range setup {
			if err := m.Transition(phase); err != nil {
				t.Fatalf("setup Transition(%s) error = %v", phase, err)
			}
		}
		if err := m.Transition(PhaseErrored); err != nil {
			t.Errorf("Transition(errored) from %v error = %v", setup, err)
		}
		if !m.Terminal() {
			t.Errorf("errored from %v not terminal", setup)
		}
	}
}
