// Package renderer orchestrates document rendering: validation, the
// interactive attempt with its time budget, the static fallback path, and
// the frame-paced application of surface updates.
package renderer

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Phase is the lifecycle state of one render.
type Phase string

const (
	PhaseCreated            Phase = "created"
	PhaseValidating         Phase = "validating"
	PhaseInteractiveAttempt Phase = "interactive_attempt"
	PhaseInteractiveActive  Phase = "interactive_active"
	PhaseFallback           Phase = "fallback"
	PhaseComplete           Phase = "complete"
	PhaseErrored            Phase = "errored"
)

// ErrInvalidTransition is returned for lifecycle moves the machine forbids.
var ErrInvalidTransition = errors.New("invalid phase transition")

// transitions is the closed set of legal moves. Errored is reachable from
// every phase; attempt to fallback is the only retry edge.
var transitions = map[Phase][]Phase{
	PhaseCreated:            {PhaseValidating},
	PhaseValidating:         {PhaseInteractiveAttempt, PhaseFallback},
	PhaseInteractiveAttempt: {PhaseInteractiveActive, PhaseFallback},
	PhaseInteractiveActive:  {PhaseComplete},
	PhaseFallback:           {PhaseComplete},
}

// Transition is one recorded lifecycle move.
type Transition struct {
	From Phase
	To   Phase
	At   time.Time
}

// Machine tracks the render lifecycle. Safe for concurrent use.
type Machine struct {
	mu      sync.RWMutex
	phase   Phase
	history []Transition
}

// NewMachine starts a machine in the created phase.
func NewMachine() *Machine {
	return &Machine{phase: PhaseCreated}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// History returns the recorded transitions in order.
func (m *Machine) History() []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Transition(nil), m.history...)
}

// Transition moves the machine to the given phase. Errored is always
// reachable; everything else follows the transition table.
func (m *Machine) Transition(to Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to != PhaseErrored && !allowed(m.phase, to) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, m.phase, to)
	}
	if m.phase == to {
		return nil
	}
	m.history = append(m.history, Transition{From: m.phase, To: to, At: time.Now()})
	m.phase = to
	return nil
}

// Terminal reports whether the machine reached a final phase.
func (m *Machine) Terminal() bool {
	phase := m.Phase()
	return phase == PhaseComplete || phase == PhaseErrored
}

func allowed(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
