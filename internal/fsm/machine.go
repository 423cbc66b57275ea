package fsm

import (
	"fmt"

	"github.com/qmuntal/stateless"
)

// Machine wraps a stateless.StateMachine configured from the declarative
// transition table, anchored at a given current state. The orchestrator
// constructs one per submission; the database row remains the source of truth
// for the current state between submissions.
type Machine struct {
	sm *stateless.StateMachine
}

// NewMachine builds a Machine positioned at the given state.
func NewMachine(current State) *Machine {
	sm := stateless.NewStateMachine(stateless.State(current))
	for from, edges := range transitions {
		cfg := sm.Configure(stateless.State(from))
		for ev, to := range edges {
			cfg.Permit(stateless.Trigger(ev), stateless.State(to))
		}
	}
	return &Machine{sm: sm}
}

// CanFire reports whether the event is permitted in the current state.
func (m *Machine) CanFire(event Event) bool {
	ok, err := m.sm.CanFire(stateless.Trigger(event))
	return err == nil && ok
}

// Fire applies the event and returns the resulting state.
func (m *Machine) Fire(event Event) (State, error) {
	if err := m.sm.Fire(stateless.Trigger(event)); err != nil {
		return "", fmt.Errorf("invalid transition: %s from state %s", event, m.Current())
	}
	return m.Current(), nil
}

// Current returns the machine's current state.
func (m *Machine) Current() State {
	s, _ := m.sm.MustState().(State)
	return s
}
