// Package finitestate tracks the lifecycle of long-running runnables (the
// kiosk API server, the recovery pass) through the standard
// New/Booting/Running/Stopping/Stopped progression.
package finitestate

import (
	"context"
	"log/slog"
	"time"

	"github.com/robbyt/go-fsm"
)

const (
	StatusNew      = fsm.StatusNew
	StatusBooting  = fsm.StatusBooting
	StatusRunning  = fsm.StatusRunning
	StatusStopping = fsm.StatusStopping
	StatusStopped  = fsm.StatusStopped
	StatusError    = fsm.StatusError
	StatusUnknown  = fsm.StatusUnknown
)

// Machine is the lifecycle state machine contract used by the runnables.
type Machine interface {
	// Transition attempts to move the machine to the given state.
	Transition(state string) error

	// TransitionBool reports success instead of returning the error.
	TransitionBool(state string) bool

	// SetState forces the state, bypassing transition validation.
	SetState(state string) error

	// GetState returns the current state.
	GetState() string

	// GetStateChan emits the state on every change until ctx is canceled.
	GetStateChan(ctx context.Context) <-chan string
}

// lifecycleFSM wraps fsm.Machine with a sync broadcast channel so shutdown
// state updates are not lost.
type lifecycleFSM struct {
	*fsm.Machine
}

func (m *lifecycleFSM) GetStateChan(ctx context.Context) <-chan string {
	return m.GetStateChanWithOptions(ctx, fsm.WithSyncTimeout(5*time.Second))
}

// New creates a lifecycle machine starting in StatusNew.
func New(handler slog.Handler) (Machine, error) {
	machine, err := fsm.New(handler, StatusNew, fsm.TypicalTransitions)
	if err != nil {
		return nil, err
	}
	return &lifecycleFSM{Machine: machine}, nil
}
