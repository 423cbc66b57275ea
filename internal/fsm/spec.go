// Package fsm holds the declarative state machine spec for the kiosk order
// flow: canonical states and events, the transition table, per-state timeouts
// and the retry policy bits consumed by the command endpoint.
//
// Flow: INIT -> AWAITING_PAYMENT -> AWAITING_PRINTING -> AWAITING_KDS -> terminal.
// Fiscalization runs first, then payment, then receipt printing, then KDS.
package fsm

import (
	"fmt"
	"strings"
	"time"
)

// State is a canonical order FSM state.
type State string

// Event is a canonical order FSM trigger event.
type Event string

const (
	StateInit             State = "INIT"
	StateAwaitingPayment  State = "AWAITING_PAYMENT"
	StateAwaitingPrinting State = "AWAITING_PRINTING"
	StateAwaitingKDS      State = "AWAITING_KDS"

	// Terminal / failure branches
	StateCanceledByUser            State = "CANCELED_BY_USER"
	StateCanceledByTimeout         State = "CANCELED_BY_TIMEOUT"
	StateUnsuccessfulPayment       State = "UNSUCCESSFUL_PAYMENT"
	StatePrintingFailed            State = "PRINTING_FAILED"
	StateSentToKDS                 State = "SENT_TO_KDS"
	StateSentToKDSFailed           State = "SENT_TO_KDS_FAILED"
	StateUnsuccessfulFiscalization State = "UNSUCCESSFUL_FISCALIZATION"
)

const (
	EventFiscalizationSucceeded  Event = "FISCALIZATION_SUCCEEDED"
	EventFiscalizationFailed     Event = "FISCALIZATION_FAILED"
	EventPaymentSucceeded        Event = "PAYMENT_SUCCEEDED"
	EventUserCanceled            Event = "USER_CANCELED"
	EventInactivityTimeout       Event = "INACTIVITY_TIMEOUT"
	EventPaymentFailed           Event = "PAYMENT_FAILED"
	EventPrintingSucceeded       Event = "PRINTING_SUCCEEDED"
	EventPrintingFailedOrTimeout Event = "PRINTING_FAILED_OR_TIMEOUT"
	EventKDSConfirmation         Event = "KDS_CONFIRMATION"
	EventKDSErrorOrNoResponse    Event = "KDS_ERROR_OR_NO_RESPONSE"
)

func (s State) String() string { return string(s) }
func (e Event) String() string { return string(e) }

var allStates = []State{
	StateInit,
	StateAwaitingPayment,
	StateAwaitingPrinting,
	StateAwaitingKDS,
	StateCanceledByUser,
	StateCanceledByTimeout,
	StateUnsuccessfulPayment,
	StatePrintingFailed,
	StateSentToKDS,
	StateSentToKDSFailed,
	StateUnsuccessfulFiscalization,
}

var allEvents = []Event{
	EventFiscalizationSucceeded,
	EventFiscalizationFailed,
	EventPaymentSucceeded,
	EventUserCanceled,
	EventInactivityTimeout,
	EventPaymentFailed,
	EventPrintingSucceeded,
	EventPrintingFailedOrTimeout,
	EventKDSConfirmation,
	EventKDSErrorOrNoResponse,
}

// Aliases map historical state spellings (spaces, typos) onto canonical names.
// Kept for compatibility with data written by earlier revisions of the flow.
var stateAliases = map[string]State{
	"AWAITING PAYMENT":      StateAwaitingPayment,
	"AWAITING KDS":          StateAwaitingKDS,
	"PRINTING_FAILD":        StatePrintingFailed,
	"UNSUCCESSFULL_PAYMENT": StateUnsuccessfulPayment,
}

var eventAliases = map[string]Event{
	"PAYMENT_FAILD":             EventPaymentFailed,
	"PRINTING_FAILD_OR_TIMEOUT": EventPrintingFailedOrTimeout,
	"PRINTING_SUCEEDED":         EventPrintingSucceeded,
}

var stateSet = func() map[State]struct{} {
	m := make(map[State]struct{}, len(allStates))
	for _, s := range allStates {
		m[s] = struct{}{}
	}
	return m
}()

var eventSet = func() map[Event]struct{} {
	m := make(map[Event]struct{}, len(allEvents))
	for _, e := range allEvents {
		m[e] = struct{}{}
	}
	return m
}()

// NormalizeState maps an incoming or legacy state string onto its canonical
// State. Matching is case-insensitive and tolerates space-separated names.
func NormalizeState(name string) (State, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if _, ok := stateSet[State(n)]; ok {
		return State(n), nil
	}
	if s, ok := stateAliases[n]; ok {
		return s, nil
	}
	n2 := strings.ReplaceAll(n, " ", "_")
	if _, ok := stateSet[State(n2)]; ok {
		return State(n2), nil
	}
	return "", fmt.Errorf("unknown state: %q", name)
}

// NormalizeEvent maps an incoming or legacy event string onto its canonical
// Event.
func NormalizeEvent(name string) (Event, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if _, ok := eventSet[Event(n)]; ok {
		return Event(n), nil
	}
	if e, ok := eventAliases[n]; ok {
		return e, nil
	}
	n2 := strings.ReplaceAll(n, " ", "_")
	if _, ok := eventSet[Event(n2)]; ok {
		return Event(n2), nil
	}
	return "", fmt.Errorf("unknown event: %q", name)
}

// transitions[from][event] = to
var transitions = map[State]map[Event]State{
	StateInit: {
		EventFiscalizationSucceeded: StateAwaitingPayment,
		EventFiscalizationFailed:    StateUnsuccessfulFiscalization,
	},
	StateAwaitingPayment: {
		EventPaymentSucceeded:  StateAwaitingPrinting,
		EventUserCanceled:      StateCanceledByUser,
		EventInactivityTimeout: StateCanceledByTimeout,
		EventPaymentFailed:     StateUnsuccessfulPayment,
	},
	StateAwaitingPrinting: {
		EventPrintingSucceeded:       StateAwaitingKDS,
		EventPrintingFailedOrTimeout: StatePrintingFailed,
	},
	StateAwaitingKDS: {
		EventKDSConfirmation:      StateSentToKDS,
		EventKDSErrorOrNoResponse: StateSentToKDSFailed,
	},
}

// Advisory per-state timeouts. The orchestrator arms a safety-net timer for
// these; the saga step deadline is authoritative inside a handler.
var stateTimeouts = map[State]time.Duration{
	StateAwaitingPayment:  180 * time.Second,
	StateAwaitingPrinting: 60 * time.Second,
	StateAwaitingKDS:      20 * time.Second,
}

// Retry policy bit per state, checked by the command endpoint. It does not
// define transitions.
var allowRetry = map[State]bool{
	StateAwaitingPayment:  true,
	StateAwaitingPrinting: true,
	StateAwaitingKDS:      false,
}

// NextState returns the next state for (current, event), or false when the
// pair is not in the transition table.
func NextState(current State, event Event) (State, bool) {
	next, ok := transitions[current][event]
	return next, ok
}

// CanTransition reports whether (current, event) is a valid transition.
func CanTransition(current State, event Event) bool {
	_, ok := transitions[current][event]
	return ok
}

// ValidEvents lists the events accepted in the given state.
func ValidEvents(current State) []Event {
	edges := transitions[current]
	out := make([]Event, 0, len(edges))
	for e := range edges {
		out = append(out, e)
	}
	return out
}

// IsTerminal reports whether the state has no outgoing transitions.
func IsTerminal(s State) bool {
	return len(transitions[s]) == 0
}

// StateTimeout returns the advisory timeout for a state, if configured.
func StateTimeout(s State) (time.Duration, bool) {
	d, ok := stateTimeouts[s]
	return d, ok
}

// IsRetryAllowed reports whether the retry policy bit is set for the state.
func IsRetryAllowed(s State) bool {
	return allowRetry[s]
}

// States returns all canonical states.
func States() []State {
	out := make([]State, len(allStates))
	copy(out, allStates)
	return out
}

// TerminalStates returns the states with no outgoing transitions.
func TerminalStates() []State {
	var out []State
	for _, s := range allStates {
		if IsTerminal(s) {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks that every transition references a known state and event.
// Call once on startup.
func Validate() error {
	for from, edges := range transitions {
		if _, ok := stateSet[from]; !ok {
			return fmt.Errorf("transition table references unknown state %q", from)
		}
		for ev, to := range edges {
			if _, ok := eventSet[ev]; !ok {
				return fmt.Errorf("transition table references unknown event %q", ev)
			}
			if _, ok := stateSet[to]; !ok {
				return fmt.Errorf("transition (%s, %s) targets unknown state %q", from, ev, to)
			}
		}
	}
	for s, d := range stateTimeouts {
		if _, ok := stateSet[s]; !ok {
			return fmt.Errorf("timeout configured for unknown state %q", s)
		}
		if d <= 0 {
			return fmt.Errorf("non-positive timeout for state %q", s)
		}
	}
	for s := range allowRetry {
		if _, ok := stateSet[s]; !ok {
			return fmt.Errorf("retry policy configured for unknown state %q", s)
		}
	}
	return nil
}
