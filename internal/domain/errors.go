package domain

import "errors"

// Error kinds surfaced by the core. The HTTP layer maps these onto status
// codes; everything else wraps them with fmt.Errorf("%w").
var (
	// ErrValidation marks bad input: unknown item, insufficient stock,
	// invalid status string.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a missing order, item or FSM runtime.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a uniqueness or state conflict.
	ErrConflict = errors.New("conflict")

	// ErrInvalidTransition marks an event not valid in the current state.
	// Recovered locally: logged, no state change.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrGatewayFailure marks a non-OK gateway outcome (DECLINED, ERROR,
	// TIMEOUT, UNAVAILABLE). Never surfaced synchronously to the kiosk.
	ErrGatewayFailure = errors.New("gateway failure")
)
