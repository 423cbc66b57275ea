package saga

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gofrs/uuid/v5"

	"github.com/korolkovko/Kiosk-RW/internal/domain"
	"github.com/korolkovko/Kiosk-RW/internal/fsm"
	"github.com/korolkovko/Kiosk-RW/internal/orchestrator"
)

// Kiosk command actions.
const (
	ActionRetryPayment           = "RETRY_PAYMENT"
	ActionChangeCard             = "CHANGE_CARD"
	ActionCancelOrder            = "CANCEL_ORDER"
	ActionRetryFiscalization     = "RETRY_FISCALIZATION"
	ActionRetryPrinting          = "RETRY_PRINTING"
	ActionAcceptAlternativeSlip  = "ACCEPT_ALTERNATIVE_RECEIPT"
	ActionDeclineAlternativeSlip = "DECLINE_ALTERNATIVE_RECEIPT"
)

// CommandResult is the acknowledgement returned to the kiosk. Ack reports
// whether the command was honored; State is the order's state after the
// command was processed.
type CommandResult struct {
	Ack         bool   `json:"ack"`
	State       string `json:"state"`
	Message     string `json:"message"`
	OperationID string `json:"operation_id"`
}

// retryStates maps each retry action to the state it re-invokes.
var retryStates = map[string]fsm.State{
	ActionRetryPayment:       fsm.StateAwaitingPayment,
	ActionChangeCard:         fsm.StateAwaitingPayment,
	ActionRetryFiscalization: fsm.StateInit,
	ActionRetryPrinting:      fsm.StateAwaitingPrinting,
}

// ExecuteCommand processes one kiosk command against the order.
//
// Cancel and the alternative-receipt decisions map onto FSM events submitted
// with actor CUSTOMER. Retries do not travel through the transition table:
// mapping RETRY_PAYMENT to PAYMENT_FAILED would terminate the order, so a
// retry is an in-place re-invocation of the state's entry handler, honored
// only while the order still occupies that state and the state allows
// retries.
func (h *Handler) ExecuteCommand(ctx context.Context, orderID int64, action, operationID string) (*CommandResult, error) {
	if operationID == "" {
		operationID = uuid.Must(uuid.NewV4()).String()
	}

	rt, err := h.store.GetRuntime(ctx, orderID)
	if err != nil {
		return nil, err
	}
	current, err := fsm.NormalizeState(rt.CurrentState)
	if err != nil {
		return nil, fmt.Errorf("order %d: %w", orderID, err)
	}

	logger := h.logger.With("order_id", orderID, "action", action, "operation_id", operationID)

	switch action {
	case ActionCancelOrder:
		return h.commandEvent(ctx, orderID, fsm.EventUserCanceled, operationID, logger)

	case ActionAcceptAlternativeSlip:
		return h.commandEvent(ctx, orderID, fsm.EventPrintingSucceeded, operationID, logger)

	case ActionDeclineAlternativeSlip:
		return h.commandEvent(ctx, orderID, fsm.EventPrintingFailedOrTimeout, operationID, logger)

	case ActionRetryPayment, ActionChangeCard, ActionRetryFiscalization, ActionRetryPrinting:
		want := retryStates[action]
		if current != want || !fsm.IsRetryAllowed(current) {
			logger.Warn("retry rejected", "state", current)
			return &CommandResult{
				Ack:         false,
				State:       string(current),
				Message:     fmt.Sprintf("%s is not available in state %s", action, current),
				OperationID: operationID,
			}, nil
		}
		logger.Info("retry accepted, re-invoking entry handler")
		go h.OnStateEntered(context.WithoutCancel(ctx), orderID, current)
		return &CommandResult{
			Ack:         true,
			State:       string(current),
			Message:     "retry started",
			OperationID: operationID,
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown command action %q", domain.ErrValidation, action)
	}
}

func (h *Handler) commandEvent(ctx context.Context, orderID int64, event fsm.Event, operationID string, logger *slog.Logger) (*CommandResult, error) {
	if h.submitter == nil {
		return nil, fmt.Errorf("no event submitter attached")
	}
	comment := "kiosk command " + operationID
	applied, err := h.submitter.Submit(ctx, orchestrator.Submission{
		OrderID: orderID,
		Event:   event,
		Actor:   domain.ActorCustomer,
		Comment: &comment,
	})
	if err != nil {
		return nil, err
	}

	rt, err := h.store.GetRuntime(ctx, orderID)
	if err != nil {
		return nil, err
	}

	result := &CommandResult{
		Ack:         applied,
		State:       rt.CurrentState,
		OperationID: operationID,
	}
	if applied {
		result.Message = "command applied"
		logger.Info("command applied", "event", event, "state", rt.CurrentState)
	} else {
		result.Message = fmt.Sprintf("event %s not valid in state %s", event, rt.CurrentState)
		logger.Warn("command rejected", "event", event, "state", rt.CurrentState)
	}
	return result, nil
}
